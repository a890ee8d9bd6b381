package engine

import (
	"bufio"
	"io"
	"strings"
)

// MaxCommandLength bounds a single command line the same way the original
// daemon's "paranoia" 8 KiB cap does: a peer that sends more never makes us
// grow an unbounded buffer, it just loses the tail of its own command.
const MaxCommandLength = 8 * 1024

// Command is one parsed control-channel line: a verb (uppercase-folded) and
// everything after the first space as its argument.
type Command struct {
	Verb  string
	Arg   string
	Token uint32
}

// FoldVerb encodes a verb the way the original C daemon does: each byte is
// upper-cased by clearing bit 0x20 and folded into a 32-bit accumulator by
// shifting 8 bits per byte. Verbs of different case fold to the same token;
// verbs longer than four characters simply overflow the accumulator, which
// is fine since no real command is longer than four letters and an overflowed
// token will never collide with a known one in practice.
func FoldVerb(verb string) uint32 {
	var tok uint32
	for i := 0; i < len(verb); i++ {
		tok = tok<<8 + uint32(verb[i]&^0x20)
	}
	return tok
}

// CommandReader reads CRLF-terminated command lines off the control channel.
type CommandReader struct {
	r *bufio.Reader
}

// NewCommandReader wraps r for command-line reading.
func NewCommandReader(r io.Reader) *CommandReader {
	return &CommandReader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadCommand reads one line, splits it into verb and argument, and folds
// the verb into a dispatch token. It returns io.EOF when the control channel
// is closed before a full line arrives, which callers should treat as a
// clean session end.
func (cr *CommandReader) ReadCommand() (Command, error) {
	line, err := cr.readLine()
	if err != nil {
		return Command{}, err
	}

	line = strings.TrimRight(line, "\r")

	verb := line
	arg := ""
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		verb = line[:idx]
		arg = line[idx+1:]
	}

	return Command{
		Verb:  strings.ToUpper(verb),
		Arg:   arg,
		Token: FoldVerb(verb),
	}, nil
}

// readLine reads up to the first LF, stripping it. Bytes past
// MaxCommandLength are discarded rather than buffered, but are still
// consumed from the stream so the next command starts at the right place.
func (cr *CommandReader) readLine() (string, error) {
	var buf []byte
	truncated := false

	for {
		b, err := cr.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return string(buf), nil
		}
		if len(buf) >= MaxCommandLength {
			truncated = true
		}
		if !truncated {
			buf = append(buf, b)
		}
	}
}
