package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Responder formats and writes numeric-status replies on the control
// channel. Every write is flushed immediately: FTP clients read a reply
// before sending the next command, so buffering across commands would just
// add latency, never throughput.
type Responder struct {
	w *bufio.Writer
}

// NewResponder wraps w for reply formatting.
func NewResponder(w io.Writer) *Responder {
	return &Responder{w: bufio.NewWriter(w)}
}

// escape doubles Telnet IAC (0xFF) bytes and replaces embedded LF with NUL,
// per the control channel's nominal (if never actually negotiated) Telnet
// framing.
func escape(message string) string {
	message = strings.ReplaceAll(message, "\xff", "\xff\xff")
	message = strings.ReplaceAll(message, "\n", "\x00")
	return message
}

// Reply sends "<status> <message>\r\n", Telnet-escaped.
func (r *Responder) Reply(status int, message string) error {
	if _, err := fmt.Fprintf(r.w, "%d %s\r\n", status, escape(message)); err != nil {
		return err
	}
	return r.w.Flush()
}

// Ok sends a generic success reply for status.
func (r *Responder) Ok(status int) error {
	return r.Reply(status, "Operation successful")
}

// Error sends a generic failure reply for status.
func (r *Responder) Error(status int) error {
	return r.Reply(status, "Error")
}

// Raw writes a pre-formatted multi-line reply (e.g. HELP, STAT) verbatim.
// The caller is responsible for CRLF line endings and the trailing line's
// space separator.
func (r *Responder) Raw(text string) error {
	if _, err := r.w.WriteString(text); err != nil {
		return err
	}
	return r.w.Flush()
}
