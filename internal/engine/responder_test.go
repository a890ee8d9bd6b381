package engine

import (
	"bytes"
	"regexp"
	"testing"
)

var replyFraming = regexp.MustCompile(`^\d{3}[ -][^\n]*\r\n$`)

func TestReplyFraming(t *testing.T) {
	var buf bytes.Buffer
	r := NewResponder(&buf)

	if err := r.Reply(226, "Operation successful"); err != nil {
		t.Fatal(err)
	}
	if !replyFraming.MatchString(buf.String()) {
		t.Fatalf("reply %q does not match framing pattern", buf.String())
	}
}

func TestReplyEscapesTelnetIAC(t *testing.T) {
	var buf bytes.Buffer
	r := NewResponder(&buf)

	if err := r.Reply(226, "a\xffb"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte{0xff, 0xff}) {
		t.Fatalf("0xFF byte was not doubled: %q", buf.Bytes())
	}
}

func TestReplyReplacesEmbeddedLF(t *testing.T) {
	var buf bytes.Buffer
	r := NewResponder(&buf)

	if err := r.Reply(226, "line one\nline two"); err != nil {
		t.Fatal(err)
	}
	out := buf.Bytes()
	// Only the trailing CRLF should contain a raw LF; every other LF in the
	// message must have become a NUL.
	body := out[:len(out)-2]
	if bytes.ContainsRune(body, '\n') {
		t.Fatalf("embedded LF survived: %q", out)
	}
	if !bytes.ContainsRune(body, 0) {
		t.Fatalf("embedded LF was not replaced with NUL: %q", out)
	}
}

func TestOkAndError(t *testing.T) {
	var buf bytes.Buffer
	r := NewResponder(&buf)

	if err := r.Ok(226); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "226 Operation successful\r\n" {
		t.Fatalf("Ok(226) = %q", got)
	}

	buf.Reset()
	if err := r.Error(500); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "500 Error\r\n" {
		t.Fatalf("Error(500) = %q", got)
	}
}
