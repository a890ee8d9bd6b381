package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gonzalop/ftpd/internal/nbopen"
)

// TransferEngine drives the data-channel half of a command: it asks a
// DataEndpoint for a socket, streams bytes (or directory text) across it,
// and reports the result on the control channel. Every data-channel method
// disposes the data socket and clears the DataEndpoint before returning, on
// both the success and failure paths, and sends its final transfer reply only
// after the socket is disposed. Retr, Stor, Appe and Stou also clear
// restart_pos.
type TransferEngine struct {
	Data      *DataEndpoint
	Reply     *Responder
	RestartAt int64 // consumed (and reset to 0) by Retr, Stor, Appe, Stou
}

// clearRestart resets the restart offset and returns the value it held, the
// way REST's one-shot effect is supposed to work: it only ever applies to the
// very next RETR/STOR/APPE/STOU.
func (t *TransferEngine) clearRestart() int64 {
	off := t.RestartAt
	t.RestartAt = 0
	return off
}

// Retr streams path out over the data channel, honoring any pending REST
// offset. name is the value echoed in the 150 reply.
func (t *TransferEngine) Retr(path, name string) error {
	offset := t.clearRestart()
	defer t.Data.Clear()

	f, err := nbopen.Open(path)
	if err != nil {
		return t.Reply.Error(550)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return t.Reply.Reply(550, name+": not a regular file")
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return t.Reply.Reply(550, name+": seek failed")
		}
	}

	conn, err := t.Data.AcceptOrConnect()
	if err != nil {
		return t.Reply.Reply(425, "Can't open data connection")
	}
	defer func() {
		Dispose(conn)
		t.Data.Clear()
	}()

	if err := t.Reply.Reply(150, fmt.Sprintf("Opening BINARY mode data connection for %s (%d bytes)", name, info.Size()-offset)); err != nil {
		return err
	}

	_, err = io.Copy(conn, f)
	Dispose(conn)
	conn = nil
	if err != nil {
		return t.Reply.Error(451)
	}
	return t.Reply.Ok(226)
}

// uploadKind mirrors the original daemon's distinction between STOR
// (truncate or create), APPE (create, append) and STOU (must not already
// exist).
type uploadKind int

const (
	UploadStor uploadKind = iota
	UploadAppe
	UploadStou
)

// Stor, Appe and Stou all funnel through store: only the open-flag policy
// and the 150/reply text differ between them.
func (t *TransferEngine) store(kind uploadKind, path, name string) error {
	offset := t.clearRestart()
	defer t.Data.Clear()
	if kind == UploadAppe {
		offset = 0 // APPE always appends at EOF, REST before it is ignored
	}

	var (
		f        *os.File
		err      error
		realName = name
	)

	switch kind {
	case UploadStor:
		flags := os.O_WRONLY | os.O_CREATE
		if offset == 0 {
			flags |= os.O_TRUNC
		}
		f, err = os.OpenFile(path, flags, 0666)
	case UploadAppe:
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	case UploadStou:
		f, err = os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".")
		if err == nil {
			realName = filepath.Base(f.Name())
		}
	}
	if err != nil {
		return t.Reply.Error(553)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return t.Reply.Reply(553, name+": seek failed")
		}
	}

	conn, err := t.Data.AcceptOrConnect()
	if err != nil {
		return t.Reply.Reply(425, "Can't open data connection")
	}
	defer func() {
		Dispose(conn)
		t.Data.Clear()
	}()

	msg := fmt.Sprintf("Opening BINARY mode data connection for %s", realName)
	if kind == UploadStou {
		msg = fmt.Sprintf("FILE: %s", realName)
	}
	if err := t.Reply.Reply(150, msg); err != nil {
		return err
	}

	_, err = io.Copy(f, conn)
	Dispose(conn)
	conn = nil
	if err != nil {
		return t.Reply.Error(451)
	}
	return t.Reply.Ok(226)
}

func (t *TransferEngine) Stor(path, name string) error { return t.store(UploadStor, path, name) }
func (t *TransferEngine) Appe(path, name string) error { return t.store(UploadAppe, path, name) }
func (t *TransferEngine) Stou(path, name string) error { return t.store(UploadStou, path, name) }

// dirEntries lists a directory's contents, lstat'd, skipping "." and "..",
// sorted by name for deterministic output.
func dirEntries(dir string) ([]string, []os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	names := make([]string, 0, len(entries))
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		info, err := os.Lstat(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		names = append(names, e.Name())
		infos = append(infos, info)
	}
	return names, infos, nil
}

// List writes an ls -l style listing of path (a file or a directory) over
// the data channel. If path cannot be lstat'd, the original daemon still
// replies 226 with no data at all, a quirk preserved here: a client LISTing
// a name that vanished between resolution and the stat gets a deceptively
// clean reply rather than an error.
func (t *TransferEngine) List(path string) error {
	return t.emit(path, func(w io.Writer) error {
		info, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return WriteEntry(w, path, filepath.Base(path), info)
		}
		names, infos, err := dirEntries(path)
		if err != nil {
			return nil
		}
		for i, name := range names {
			if err := WriteEntry(w, filepath.Join(path, name), name, infos[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Nlst writes bare file names, one per line, the same way List does but
// without permission/size/time fields.
func (t *TransferEngine) Nlst(path string) error {
	return t.emit(path, func(w io.Writer) error {
		info, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return WriteName(w, filepath.Base(path))
		}
		names, _, err := dirEntries(path)
		if err != nil {
			return nil
		}
		for _, name := range names {
			if err := WriteName(w, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// emit is the common preamble+body+trailer for data-channel commands that
// write generated text rather than copy a file: accept or connect, send the
// 150, run body, dispose the socket, send the final reply.
func (t *TransferEngine) emit(path string, body func(io.Writer) error) error {
	defer t.Data.Clear()
	conn, err := t.Data.AcceptOrConnect()
	if err != nil {
		return t.Reply.Reply(425, "Can't open data connection")
	}
	defer func() {
		Dispose(conn)
		t.Data.Clear()
	}()

	if err := t.Reply.Reply(150, "Here comes the directory listing"); err != nil {
		return err
	}

	err = body(conn)
	Dispose(conn)
	conn = nil
	if err != nil {
		return t.Reply.Error(451)
	}
	return t.Reply.Ok(226)
}

// StatListing renders a control-channel-framed listing of path for STAT
// with an argument: unlike List/Nlst it never touches the data channel and
// it surfaces a stat failure as an error instead of the quirky empty-226.
func (t *TransferEngine) StatListing(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("213-Status follows:\r\n")
	if !info.IsDir() {
		if err := WriteEntry(&b, path, filepath.Base(path), info); err != nil {
			return "", err
		}
	} else {
		names, infos, err := dirEntries(path)
		if err != nil {
			return "", err
		}
		for i, name := range names {
			if err := WriteEntry(&b, filepath.Join(path, name), name, infos[i]); err != nil {
				return "", err
			}
		}
	}
	b.WriteString("213 Operation successful\r\n")
	return b.String(), nil
}

// ErrDataUnavailable is not returned by any function in this package; a
// missing PASV/PORT arrangement is reported by AcceptOrConnect as
// ErrDataNotArmed.
var ErrDataUnavailable = errors.New("engine: data connection unavailable")
