package engine

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// WriteEntry writes one ls -l style line for the file or directory named by
// fullPath (used to resolve a symlink target) using name as the displayed
// name and info as its (lstat'd, so symlinks are not followed) metadata.
func WriteEntry(w io.Writer, fullPath, name string, info os.FileInfo) error {
	line := fmt.Sprintf("%s %d\tftp ftp %d\t%s %s",
		permGlyphs(info.Mode()),
		nlinkOf(info),
		info.Size(),
		info.ModTime().UTC().Format("Jan 02 15:04"),
		name,
	)

	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(fullPath); err == nil {
			line += " -> " + target
		}
	}

	_, err := fmt.Fprintf(w, "%s\r\n", line)
	return err
}

// WriteName writes a bare name line, for NLST.
func WriteName(w io.Writer, name string) error {
	_, err := fmt.Fprintf(w, "%s\r\n", name)
	return err
}

// permGlyphs renders the 10-character "-rwxrwxrwx" style permission string:
// a type glyph followed by three rwx triads, with setuid/setgid replacing
// the owner/group execute bit and the sticky bit replacing other-execute.
func permGlyphs(mode os.FileMode) string {
	b := []byte("----------")

	switch {
	case mode&os.ModeSymlink != 0:
		b[0] = 'l'
	case mode.IsDir():
		b[0] = 'd'
	case mode&os.ModeNamedPipe != 0:
		b[0] = 'p'
	case mode&os.ModeSocket != 0:
		b[0] = 's'
	case mode&os.ModeCharDevice != 0:
		b[0] = 'c'
	case mode&os.ModeDevice != 0:
		b[0] = 'b'
	case mode.IsRegular():
		b[0] = '-'
	default:
		b[0] = '?'
	}

	perm := mode.Perm()
	triad := func(idx int, r, w, x byte, read, write, exec os.FileMode) {
		if perm&read != 0 {
			b[idx] = r
		}
		if perm&write != 0 {
			b[idx+1] = w
		}
		if perm&exec != 0 {
			b[idx+2] = x
		}
	}
	triad(1, 'r', 'w', 'x', 0400, 0200, 0100)
	triad(4, 'r', 'w', 'x', 0040, 0020, 0010)
	triad(7, 'r', 'w', 'x', 0004, 0002, 0001)

	if mode&os.ModeSetuid != 0 {
		if b[3] == 'x' {
			b[3] = 's'
		} else {
			b[3] = 'S'
		}
	}
	if mode&os.ModeSetgid != 0 {
		if b[6] == 'x' {
			b[6] = 's'
		} else {
			b[6] = 'S'
		}
	}
	if mode&os.ModeSticky != 0 {
		if b[9] == 'x' {
			b[9] = 't'
		} else {
			b[9] = 'T'
		}
	}

	return string(b)
}

// nlinkOf extracts the hard-link count from platform-specific file metadata,
// falling back to 1 when it isn't available (e.g. synthetic FileInfo in
// tests).
func nlinkOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Nlink)
	}
	return 1
}
