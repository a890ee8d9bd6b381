// Package nbopen opens regular files the way a pre-fork FTP daemon does:
// non-blocking first, so a client can't wedge the session by naming a device
// node or FIFO, then cleared back to blocking mode once the descriptor is in
// hand so ordinary reads behave normally.
package nbopen

import (
	"os"

	"golang.org/x/sys/unix"
)

// Open opens path read-only with O_NONBLOCK set, then clears O_NONBLOCK on
// the resulting descriptor before returning it as an *os.File. Copying from
// the returned file with O_NONBLOCK still set would make DMAPI-style
// filesystems (and some device nodes) behave unpredictably, so callers must
// not skip the clear step -- which is why it happens here, not in the
// caller.
func Open(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		unix.Close(fd)
		return nil, &os.PathError{Op: "fcntl", Path: path, Err: err}
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, &os.PathError{Op: "fcntl", Path: path, Err: err}
	}

	return os.NewFile(uintptr(fd), path), nil
}
