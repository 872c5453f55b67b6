// Package server implements the 9P2000.L dispatch engine: connection
// framing, opcode routing, and the operation handlers that translate wire
// requests into calls on a vfs.FS. Requests on one connection are handled
// one at a time, in arrival order; replies are emitted in the same order.
package server

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	"github.com/rezroo/vhost-9pfs/fid"
)

// errno maps a Go error from a vfs.FS call (or the fid table) to the
// positive POSIX errno value carried in Rlerror, unwrapping through
// wrapped causes and os/io-fs sentinel errors.
func errno(err error) uint32 {
	if err == nil {
		return 0
	}
	var errnoErr syscall.Errno
	if errors.As(err, &errnoErr) {
		return uint32(errnoErr)
	}
	switch {
	case errors.Is(err, fid.ErrNotFound):
		return uint32(syscall.ENOENT)
	case errors.Is(err, fid.ErrAlreadyExists):
		return uint32(syscall.EEXIST)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, fs.ErrNotExist):
		return uint32(syscall.ENOENT)
	case errors.Is(err, os.ErrExist), errors.Is(err, fs.ErrExist):
		return uint32(syscall.EEXIST)
	case errors.Is(err, os.ErrPermission), errors.Is(err, fs.ErrPermission):
		return uint32(syscall.EACCES)
	default:
		return uint32(syscall.EIO)
	}
}
