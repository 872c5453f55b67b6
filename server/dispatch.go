package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"syscall"

	"github.com/rezroo/vhost-9pfs/p9"
)

// handlerFunc handles one request body (the common header has already been
// consumed) and is responsible for sending exactly one reply, success or
// Rlerror, via writeReply/writeError.
type handlerFunc func(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error

// handlers is the opcode dispatch table. Txattrwalk, Txattrcreate,
// Trenameat, Tunlinkat, Tauth, and the pre-.L open/create/stat family are
// deliberately absent: they draw Rlerror(EOPNOTSUPP) from dispatch.
var handlers = map[uint8]handlerFunc{
	p9.Tversion:  handleVersion,
	p9.Tattach:   handleAttach,
	p9.Tgetattr:  handleGetattr,
	p9.Tsetattr:  handleSetattr,
	p9.Tstatfs:   handleStatfs,
	p9.Twalk:     handleWalk,
	p9.Tclunk:    handleClunk,
	p9.Tlopen:    handleLopen,
	p9.Tlcreate:  handleLcreate,
	p9.Tread:     handleRead,
	p9.Twrite:    handleWrite,
	p9.Treaddir:  handleReaddir,
	p9.Tfsync:    handleFsync,
	p9.Tmkdir:    handleMkdir,
	p9.Tsymlink:  handleSymlink,
	p9.Tlink:     handleLink,
	p9.Treadlink: handleReadlink,
	p9.Tmknod:    handleMknod,
	p9.Trename:   handleRename,
	p9.Tremove:   handleRemove,
	p9.Tlock:     handleLock,
	p9.Tgetlock:  handleGetlock,
	p9.Tflush:    handleFlush,
}

// dispatch routes one request to its handler. Tread and Twrite handlers
// read their fid/offset/count header straight off the connection and move
// payload bytes directly between the connection and the file handle,
// skipping the intermediate body PDU every other opcode goes through.
func dispatch(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	h, ok := handlers[hdr.id]
	if !ok {
		if err := discardBody(r, hdr); err != nil {
			return err
		}
		return writeError(w, hdr.tag, syscall.EOPNOTSUPP)
	}
	err := h(ctx, sess, r, w, hdr)
	if errors.Is(err, p9.ErrShortBuffer) {
		// The body was read in full but did not decode; the stream is
		// still in sync, so the request is answered with Rlerror.
		return writeError(w, hdr.tag, syscall.EINVAL)
	}
	return err
}

func discardBody(r *bufio.Reader, hdr commonHeader) error {
	n := int64(hdr.size) - int64(p9.CommonHeaderSize)
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
