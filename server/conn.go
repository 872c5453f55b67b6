package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/rezroo/vhost-9pfs/p9"
	"github.com/rezroo/vhost-9pfs/vfs"
)

// ServeConn runs the request loop for a single connection: read the common
// header, dispatch to the opcode's handler, send exactly one reply, repeat.
// Every request is handled to completion before the next is read, so the
// session's fid table is only ever touched from this goroutine.
func ServeConn(ctx context.Context, conn net.Conn, fs vfs.FS, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	r := bufio.NewReaderSize(conn, DefaultMsize)
	sess := NewSession(fs, log, 0)

	for {
		hdr, err := readCommon(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		log.Debug("request", zap.Uint8("op", hdr.id), zap.Uint16("tag", hdr.tag), zap.Uint32("size", hdr.size))
		if err := dispatch(ctx, sess, r, conn, hdr); err != nil {
			return err
		}
	}
}

// commonHeader is the 7-byte envelope shared by every 9P message:
// size[4] type[1] tag[2], with size counting itself.
type commonHeader struct {
	size uint32
	id   uint8
	tag  uint16
}

func readCommon(r io.Reader) (commonHeader, error) {
	var buf [p9.CommonHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return commonHeader{}, err
	}
	return commonHeader{
		size: binary.LittleEndian.Uint32(buf[0:4]),
		id:   buf[4],
		tag:  binary.LittleEndian.Uint16(buf[5:7]),
	}, nil
}

// readBody reads the message body following the common header into a PDU
// ready for ReadF, for every opcode except Tread/Twrite, whose handlers
// consume the connection directly.
func readBody(r io.Reader, hdr commonHeader) (*p9.PDU, error) {
	bodyLen := hdr.size - p9.CommonHeaderSize
	buf := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	pdu := p9.NewPDUFromBytes(buf)
	pdu.ID = hdr.id
	pdu.Tag = hdr.tag
	return pdu, nil
}

// writeReply frames and sends a fully-built reply body, patching the total
// message size into the 4-byte length prefix.
func writeReply(w io.Writer, id uint8, tag uint16, body *p9.PDU) error {
	out := p9.NewPDU(int(p9.CommonHeaderSize) + int(body.Size))
	out.WriteF("dbw", uint32(p9.CommonHeaderSize)+body.Size, id, tag)
	out.PutRaw(body.Bytes())
	_, err := w.Write(out.Bytes())
	return err
}

// writeError sends Rlerror carrying err's POSIX errno. Every failed request
// gets exactly one of these.
func writeError(w io.Writer, tag uint16, err error) error {
	body := p9.NewPDU(4)
	body.WriteF("d", errno(err))
	return writeReply(w, p9.Rlerror, tag, body)
}

// handleVersion echoes the client's msize and, when the proposed dialect is
// understood, its version string; any other dialect is answered with
// "unknown". Version never fails.
func handleVersion(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var msize uint32
	var version string
	if err := pdu.ReadF("ds", &msize, &version); err != nil {
		return err
	}
	if version != p9.VersionL {
		body := p9.NewPDU(16 + len(p9.VersionUnknown))
		body.WriteF("ds", msize, p9.VersionUnknown)
		return writeReply(w, p9.Rversion, hdr.tag, body)
	}
	if msize >= p9.IoHeaderSize {
		sess.msize = msize
	}
	body := p9.NewPDU(16 + len(p9.VersionL))
	body.WriteF("ds", msize, p9.VersionL)
	return writeReply(w, p9.Rversion, hdr.tag, body)
}
