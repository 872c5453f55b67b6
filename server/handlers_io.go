package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"syscall"

	"github.com/rezroo/vhost-9pfs/p9"
	"github.com/rezroo/vhost-9pfs/vfs"
)

func handleLopen(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var flags uint32
	if err := pdu.ReadF("dd", &clientFid, &flags); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File != nil {
		return writeError(w, hdr.tag, syscall.EBUSY)
	}
	f, err := sess.FS.Open(e.Path, p9.SanitizeOpenFlags(flags))
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, _, err := sess.qidOf(e.Path)
	if err != nil {
		sess.FS.Close(f)
		return writeError(w, hdr.tag, err)
	}
	e.File = f

	body := p9.NewPDU(p9.QidSize + 4)
	body.WriteF("Qd", qid, uint32(0))
	return writeReply(w, p9.Rlopen, hdr.tag, body)
}

// handleLcreate retargets the directory fid onto the file it creates: on
// success, clientFid stops referring to the directory and instead refers
// to the new file, open handle and all. A client that still needs the
// directory must keep a separate fid for it.
func handleLcreate(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var name string
	var flags, mode, gid uint32
	if err := pdu.ReadF("dsddd", &clientFid, &name, &flags, &mode, &gid); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File != nil {
		return writeError(w, hdr.tag, syscall.EBUSY)
	}
	newPath, f, err := sess.FS.Create(e.Path, name, p9.SanitizeOpenFlags(flags), mode, gid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, _, err := sess.qidOf(newPath)
	if err != nil {
		sess.FS.Close(f)
		return writeError(w, hdr.tag, err)
	}
	e.Path = newPath
	e.File = f

	body := p9.NewPDU(p9.QidSize + 4)
	body.WriteF("Qd", qid, uint32(0))
	return writeReply(w, p9.Rlcreate, hdr.tag, body)
}

// ioHeader holds the fid/offset/count triple shared by Tread and Twrite.
type ioHeader struct {
	fid    uint32
	offset uint64
	count  uint32
}

func readIOHeader(r io.Reader) (ioHeader, error) {
	var buf [p9.IoHeaderSize - p9.CommonHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ioHeader{}, err
	}
	return ioHeader{
		fid:    binary.LittleEndian.Uint32(buf[0:4]),
		offset: binary.LittleEndian.Uint64(buf[4:12]),
		count:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// handleRead streams the reply's data payload directly to the connection
// instead of copying it through an intermediate reply PDU. The count is
// capped so the finished reply never exceeds the negotiated msize.
func handleRead(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	ioh, err := readIOHeader(r)
	if err != nil {
		return err
	}

	e, err := sess.fids.Lookup(ioh.fid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File == nil {
		return writeError(w, hdr.tag, syscall.EBADF)
	}

	limit := ioh.count
	if max := sess.msize - (p9.CommonHeaderSize + 4); limit > max {
		limit = max
	}
	buf := make([]byte, limit)
	n, err := sess.FS.Read(e.File, buf, int64(ioh.offset))
	if err != nil {
		return writeError(w, hdr.tag, err)
	}

	var head [p9.CommonHeaderSize + 4]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(p9.CommonHeaderSize+4+n))
	head[4] = p9.Rread
	binary.LittleEndian.PutUint16(head[5:7], hdr.tag)
	binary.LittleEndian.PutUint32(head[7:11], uint32(n))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err = w.Write(buf[:n])
	return err
}

// handleWrite reads the request's data payload directly from the
// connection into a buffer sized for exactly this call, then writes it
// through the FS in one call.
func handleWrite(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	ioh, err := readIOHeader(r)
	if err != nil {
		return err
	}
	buf := make([]byte, ioh.count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(ioh.fid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File == nil {
		return writeError(w, hdr.tag, syscall.EBADF)
	}
	n, err := sess.FS.Write(e.File, buf, int64(ioh.offset))
	if err != nil {
		return writeError(w, hdr.tag, err)
	}

	body := p9.NewPDU(4)
	body.WriteF("d", uint32(n))
	return writeReply(w, p9.Rwrite, hdr.tag, body)
}

// handleReaddir fills the reply with directory entries, each carried as
// qid[13] offset[8] d_type[1] name[s]. An entry is held back until the
// next callback confirms the remaining byte budget still covers it, so a
// batch never ends with a truncated entry; the held-back last entry is
// emitted after iteration ends. Each entry's offset field is the cursor
// that resumes iteration just past that entry.
func handleReaddir(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var offset uint64
	var count uint32
	if err := pdu.ReadF("dqd", &clientFid, &offset, &count); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File == nil {
		return writeError(w, hdr.tag, syscall.EBADF)
	}
	if max := sess.msize - (p9.CommonHeaderSize + 4); count > max {
		count = max
	}

	body := p9.NewPDU(int(count))
	budget := count
	var pending vfs.DirEntry
	var pendingQid p9.Qid
	havePending := false

	flush := func() bool {
		if !havePending {
			return true
		}
		entrySize := uint32(p9.QidSize + 8 + 1 + 2 + len(pending.Name))
		if entrySize > budget {
			return false
		}
		body.WriteF("Qqbs", pendingQid, pending.Offset, pending.DType, pending.Name)
		budget -= entrySize
		havePending = false
		return true
	}

	err = sess.FS.IterateDir(e.File, offset, func(de vfs.DirEntry) bool {
		if !flush() {
			return true
		}
		qid, ok := sess.dirEntryQid(e.Path, de)
		if !ok {
			// Entry vanished between listing and stat; skip it.
			return false
		}
		pending = de
		pendingQid = qid
		havePending = true
		return false
	})
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	flush()

	header := p9.NewPDU(4)
	header.WriteF("d", body.Size)
	return writeReply(w, p9.Rreaddir, hdr.tag, joinPDU(header, body))
}

// dirEntryQid resolves one directory entry to a path and derives its qid:
// "." is the directory itself, ".." its parent (which the FS clamps at the
// exported root), anything else a single-component lookup.
func (s *Session) dirEntryQid(dir vfs.Path, de vfs.DirEntry) (p9.Qid, bool) {
	var p vfs.Path
	switch de.Name {
	case ".":
		p = dir
	case "..":
		p = s.FS.Parent(dir)
	default:
		var err error
		p, err = s.FS.LookupOne(dir, de.Name)
		if err != nil {
			return p9.Qid{}, false
		}
	}
	qid, _, err := s.qidOf(p)
	if err != nil {
		return p9.Qid{}, false
	}
	return qid, true
}

func joinPDU(header, body *p9.PDU) *p9.PDU {
	out := p9.NewPDU(int(header.Size + body.Size))
	out.PutRaw(header.Bytes())
	out.PutRaw(body.Bytes())
	return out
}

func handleFsync(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var datasyncFlag uint32
	if err := pdu.ReadF("dd", &clientFid, &datasyncFlag); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if e.File == nil {
		return writeError(w, hdr.tag, syscall.EBADFD)
	}
	if err := sess.FS.Fsync(e.File, datasyncFlag != 0); err != nil {
		return writeError(w, hdr.tag, err)
	}
	return writeReply(w, p9.Rfsync, hdr.tag, p9.NewPDU(0))
}
