package server

import (
	"bufio"
	"context"
	"io"

	"github.com/rezroo/vhost-9pfs/fid"
	"github.com/rezroo/vhost-9pfs/p9"
)

// handleAttach binds fid to the session root and records the attaching
// uid. A fid that already exists is reused as-is rather than rebound.
// There is no auth handshake, so afid is read and ignored.
func handleAttach(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid, afid uint32
	var uname, aname string
	var nUname uint32
	if err := pdu.ReadF("ddssd", &clientFid, &afid, &uname, &aname, &nUname); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	created := false
	if err != nil {
		e, err = sess.fids.Insert(clientFid, nUname, sess.FS.Root())
		if err != nil {
			return writeError(w, hdr.tag, err)
		}
		created = true
	}
	sess.Uid = nUname

	qid, _, err := sess.qidOf(e.Path)
	if err != nil {
		if created {
			sess.fids.Remove(clientFid)
		}
		return writeError(w, hdr.tag, err)
	}

	body := p9.NewPDU(p9.QidSize)
	body.WriteF("Q", qid)
	return writeReply(w, p9.Rattach, hdr.tag, body)
}

func handleGetattr(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var requestMask uint64
	if err := pdu.ReadF("dq", &clientFid, &requestMask); err != nil {
		return err
	}
	// request_mask is accepted and ignored; the reply always carries the
	// full basic stat group.
	_ = requestMask

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, attr, err := sess.qidOf(e.Path)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}

	body := p9.NewPDU(256)
	body.WriteF("qQdddqqqqqqqqqqqqqqq",
		p9.StatsBasic,
		qid,
		attr.Mode,
		attr.Uid,
		attr.Gid,
		attr.Nlink,
		attr.Rdev,
		attr.Size,
		attr.Blksize,
		attr.Blocks,
		uint64(attr.Atime.Unix()), uint64(attr.Atime.UnixNano()%1e9),
		uint64(attr.Mtime.Unix()), uint64(attr.Mtime.UnixNano()%1e9),
		uint64(attr.Ctime.Unix()), uint64(attr.Ctime.UnixNano()%1e9),
		uint64(0), uint64(0), // btime
		uint64(0), // gen
		uint64(0), // data_version
	)
	return writeReply(w, p9.Rgetattr, hdr.tag, body)
}

// handleSetattr honors only the size bit, truncating through the FS; the
// mode/uid/gid/time bits are decoded and silently dropped.
func handleSetattr(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var valid uint32
	var mode, uid, gid uint32
	var size uint64
	var atimeSec, atimeNsec, mtimeSec, mtimeNsec uint64
	if err := pdu.ReadF("dddddqqqqq", &clientFid, &valid, &mode, &uid, &gid, &size,
		&atimeSec, &atimeNsec, &mtimeSec, &mtimeNsec); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}

	if valid&p9.AttrSize != 0 {
		if err := sess.FS.Truncate(e.Path, size); err != nil {
			return writeError(w, hdr.tag, err)
		}
	}

	return writeReply(w, p9.Rsetattr, hdr.tag, p9.NewPDU(0))
}

func handleStatfs(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	if err := pdu.ReadF("d", &clientFid); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	st, err := sess.FS.Statfs(e.Path)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	fsid := uint64(st.FsidLo) | uint64(st.FsidHi)<<32
	body := p9.NewPDU(128)
	body.WriteF("ddqqqqqqd",
		st.Type, st.Bsize, st.Blocks, st.Bfree, st.Bavail,
		st.Files, st.Ffree, fsid, st.Namelen)
	return writeReply(w, p9.Rstatfs, hdr.tag, body)
}

// handleWalk resolves a chain of path components starting at an existing
// fid and associates the result with newfid, which must not already be in
// use unless it is fid itself. ".." is never resolved: the walk simply
// stops there, so a client cannot ascend past the point its fid already
// names. A walk that cannot take even its first step reports the lookup
// error; one that stops later reports the qids of the steps it did take
// and leaves all fids untouched.
func handleWalk(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid, newFid uint32
	var nwname uint16
	if err := pdu.ReadF("ddw", &clientFid, &newFid, &nwname); err != nil {
		return err
	}
	names := make([]string, nwname)
	for i := range names {
		if err := pdu.ReadF("s", &names[i]); err != nil {
			return err
		}
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	// A newfid that differs from fid must be free, checked before any
	// path component is resolved so a bound newfid fails EEXIST even
	// when the walk itself would fail.
	if newFid != clientFid {
		if _, err := sess.fids.Lookup(newFid); err == nil {
			return writeError(w, hdr.tag, fid.ErrAlreadyExists)
		}
	}

	cur := e.Path
	qids := make([]p9.Qid, 0, len(names))
	var stepErr error
	for _, name := range names {
		if name == ".." {
			break
		}
		next, err := sess.FS.LookupOne(cur, name)
		if err != nil {
			stepErr = err
			break
		}
		qid, _, err := sess.qidOf(next)
		if err != nil {
			stepErr = err
			break
		}
		cur = next
		qids = append(qids, qid)
	}

	if len(qids) == 0 && stepErr != nil {
		return writeError(w, hdr.tag, stepErr)
	}

	if len(qids) == len(names) {
		// Full walk (or a zero-length fid clone): bind the result.
		if clientFid == newFid {
			e.Path = cur
		} else if _, err := sess.fids.Insert(newFid, e.Uid, cur); err != nil {
			return writeError(w, hdr.tag, err)
		}
	}

	replyQids := qids
	if len(names) == 0 {
		qid, _, err := sess.qidOf(cur)
		if err != nil {
			return writeError(w, hdr.tag, err)
		}
		replyQids = []p9.Qid{qid}
	}

	body := p9.NewPDU(8 + p9.QidSize*len(replyQids))
	body.WriteF("w", uint16(len(replyQids)))
	for _, q := range replyQids {
		body.WriteF("Q", q)
	}
	return writeReply(w, p9.Rwalk, hdr.tag, body)
}

func handleClunk(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	if err := pdu.ReadF("d", &clientFid); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err == nil && e.File != nil {
		sess.FS.Close(e.File)
	}
	sess.fids.Remove(clientFid)
	return writeReply(w, p9.Rclunk, hdr.tag, p9.NewPDU(0))
}
