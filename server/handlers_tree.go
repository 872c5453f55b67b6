package server

import (
	"bufio"
	"context"
	"io"
	stdpath "path"

	"github.com/rezroo/vhost-9pfs/fid"
	"github.com/rezroo/vhost-9pfs/p9"
	"github.com/rezroo/vhost-9pfs/vfs"
)

// basenameOf extracts the last path component from a Path's String, the
// only FS-agnostic way to name an entry given just its Path. Remove needs
// the name, not just the identity, since Unlink/Rmdir are
// directory-relative operations.
func basenameOf(p vfs.Path) string {
	return stdpath.Base(p.String())
}

// handleMkdir shares handleLcreate's retargeting behavior: on success, the
// directory fid given by the client now refers to the newly created
// subdirectory.
func handleMkdir(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var name string
	var mode, gid uint32
	if err := pdu.ReadF("dsdd", &clientFid, &name, &mode, &gid); err != nil {
		return err
	}

	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	newPath, err := sess.FS.Mkdir(e.Path, name, mode, gid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, _, err := sess.qidOf(newPath)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	e.Path = newPath

	body := p9.NewPDU(p9.QidSize + 4)
	body.WriteF("Qd", qid, uint32(0))
	return writeReply(w, p9.Rmkdir, hdr.tag, body)
}

func handleSymlink(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var name, target string
	var gid uint32
	if err := pdu.ReadF("dssd", &clientFid, &name, &target, &gid); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	newPath, err := sess.FS.Symlink(e.Path, name, target, gid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, _, err := sess.qidOf(newPath)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	body := p9.NewPDU(p9.QidSize)
	body.WriteF("Q", qid)
	return writeReply(w, p9.Rsymlink, hdr.tag, body)
}

func handleLink(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var dirFid, targetFid uint32
	var name string
	if err := pdu.ReadF("dds", &dirFid, &targetFid, &name); err != nil {
		return err
	}
	dir, err := sess.fids.Lookup(dirFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	target, err := sess.fids.Lookup(targetFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if err := sess.FS.Link(dir.Path, target.Path, name); err != nil {
		return writeError(w, hdr.tag, err)
	}
	return writeReply(w, p9.Rlink, hdr.tag, p9.NewPDU(0))
}

func handleReadlink(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
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
	target, err := sess.FS.Readlink(e.Path)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	body := p9.NewPDU(2 + len(target))
	body.WriteF("s", target)
	return writeReply(w, p9.Rreadlink, hdr.tag, body)
}

func handleMknod(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var name string
	var mode, major, minor, gid uint32
	if err := pdu.ReadF("dsdddd", &clientFid, &name, &mode, &major, &minor, &gid); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	newPath, err := sess.FS.Mknod(e.Path, name, mode, major, minor, gid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	qid, _, err := sess.qidOf(newPath)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	body := p9.NewPDU(p9.QidSize)
	body.WriteF("Q", qid)
	return writeReply(w, p9.Rmknod, hdr.tag, body)
}

// handleRename resolves the target path relative to the renamed fid's own
// path, tolerating a not-yet-existing final component, moves the entry,
// and binds the moved entry to newfid as a fresh table entry. newfid must
// not already be in use.
func handleRename(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid, newFid uint32
	var relPath string
	if err := pdu.ReadF("dds", &clientFid, &newFid, &relPath); err != nil {
		return err
	}
	e, err := sess.fids.Lookup(clientFid)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if _, err := sess.fids.Lookup(newFid); err == nil {
		return writeError(w, hdr.tag, fid.ErrAlreadyExists)
	}
	newParent, newName, err := sess.FS.ResolveRenameTarget(e.Path, relPath)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	newPath, err := sess.FS.Rename(e.Path, newParent, newName)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	if _, err := sess.fids.Insert(newFid, e.Uid, newPath); err != nil {
		return writeError(w, hdr.tag, err)
	}
	return writeReply(w, p9.Rrename, hdr.tag, p9.NewPDU(0))
}

func handleRemove(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
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

	attr, err := sess.FS.GetAttr(e.Path)
	if err != nil {
		return writeError(w, hdr.tag, err)
	}
	parent := sess.FS.Parent(e.Path)
	name := basenameOf(e.Path)

	// The fid is released whether or not the VFS operation succeeds; only
	// the error itself is propagated.
	var removeErr error
	if attr.IsDir() {
		removeErr = sess.FS.Rmdir(parent, name)
	} else {
		removeErr = sess.FS.Unlink(parent, name)
	}
	if e.File != nil {
		sess.FS.Close(e.File)
	}
	sess.fids.Remove(clientFid)
	if removeErr != nil {
		return writeError(w, hdr.tag, removeErr)
	}
	return writeReply(w, p9.Rremove, hdr.tag, p9.NewPDU(0))
}
