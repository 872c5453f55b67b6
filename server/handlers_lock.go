package server

import (
	"bufio"
	"context"
	"io"

	"github.com/rezroo/vhost-9pfs/p9"
)

// handleLock always reports immediate success without tracking any lock
// state. POSIX byte-range locks are advisory, and this server has no way
// to enforce them across clients, so it doesn't pretend to.
func handleLock(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid, flags uint32
	var ltype uint8
	var start, length uint64
	var pid uint32
	var clientID string
	if err := pdu.ReadF("dbdqqds", &clientFid, &ltype, &flags, &start, &length, &pid, &clientID); err != nil {
		return err
	}
	if _, err := sess.fids.Lookup(clientFid); err != nil {
		return writeError(w, hdr.tag, err)
	}
	body := p9.NewPDU(1)
	body.WriteF("b", p9.LockSuccess)
	return writeReply(w, p9.Rlock, hdr.tag, body)
}

// handleGetlock reports no conflicting lock, echoing the queried range
// back with type F_UNLCK — the same stub posture as handleLock.
func handleGetlock(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var clientFid uint32
	var ltype uint8
	var start, length uint64
	var pid uint32
	var clientID string
	if err := pdu.ReadF("dbqqds", &clientFid, &ltype, &start, &length, &pid, &clientID); err != nil {
		return err
	}
	if _, err := sess.fids.Lookup(clientFid); err != nil {
		return writeError(w, hdr.tag, err)
	}
	body := p9.NewPDU(32 + len(clientID))
	body.WriteF("bqqds", p9.LockTypeUNLCK, start, length, pid, clientID)
	return writeReply(w, p9.Rgetlock, hdr.tag, body)
}

// handleFlush acknowledges without cancelling anything: by the time a
// Tflush is read, every prior request on this connection has already been
// handled to completion, so there is nothing in flight to cancel.
func handleFlush(ctx context.Context, sess *Session, r *bufio.Reader, w io.Writer, hdr commonHeader) error {
	pdu, err := readBody(r, hdr)
	if err != nil {
		return err
	}
	var oldtag uint16
	if err := pdu.ReadF("w", &oldtag); err != nil {
		return err
	}
	return writeReply(w, p9.Rflush, hdr.tag, p9.NewPDU(0))
}
