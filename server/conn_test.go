package server

import (
	"context"
	"encoding/binary"
	"net"
	"syscall"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/rezroo/vhost-9pfs/p9"
	"github.com/rezroo/vhost-9pfs/vfs"
)

// testClient is a minimal hand-rolled 9P2000.L client used only to drive
// ServeConn end to end over a net.Pipe; requests are built directly with
// the p9 codec.
type testClient struct {
	c    *qt.C
	conn net.Conn
	tag  uint16
}

func newTestClient(c *qt.C, conn net.Conn) *testClient {
	return &testClient{c: c, conn: conn}
}

func (tc *testClient) nextTag() uint16 {
	tc.tag++
	return tc.tag
}

func (tc *testClient) send(id uint8, tag uint16, body *p9.PDU) {
	out := p9.NewPDU(int(p9.CommonHeaderSize) + int(body.Size))
	out.WriteF("dbw", uint32(p9.CommonHeaderSize)+body.Size, id, tag)
	out.PutRaw(body.Bytes())
	_, err := tc.conn.Write(out.Bytes())
	tc.c.Assert(err, qt.IsNil)
}

func (tc *testClient) recv() (id uint8, tag uint16, body *p9.PDU) {
	var hdr [p9.CommonHeaderSize]byte
	_, err := readFull(tc.conn, hdr[:])
	tc.c.Assert(err, qt.IsNil)
	size := binary.LittleEndian.Uint32(hdr[0:4])
	id = hdr[4]
	tag = binary.LittleEndian.Uint16(hdr[5:7])
	buf := make([]byte, size-p9.CommonHeaderSize)
	_, err = readFull(tc.conn, buf)
	tc.c.Assert(err, qt.IsNil)
	return id, tag, p9.NewPDUFromBytes(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (tc *testClient) version() {
	body := p9.NewPDU(64)
	body.WriteF("ds", uint32(DefaultMsize), p9.VersionL)
	tag := tc.nextTag()
	tc.send(p9.Tversion, tag, body)
	id, gotTag, reply := tc.recv()
	tc.c.Assert(id, qt.Equals, p9.Rversion)
	tc.c.Assert(gotTag, qt.Equals, tag)
	var msize uint32
	var version string
	reply.ReadF("ds", &msize, &version)
	tc.c.Assert(msize, qt.Equals, uint32(DefaultMsize))
	tc.c.Assert(version, qt.Equals, p9.VersionL)
}

func (tc *testClient) attach(fid uint32) p9.Qid {
	body := p9.NewPDU(64)
	body.WriteF("ddssd", fid, p9.NoFid, "user", "", uint32(1000))
	tag := tc.nextTag()
	tc.send(p9.Tattach, tag, body)
	id, _, reply := tc.recv()
	tc.c.Assert(id, qt.Equals, p9.Rattach)
	var qid p9.Qid
	reply.ReadF("Q", &qid)
	return qid
}

// walk sends Twalk and returns the reply's message type and qids (nil for
// an Rlerror).
func (tc *testClient) walk(fid, newFid uint32, names ...string) (uint8, []p9.Qid) {
	body := p9.NewPDU(256)
	body.WriteF("ddw", fid, newFid, uint16(len(names)))
	for _, name := range names {
		body.WriteF("s", name)
	}
	tag := tc.nextTag()
	tc.send(p9.Twalk, tag, body)
	id, _, reply := tc.recv()
	if id != p9.Rwalk {
		return id, nil
	}
	var nwqid uint16
	reply.ReadF("w", &nwqid)
	qids := make([]p9.Qid, nwqid)
	for i := range qids {
		reply.ReadF("Q", &qids[i])
	}
	return id, qids
}

func (tc *testClient) getattr(fid uint32) (uint8, uint32) {
	body := p9.NewPDU(16)
	body.WriteF("dq", fid, ^uint64(0))
	tag := tc.nextTag()
	tc.send(p9.Tgetattr, tag, body)
	id, _, reply := tc.recv()
	if id != p9.Rgetattr {
		var errno uint32
		reply.ReadF("d", &errno)
		return id, errno
	}
	var valid uint64
	var qid p9.Qid
	var mode uint32
	reply.ReadF("qQd", &valid, &qid, &mode)
	return id, mode
}

func (tc *testClient) clunk(fid uint32) uint8 {
	body := p9.NewPDU(8)
	body.WriteF("d", fid)
	tag := tc.nextTag()
	tc.send(p9.Tclunk, tag, body)
	id, _, _ := tc.recv()
	return id
}

func startServer(c *qt.C) (*testClient, chan error) {
	fs := vfs.NewMemFS(1000, 1000)
	c0, c1 := net.Pipe()
	errc := make(chan error, 1)
	go func() { errc <- ServeConn(context.Background(), c0, fs, nil) }()
	tc := newTestClient(c, c1)
	c.Cleanup(func() {
		c1.Close()
		<-errc
	})
	return tc, errc
}

func TestServeConnVersionAttach(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	qid := tc.attach(1)
	c.Assert(qid.Type, qt.Equals, uint8(p9.QTDIR))
}

func TestServeConnUnknownVersionDialect(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)

	body := p9.NewPDU(64)
	body.WriteF("ds", uint32(8192), "9P2000")
	tag := tc.nextTag()
	tc.send(p9.Tversion, tag, body)
	id, _, reply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rversion)
	var msize uint32
	var version string
	reply.ReadF("ds", &msize, &version)
	c.Assert(msize, qt.Equals, uint32(8192))
	c.Assert(version, qt.Equals, p9.VersionUnknown)
}

func TestServeConnCreateWriteRead(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	// Tlcreate: fid 1, a directory fid, becomes the new file's fid.
	body := p9.NewPDU(128)
	body.WriteF("dsddd", uint32(1), "greeting.txt", uint32(0), uint32(0o644), uint32(1000))
	tag := tc.nextTag()
	tc.send(p9.Tlcreate, tag, body)
	id, _, reply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rlcreate)
	var qid p9.Qid
	var iounit uint32
	reply.ReadF("Qd", &qid, &iounit)
	c.Assert(qid.Type, qt.Equals, uint8(p9.QTFILE))
	c.Assert(iounit, qt.Equals, uint32(0))

	// Twrite.
	var hdr [4 + 8 + 4]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 1)
	binary.LittleEndian.PutUint64(hdr[4:12], 0)
	data := []byte("hello 9p")
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))
	wbody := p9.NewPDU(len(hdr) + len(data))
	wbody.PutRaw(hdr[:])
	wbody.PutRaw(data)
	tag = tc.nextTag()
	tc.send(p9.Twrite, tag, wbody)
	id, _, reply = tc.recv()
	c.Assert(id, qt.Equals, p9.Rwrite)
	var n uint32
	reply.ReadF("d", &n)
	c.Assert(n, qt.Equals, uint32(len(data)))

	// Tread.
	var rhdr [4 + 8 + 4]byte
	binary.LittleEndian.PutUint32(rhdr[0:4], 1)
	binary.LittleEndian.PutUint64(rhdr[4:12], 0)
	binary.LittleEndian.PutUint32(rhdr[12:16], 64)
	rbodyReq := p9.NewPDU(len(rhdr))
	rbodyReq.PutRaw(rhdr[:])
	tag = tc.nextTag()
	tc.send(p9.Tread, tag, rbodyReq)
	id, _, rreply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rread)
	var count uint32
	rreply.ReadF("d", &count)
	got, err := rreply.GetRaw(count)
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "hello 9p")
}

// A zero-length walk clones the fid and replies with exactly one qid, and
// a following Tlcreate retargets the clone onto the created file.
func TestServeConnCreateRetargetsDirFid(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	id, qids := tc.walk(1, 3)
	c.Assert(id, qt.Equals, p9.Rwalk)
	c.Assert(len(qids), qt.Equals, 1)
	c.Assert(qids[0].Type, qt.Equals, uint8(p9.QTDIR))

	body := p9.NewPDU(128)
	body.WriteF("dsddd", uint32(3), "newfile", uint32(2), uint32(0o644), uint32(0))
	tag := tc.nextTag()
	tc.send(p9.Tlcreate, tag, body)
	id, _, _ = tc.recv()
	c.Assert(id, qt.Equals, p9.Rlcreate)

	// fid 3 now stats as the regular file, not the parent directory.
	id, mode := tc.getattr(3)
	c.Assert(id, qt.Equals, p9.Rgetattr)
	c.Assert(mode&0o170000, qt.Equals, uint32(0o100000))
}

// A walk whose first component is ".." stops immediately with zero qids
// and binds nothing.
func TestServeConnWalkDotDotRejected(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	id, qids := tc.walk(1, 2, "..", "x")
	c.Assert(id, qt.Equals, p9.Rwalk)
	c.Assert(len(qids), qt.Equals, 0)

	// fid 2 was not created.
	id, errno := tc.getattr(2)
	c.Assert(id, qt.Equals, p9.Rlerror)
	c.Assert(errno, qt.Equals, uint32(syscall.ENOENT))

	// fid 1 still points at the root.
	id, mode := tc.getattr(1)
	c.Assert(id, qt.Equals, p9.Rgetattr)
	c.Assert(mode&0o170000, qt.Equals, uint32(0o040000))
}

func TestServeConnWalkFirstNameMissing(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	id, _ := tc.walk(1, 2, "no-such-entry")
	c.Assert(id, qt.Equals, p9.Rlerror)

	id, errno := tc.getattr(2)
	c.Assert(id, qt.Equals, p9.Rlerror)
	c.Assert(errno, qt.Equals, uint32(syscall.ENOENT))
}

// A bound newfid fails EEXIST before any path component is resolved, so
// it wins even over a walk that would itself fail ENOENT.
func TestServeConnWalkNewFidAlreadyBound(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)
	tc.attach(2)

	body := p9.NewPDU(64)
	body.WriteF("ddw", uint32(1), uint32(2), uint16(1))
	body.WriteF("s", "nonexistent")
	tag := tc.nextTag()
	tc.send(p9.Twalk, tag, body)
	id, _, reply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rlerror)
	var errno uint32
	reply.ReadF("d", &errno)
	c.Assert(errno, qt.Equals, uint32(syscall.EEXIST))

	// fid 2 is untouched: it still stats as the attach root.
	id, mode := tc.getattr(2)
	c.Assert(id, qt.Equals, p9.Rgetattr)
	c.Assert(mode&0o170000, qt.Equals, uint32(0o040000))
}

func TestServeConnClunkIsIdempotent(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	c.Assert(tc.clunk(1), qt.Equals, p9.Rclunk)
	c.Assert(tc.clunk(1), qt.Equals, p9.Rclunk)
}

func TestServeConnUnsupportedOpcode(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	// Txattrwalk: fid[4] newfid[4] name[s]
	body := p9.NewPDU(64)
	body.WriteF("dds", uint32(1), uint32(2), "security.selinux")
	tag := tc.nextTag()
	tc.send(p9.Txattrwalk, tag, body)
	id, gotTag, reply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rlerror)
	c.Assert(gotTag, qt.Equals, tag)
	var errno uint32
	reply.ReadF("d", &errno)
	c.Assert(errno, qt.Equals, uint32(syscall.EOPNOTSUPP))
}

func TestServeConnMkdirWalkReaddir(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	body := p9.NewPDU(64)
	body.WriteF("dsdd", uint32(1), "sub", uint32(0o755), uint32(1000))
	tag := tc.nextTag()
	tc.send(p9.Tmkdir, tag, body)
	id, _, _ := tc.recv()
	c.Assert(id, qt.Equals, p9.Rmkdir)

	// Re-attach a fresh fid at root; fid 1 now points at "sub".
	rootFid := uint32(2)
	tc.attach(rootFid)

	id, qids := tc.walk(rootFid, 3, "sub")
	c.Assert(id, qt.Equals, p9.Rwalk)
	c.Assert(len(qids), qt.Equals, 1)
	c.Assert(qids[0].Type, qt.Equals, uint8(p9.QTDIR))

	openBody := p9.NewPDU(16)
	openBody.WriteF("dd", uint32(3), uint32(0))
	tag = tc.nextTag()
	tc.send(p9.Tlopen, tag, openBody)
	id, _, _ = tc.recv()
	c.Assert(id, qt.Equals, p9.Rlopen)

	rdBody := p9.NewPDU(16)
	rdBody.WriteF("dqd", uint32(3), uint64(0), uint32(4096))
	tag = tc.nextTag()
	tc.send(p9.Treaddir, tag, rdBody)
	id, _, reply := tc.recv()
	c.Assert(id, qt.Equals, p9.Rreaddir)

	// The reply preamble's count matches the bytes that follow, and the
	// entries decode cleanly: ".", "..", nothing else in a fresh dir.
	var count uint32
	reply.ReadF("d", &count)
	c.Assert(count, qt.Equals, reply.Size-reply.Offset)
	var names []string
	for reply.Offset < reply.Size {
		var qid p9.Qid
		var off uint64
		var dtype uint8
		var name string
		err := reply.ReadF("Qqbs", &qid, &off, &dtype, &name)
		c.Assert(err, qt.IsNil)
		names = append(names, name)
	}
	c.Assert(names, qt.DeepEquals, []string{".", ".."})
}

func TestServeConnRenameBindsNewFid(t *testing.T) {
	c := qt.New(t)
	tc, _ := startServer(c)
	tc.version()
	tc.attach(1)

	// Create "a" via a cloned fid, then clunk the handle.
	id, _ := tc.walk(1, 2)
	c.Assert(id, qt.Equals, p9.Rwalk)
	body := p9.NewPDU(128)
	body.WriteF("dsddd", uint32(2), "a", uint32(2), uint32(0o644), uint32(0))
	tag := tc.nextTag()
	tc.send(p9.Tlcreate, tag, body)
	id, _, _ = tc.recv()
	c.Assert(id, qt.Equals, p9.Rlcreate)
	c.Assert(tc.clunk(2), qt.Equals, p9.Rclunk)

	// Walk to "a" and rename it to a sibling "b". The target path is
	// resolved relative to the renamed entry itself, so the client steps
	// up to the parent first. fid 4 ends up bound to the moved entry.
	id, _ = tc.walk(1, 3, "a")
	c.Assert(id, qt.Equals, p9.Rwalk)
	rnBody := p9.NewPDU(64)
	rnBody.WriteF("dds", uint32(3), uint32(4), "../b")
	tag = tc.nextTag()
	tc.send(p9.Trename, tag, rnBody)
	id, _, _ = tc.recv()
	c.Assert(id, qt.Equals, p9.Rrename)

	id, mode := tc.getattr(4)
	c.Assert(id, qt.Equals, p9.Rgetattr)
	c.Assert(mode&0o170000, qt.Equals, uint32(0o100000))

	// The old name is gone, the new one resolves.
	id, _ = tc.walk(1, 5, "a")
	c.Assert(id, qt.Equals, p9.Rlerror)
	id, qids := tc.walk(1, 6, "b")
	c.Assert(id, qt.Equals, p9.Rwalk)
	c.Assert(len(qids), qt.Equals, 1)
}
