package p9

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestWriteFReadFRoundTrip(t *testing.T) {
	c := qt.New(t)

	pdu := NewPDU(256)
	q := Qid{Type: QTDIR, Version: 7, Path: 42}
	err := pdu.WriteF("bwdqsQ", uint8(1), uint16(2), uint32(3), uint64(4), "hello", q)
	c.Assert(err, qt.IsNil)

	pdu.Offset = 0
	var (
		b uint8
		w uint16
		d uint32
		q64 uint64
		s string
		gotQ Qid
	)
	err = pdu.ReadF("bwdqsQ", &b, &w, &d, &q64, &s, &gotQ)
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.Equals, uint8(1))
	c.Assert(w, qt.Equals, uint16(2))
	c.Assert(d, qt.Equals, uint32(3))
	c.Assert(q64, qt.Equals, uint64(4))
	c.Assert(s, qt.Equals, "hello")
	c.Assert(gotQ, qt.Equals, q)
}

func TestReadFShortBuffer(t *testing.T) {
	c := qt.New(t)
	pdu := NewPDU(8)
	pdu.WriteF("w", uint16(1))

	pdu.Offset = 0
	var d uint32
	err := pdu.ReadF("d", &d)
	c.Assert(err, qt.ErrorIs, ErrShortBuffer)
}

func TestWriteFOverflow(t *testing.T) {
	c := qt.New(t)
	pdu := NewPDU(2)
	err := pdu.WriteF("d", uint32(1))
	c.Assert(err, qt.ErrorIs, ErrShortBuffer)
}

func TestUidGidFormatAliasesUint32(t *testing.T) {
	c := qt.New(t)
	pdu := NewPDU(16)
	err := pdu.WriteF("ug", uint32(1000), uint32(100))
	c.Assert(err, qt.IsNil)

	pdu.Offset = 0
	var uid, gid uint32
	err = pdu.ReadF("dd", &uid, &gid)
	c.Assert(err, qt.IsNil)
	c.Assert(uid, qt.Equals, uint32(1000))
	c.Assert(gid, qt.Equals, uint32(100))
}
