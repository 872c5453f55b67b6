// Package p9 implements the 9P2000.L wire format: message type constants,
// qids, and a PDU codec driven by compact format strings.
//
// Each character in a format string names one wire-typed field, so a
// handler reads or writes an entire argument list in one ReadF/WriteF call
// instead of a run of individual Put/Get calls:
//
//	b  u8                   1 byte
//	w  u16                  2 bytes little-endian
//	d  u32                  4 bytes LE
//	q  u64                  8 bytes LE
//	s  string               u16 length prefix + UTF-8 bytes
//	Q  qid                  1 + 4 + 8 bytes
//	u  u32 (uid)            4 bytes LE
//	g  u32 (gid)            4 bytes LE
//
// All integers are little-endian unconditionally.
package p9

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned by ReadF when the PDU doesn't hold enough
// bytes to satisfy the requested format, and by WriteF when appending would
// overrun the PDU's capacity.
var ErrShortBuffer = errors.New("p9: short buffer")

// PDU is a typed view of a mutable byte buffer: a fixed-capacity backing
// array plus independent producer (Size) and consumer (Offset) cursors.
type PDU struct {
	sdata  []byte // capacity bytes, never reallocated
	Size   uint32 // producer write cursor; also the valid read length
	Offset uint32 // consumer read cursor

	ID  uint8
	Tag uint16
}

// NewPDU allocates a PDU backed by a buffer of the given capacity.
func NewPDU(capacity int) *PDU {
	return &PDU{sdata: make([]byte, capacity)}
}

// NewPDUFromBytes wraps an existing buffer as a PDU ready for reading: Size
// is set to len(b) and Offset to 0. The slice is not copied.
func NewPDUFromBytes(b []byte) *PDU {
	return &PDU{sdata: b, Size: uint32(len(b))}
}

// Capacity returns the number of bytes backing the PDU.
func (p *PDU) Capacity() int { return len(p.sdata) }

// Bytes returns the written prefix sdata[:Size].
func (p *PDU) Bytes() []byte { return p.sdata[:p.Size] }

// Reset rewinds both cursors without releasing the backing buffer.
func (p *PDU) Reset() {
	p.Size = 0
	p.Offset = 0
}

// ReadF decodes fields from the PDU starting at Offset, advancing Offset as
// it goes. format is a string of type characters (see package doc); args
// must be pointers, one per character, in order. On a short buffer it
// returns ErrShortBuffer and leaves Offset at the point of failure.
func (p *PDU) ReadF(format string, args ...interface{}) error {
	if len(format) != len(args) {
		return errors.Errorf("p9: ReadF format %q wants %d args, got %d", format, len(format), len(args))
	}
	for i, c := range format {
		switch c {
		case 'b':
			v, err := p.getUint8()
			if err != nil {
				return err
			}
			*(args[i].(*uint8)) = v
		case 'w':
			v, err := p.getUint16()
			if err != nil {
				return err
			}
			*(args[i].(*uint16)) = v
		case 'd', 'u', 'g':
			v, err := p.getUint32()
			if err != nil {
				return err
			}
			*(args[i].(*uint32)) = v
		case 'q':
			v, err := p.getUint64()
			if err != nil {
				return err
			}
			*(args[i].(*uint64)) = v
		case 's':
			v, err := p.getString()
			if err != nil {
				return err
			}
			*(args[i].(*string)) = v
		case 'Q':
			v, err := p.getQid()
			if err != nil {
				return err
			}
			*(args[i].(*Qid)) = v
		default:
			return errors.Errorf("p9: unknown format char %q", c)
		}
	}
	return nil
}

// WriteF encodes fields into the PDU, appending at Size and advancing it.
// args are values (not pointers), one per format character. On overflow it
// returns ErrShortBuffer; the dispatcher treats that as a fatal
// reply-oversize condition.
func (p *PDU) WriteF(format string, args ...interface{}) error {
	if len(format) != len(args) {
		return errors.Errorf("p9: WriteF format %q wants %d args, got %d", format, len(format), len(args))
	}
	for i, c := range format {
		switch c {
		case 'b':
			if err := p.putUint8(toUint8(args[i])); err != nil {
				return err
			}
		case 'w':
			if err := p.putUint16(toUint16(args[i])); err != nil {
				return err
			}
		case 'd', 'u', 'g':
			if err := p.putUint32(toUint32(args[i])); err != nil {
				return err
			}
		case 'q':
			if err := p.putUint64(toUint64(args[i])); err != nil {
				return err
			}
		case 's':
			s, ok := args[i].(string)
			if !ok {
				return errors.Errorf("p9: WriteF arg %d: want string, got %T", i, args[i])
			}
			if err := p.putString(s); err != nil {
				return err
			}
		case 'Q':
			var q Qid
			switch v := args[i].(type) {
			case Qid:
				q = v
			case *Qid:
				q = *v
			default:
				return errors.Errorf("p9: WriteF arg %d: want Qid, got %T", i, args[i])
			}
			if err := p.putQid(q); err != nil {
				return err
			}
		default:
			return errors.Errorf("p9: unknown format char %q", c)
		}
	}
	return nil
}

func toUint8(v interface{}) uint8 {
	switch x := v.(type) {
	case uint8:
		return x
	case int:
		return uint8(x)
	default:
		panic(fmt.Sprintf("p9: cannot coerce %T to uint8", v))
	}
}

func toUint16(v interface{}) uint16 {
	switch x := v.(type) {
	case uint16:
		return x
	case int:
		return uint16(x)
	default:
		panic(fmt.Sprintf("p9: cannot coerce %T to uint16", v))
	}
}

func toUint32(v interface{}) uint32 {
	switch x := v.(type) {
	case uint32:
		return x
	case int:
		return uint32(x)
	default:
		panic(fmt.Sprintf("p9: cannot coerce %T to uint32", v))
	}
}

func toUint64(v interface{}) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int:
		return uint64(x)
	case int64:
		return uint64(x)
	default:
		panic(fmt.Sprintf("p9: cannot coerce %T to uint64", v))
	}
}
