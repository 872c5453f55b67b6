package p9

import "encoding/binary"

// Low-level little-endian accessors over the PDU's backing buffer, the
// primitive operations ReadF/WriteF are built from.

func (p *PDU) getUint8() (uint8, error) {
	if p.Offset+1 > p.Size {
		return 0, ErrShortBuffer
	}
	v := p.sdata[p.Offset]
	p.Offset++
	return v, nil
}

func (p *PDU) getUint16() (uint16, error) {
	if p.Offset+2 > p.Size {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(p.sdata[p.Offset:])
	p.Offset += 2
	return v, nil
}

func (p *PDU) getUint32() (uint32, error) {
	if p.Offset+4 > p.Size {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(p.sdata[p.Offset:])
	p.Offset += 4
	return v, nil
}

func (p *PDU) getUint64() (uint64, error) {
	if p.Offset+8 > p.Size {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint64(p.sdata[p.Offset:])
	p.Offset += 8
	return v, nil
}

func (p *PDU) getString() (string, error) {
	l, err := p.getUint16()
	if err != nil {
		return "", err
	}
	if p.Offset+uint32(l) > p.Size {
		return "", ErrShortBuffer
	}
	// Copied out so the caller owns memory independent of the PDU's
	// backing buffer.
	b := make([]byte, l)
	copy(b, p.sdata[p.Offset:p.Offset+uint32(l)])
	p.Offset += uint32(l)
	return string(b), nil
}

func (p *PDU) getQid() (Qid, error) {
	if p.Offset+QidSize > p.Size {
		return Qid{}, ErrShortBuffer
	}
	var q Qid
	q.Type = p.sdata[p.Offset]
	q.Version = binary.LittleEndian.Uint32(p.sdata[p.Offset+1:])
	q.Path = binary.LittleEndian.Uint64(p.sdata[p.Offset+5:])
	p.Offset += QidSize
	return q, nil
}

func (p *PDU) putUint8(v uint8) error {
	if p.Size+1 > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	p.sdata[p.Size] = v
	p.Size++
	return nil
}

func (p *PDU) putUint16(v uint16) error {
	if p.Size+2 > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(p.sdata[p.Size:], v)
	p.Size += 2
	return nil
}

func (p *PDU) putUint32(v uint32) error {
	if p.Size+4 > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(p.sdata[p.Size:], v)
	p.Size += 4
	return nil
}

func (p *PDU) putUint64(v uint64) error {
	if p.Size+8 > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(p.sdata[p.Size:], v)
	p.Size += 8
	return nil
}

func (p *PDU) putString(s string) error {
	if len(s) > 0xffff {
		return ErrShortBuffer
	}
	if p.Size+2+uint32(len(s)) > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	if err := p.putUint16(uint16(len(s))); err != nil {
		return err
	}
	copy(p.sdata[p.Size:], s)
	p.Size += uint32(len(s))
	return nil
}

func (p *PDU) putQid(q Qid) error {
	if p.Size+QidSize > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	p.sdata[p.Size] = q.Type
	binary.LittleEndian.PutUint32(p.sdata[p.Size+1:], q.Version)
	binary.LittleEndian.PutUint64(p.sdata[p.Size+5:], q.Path)
	p.Size += QidSize
	return nil
}

// PutRaw appends raw bytes without a length prefix, used to splice an
// already-encoded body into a framed reply.
func (p *PDU) PutRaw(b []byte) error {
	if p.Size+uint32(len(b)) > uint32(len(p.sdata)) {
		return ErrShortBuffer
	}
	copy(p.sdata[p.Size:], b)
	p.Size += uint32(len(b))
	return nil
}

// GetRaw consumes and returns n raw bytes without a length prefix, such as
// the data payload of a decoded Rread. The returned slice aliases the PDU's
// backing buffer.
func (p *PDU) GetRaw(n uint32) ([]byte, error) {
	if p.Offset+n > p.Size {
		return nil, ErrShortBuffer
	}
	b := p.sdata[p.Offset : p.Offset+n]
	p.Offset += n
	return b, nil
}
