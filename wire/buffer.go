// Package wire implements the length-prefixed, TEA-encrypted frame codec
// used to talk to the service gateway: outbound frame construction,
// inbound frame parsing, and the qq_security_blob sub-message.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MinExtraLenU32 and MinExtraLenU16 are the smallest legal values for a
// u32-extra/u16-extra length field: the field counts its own width, so a
// length shorter than that is never well-formed.
const (
	MinExtraLenU32 = 4
	MinExtraLenU16 = 2
)

// ErrShortLength is returned when a declared extra-len field is below its
// width's minimum. It is an ordinary error value: returning it does not mark
// the connection Lost, and the supervisor's decode loop logs such a frame,
// drops it, and keeps reading on the same connection.
type ErrShortLength struct {
	Width int
	Got   uint32
}

func (e ErrShortLength) Error() string {
	return fmt.Sprintf("wire: extra-len field (width %d) declared length %d is below the minimum", e.Width, e.Got)
}

// Writer accumulates an outbound frame. All integers are big-endian.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

func (w *Writer) U8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) U32(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }
func (w *Writer) I32(v int32)  { w.U32(uint32(v)) }
func (w *Writer) U64(v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); w.buf.Write(b[:]) }
func (w *Writer) Raw(b []byte) { w.buf.Write(b) }

// ExtraU32 writes p as a u32-extra-prefixed byte string: the length field
// equals len(p)+4.
func (w *Writer) ExtraU32(p []byte) {
	w.U32(uint32(len(p)) + MinExtraLenU32)
	w.buf.Write(p)
}

// ExtraU16 writes p as a u16-extra-prefixed byte string: the length field
// equals len(p)+2.
func (w *Writer) ExtraU16(p []byte) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(p))+MinExtraLenU16)
	w.buf.Write(b[:])
	w.buf.Write(p)
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Reader consumes an inbound frame sequentially. All integers are
// big-endian.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential reading.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("wire: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

// Raw reads exactly n raw bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ExtraU32 reads a u32-extra-prefixed byte string.
func (r *Reader) ExtraU32() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n < MinExtraLenU32 {
		return nil, ErrShortLength{Width: 32, Got: n}
	}
	return r.Raw(int(n - MinExtraLenU32))
}

// ExtraU16 reads a u16-extra-prefixed byte string.
func (r *Reader) ExtraU16() ([]byte, error) {
	if err := r.need(2); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	if n < MinExtraLenU16 {
		return nil, ErrShortLength{Width: 16, Got: uint32(n)}
	}
	return r.Raw(int(n) - MinExtraLenU16)
}
