package codec

import (
	"encoding/binary"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/hupe1980/docgo/document"
)

// Slice is a non-owning window into a page buffer. All offsets passed to its
// methods are relative to the window start, so codec code never deals with
// absolute page positions. Multiple slices may alias the same buffer; nothing
// is copied unless CopyBytes is called.
//
// A Slice must not be used after its backing buffer is released or recycled.
type Slice struct {
	buf []byte
	off int
	n   int
}

// NewSlice returns a window of n bytes starting at off inside buf.
func NewSlice(buf []byte, off, n int) Slice {
	return Slice{buf: buf, off: off, n: n}
}

// FullSlice returns a window covering all of buf.
func FullSlice(buf []byte) Slice {
	return Slice{buf: buf, n: len(buf)}
}

// Len returns the window length in bytes.
func (s Slice) Len() int { return s.n }

// Offset returns the window start within the backing buffer.
func (s Slice) Offset() int { return s.off }

// Bytes returns the aliased window. Mutating the result mutates the page.
func (s Slice) Bytes() []byte { return s.buf[s.off : s.off+s.n] }

// CopyBytes returns a copy of the window.
func (s Slice) CopyBytes() []byte { return slices.Clone(s.Bytes()) }

// Slice re-derives a sub-window relative to s without copying.
func (s Slice) Slice(off, n int) Slice {
	return Slice{buf: s.buf, off: s.off + off, n: n}
}

// ReadUint8 reads one byte at off.
func (s Slice) ReadUint8(off int) uint8 { return s.buf[s.off+off] }

// WriteUint8 writes one byte at off.
func (s Slice) WriteUint8(off int, v uint8) { s.buf[s.off+off] = v }

// ReadUint16 reads a little-endian uint16 at off.
func (s Slice) ReadUint16(off int) uint16 {
	return binary.LittleEndian.Uint16(s.buf[s.off+off:])
}

// WriteUint16 writes a little-endian uint16 at off.
func (s Slice) WriteUint16(off int, v uint16) {
	binary.LittleEndian.PutUint16(s.buf[s.off+off:], v)
}

// ReadUint32 reads a little-endian uint32 at off.
func (s Slice) ReadUint32(off int) uint32 {
	return binary.LittleEndian.Uint32(s.buf[s.off+off:])
}

// WriteUint32 writes a little-endian uint32 at off.
func (s Slice) WriteUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.buf[s.off+off:], v)
}

// ReadUint64 reads a little-endian uint64 at off.
func (s Slice) ReadUint64(off int) uint64 {
	return binary.LittleEndian.Uint64(s.buf[s.off+off:])
}

// WriteUint64 writes a little-endian uint64 at off.
func (s Slice) WriteUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.buf[s.off+off:], v)
}

// ReadInt32 reads a little-endian int32 at off.
func (s Slice) ReadInt32(off int) int32 {
	return int32(s.ReadUint32(off)) //nolint:gosec // two's-complement round trip
}

// WriteInt32 writes a little-endian int32 at off.
func (s Slice) WriteInt32(off int, v int32) {
	s.WriteUint32(off, uint32(v)) //nolint:gosec // two's-complement round trip
}

// ReadInt64 reads a little-endian int64 at off.
func (s Slice) ReadInt64(off int) int64 {
	return int64(s.ReadUint64(off)) //nolint:gosec // two's-complement round trip
}

// WriteInt64 writes a little-endian int64 at off.
func (s Slice) WriteInt64(off int, v int64) {
	s.WriteUint64(off, uint64(v)) //nolint:gosec // two's-complement round trip
}

// ReadFloat64 reads an IEEE 754 double at off.
func (s Slice) ReadFloat64(off int) float64 {
	return math.Float64frombits(s.ReadUint64(off))
}

// WriteFloat64 writes an IEEE 754 double at off.
func (s Slice) WriteFloat64(off int, v float64) {
	s.WriteUint64(off, math.Float64bits(v))
}

// ReadFloat32 reads an IEEE 754 single at off.
func (s Slice) ReadFloat32(off int) float32 {
	return math.Float32frombits(s.ReadUint32(off))
}

// WriteFloat32 writes an IEEE 754 single at off.
func (s Slice) WriteFloat32(off int, v float32) {
	s.WriteUint32(off, math.Float32bits(v))
}

// ReadBool reads a boolean at off; any non-zero byte is true.
func (s Slice) ReadBool(off int) bool { return s.buf[s.off+off] != 0 }

// WriteBool writes a boolean at off.
func (s Slice) WriteBool(off int, v bool) {
	if v {
		s.buf[s.off+off] = 1
	} else {
		s.buf[s.off+off] = 0
	}
}

// ReadBytes returns n bytes at off, aliasing the page.
func (s Slice) ReadBytes(off, n int) []byte {
	return s.buf[s.off+off : s.off+off+n]
}

// WriteBytes copies p into the window at off.
func (s Slice) WriteBytes(off int, p []byte) {
	copy(s.buf[s.off+off:], p)
}

// ReadString reads n bytes at off as a string.
func (s Slice) ReadString(off, n int) string {
	return string(s.ReadBytes(off, n))
}

// WriteString copies v into the window at off.
func (s Slice) WriteString(off int, v string) {
	copy(s.buf[s.off+off:], v)
}

// ReadCString reads a NUL-padded string of at most n bytes at off, stopping
// at the first zero byte.
func (s Slice) ReadCString(off, n int) string {
	b := s.ReadBytes(off, n)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ReadDateTime reads a UTC timestamp stored as nanoseconds since the Unix
// epoch.
func (s Slice) ReadDateTime(off int) time.Time {
	return time.Unix(0, s.ReadInt64(off)).UTC()
}

// WriteDateTime writes v as UTC nanoseconds since the Unix epoch. The wire
// form is location-independent.
func (s Slice) WriteDateTime(off int, v time.Time) {
	s.WriteInt64(off, v.UnixNano())
}

// ReadDecimal reads the four-word decimal layout at off.
func (s Slice) ReadDecimal(off int) document.Decimal128 {
	return document.Decimal128{
		Lo:    s.ReadUint32(off),
		Mid:   s.ReadUint32(off + 4),
		Hi:    s.ReadUint32(off + 8),
		Flags: s.ReadUint32(off + 12),
	}
}

// WriteDecimal writes the four-word decimal layout at off.
func (s Slice) WriteDecimal(off int, v document.Decimal128) {
	s.WriteUint32(off, v.Lo)
	s.WriteUint32(off+4, v.Mid)
	s.WriteUint32(off+8, v.Hi)
	s.WriteUint32(off+12, v.Flags)
}

// ReadObjectID reads a 12-byte ObjectId at off.
func (s Slice) ReadObjectID(off int) xid.ID {
	var id xid.ID
	copy(id[:], s.buf[s.off+off:])
	return id
}

// WriteObjectID writes a 12-byte ObjectId at off.
func (s Slice) WriteObjectID(off int, v xid.ID) {
	copy(s.buf[s.off+off:], v[:])
}

// ReadGUID reads a 16-byte GUID at off.
func (s Slice) ReadGUID(off int) uuid.UUID {
	var id uuid.UUID
	copy(id[:], s.buf[s.off+off:])
	return id
}

// WriteGUID writes a 16-byte GUID at off.
func (s Slice) WriteGUID(off int, v uuid.UUID) {
	copy(s.buf[s.off+off:], v[:])
}

// ReadPageAddress reads a 5-byte page address at off.
func (s Slice) ReadPageAddress(off int) PageAddress {
	return PageAddress{
		PageID: s.ReadUint32(off),
		Slot:   s.ReadUint8(off + 4),
	}
}

// WritePageAddress writes a 5-byte page address at off.
func (s Slice) WritePageAddress(off int, v PageAddress) {
	s.WriteUint32(off, v.PageID)
	s.WriteUint8(off+4, v.Slot)
}
