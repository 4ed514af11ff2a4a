package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
)

func TestSliceWindowing(t *testing.T) {
	buf := make([]byte, 64)
	s := NewSlice(buf, 16, 32)

	assert.Equal(t, 32, s.Len())
	assert.Equal(t, 16, s.Offset())

	s.WriteUint8(0, 0xAB)
	assert.Equal(t, byte(0xAB), buf[16], "writes are relative to the window start")

	sub := s.Slice(4, 8)
	sub.WriteUint8(0, 0xCD)
	assert.Equal(t, byte(0xCD), buf[20], "sub-slices chain offsets")

	assert.Len(t, s.Bytes(), 32)
	assert.Same(t, &buf[16], &s.Bytes()[0], "Bytes aliases the backing buffer")

	cp := s.CopyBytes()
	cp[0] = 0
	assert.Equal(t, byte(0xAB), buf[16], "CopyBytes must not alias")
}

func TestSliceScalarRoundTrip(t *testing.T) {
	s := FullSlice(make([]byte, 128))

	s.WriteUint16(0, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), s.ReadUint16(0))

	s.WriteUint32(2, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), s.ReadUint32(2))

	s.WriteUint64(6, 0x0123456789ABCDEF)
	assert.Equal(t, uint64(0x0123456789ABCDEF), s.ReadUint64(6))

	s.WriteInt32(14, -42)
	assert.Equal(t, int32(-42), s.ReadInt32(14))

	s.WriteInt64(18, -1<<62)
	assert.Equal(t, int64(-1<<62), s.ReadInt64(18))

	s.WriteFloat64(26, -2.75)
	assert.Equal(t, -2.75, s.ReadFloat64(26))

	s.WriteFloat32(34, 1.5)
	assert.Equal(t, float32(1.5), s.ReadFloat32(34))

	s.WriteBool(38, true)
	assert.True(t, s.ReadBool(38))
	s.WriteBool(38, false)
	assert.False(t, s.ReadBool(38))

	s.WriteString(40, "docgo")
	assert.Equal(t, "docgo", s.ReadString(40, 5))
}

func TestSliceLittleEndian(t *testing.T) {
	s := FullSlice(make([]byte, 8))
	s.WriteUint32(0, 0x01020304)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, s.ReadBytes(0, 4))
}

func TestSliceTypedRoundTrip(t *testing.T) {
	s := FullSlice(make([]byte, 128))

	t.Run("DateTime", func(t *testing.T) {
		now := time.Now().In(time.FixedZone("X", 3600))
		s.WriteDateTime(0, now)
		got := s.ReadDateTime(0)
		assert.True(t, got.Equal(now), "instant survives the wire")
		assert.Equal(t, time.UTC, got.Location(), "wire reads come back UTC")
	})

	t.Run("Decimal", func(t *testing.T) {
		d, err := document.ParseDecimal128("-123.456")
		require.NoError(t, err)
		s.WriteDecimal(8, d)
		assert.Equal(t, d, s.ReadDecimal(8))
	})

	t.Run("ObjectID", func(t *testing.T) {
		id := xid.New()
		s.WriteObjectID(24, id)
		assert.Equal(t, id, s.ReadObjectID(24))
	})

	t.Run("GUID", func(t *testing.T) {
		id := uuid.New()
		s.WriteGUID(36, id)
		assert.Equal(t, id, s.ReadGUID(36))
	})

	t.Run("CString", func(t *testing.T) {
		s.WriteString(52, "abc")
		s.WriteUint8(55, 0)
		assert.Equal(t, "abc", s.ReadCString(52, 8))
	})
}

func TestPageAddress(t *testing.T) {
	s := FullSlice(make([]byte, 16))

	addr := PageAddress{PageID: 1234, Slot: 7}
	s.WritePageAddress(0, addr)
	assert.Equal(t, addr, s.ReadPageAddress(0))
	assert.Equal(t, "1234:07", addr.String())
	assert.False(t, addr.IsEmpty())

	assert.True(t, EmptyPageAddress.IsEmpty())
	assert.Equal(t, "(empty)", EmptyPageAddress.String())

	s.WritePageAddress(5, EmptyPageAddress)
	assert.True(t, s.ReadPageAddress(5).IsEmpty())
}
