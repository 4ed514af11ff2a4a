package codec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/document"
)

// MaxIndexKeyLength is the payload cap for variable-length index keys. The
// compact key form length-prefixes strings, blobs and vectors with a single
// byte, so this limit is structural, not tunable.
const MaxIndexKeyLength = 255

// ErrIndexKeyTooLong is returned when a string or binary key payload exceeds
// MaxIndexKeyLength bytes, or a vector key exceeds 255 elements. Oversized
// keys are rejected outright: truncating would make distinct values collide
// in the index.
var ErrIndexKeyTooLong = errors.New("codec: index key exceeds the 255-byte cap")

// IndexKeySize returns the encoded size of v in the compact key form,
// including the tag byte.
func IndexKeySize(v document.Value) (int, error) {
	switch v.Kind() {
	case document.KindNull, document.KindMinValue, document.KindMaxValue:
		return 1, nil
	case document.KindInt32:
		return 1 + 4, nil
	case document.KindInt64, document.KindDouble, document.KindDateTime:
		return 1 + 8, nil
	case document.KindDecimal:
		return 1 + 16, nil
	case document.KindBoolean:
		return 1 + 1, nil
	case document.KindObjectID:
		return 1 + 12, nil
	case document.KindGUID:
		return 1 + 16, nil
	case document.KindString:
		s, _ := v.AsString()
		if len(s) > MaxIndexKeyLength {
			return 0, ErrIndexKeyTooLong
		}
		return 1 + 1 + len(s), nil
	case document.KindBinary:
		b, _ := v.AsBinary()
		if len(b) > MaxIndexKeyLength {
			return 0, ErrIndexKeyTooLong
		}
		return 1 + 1 + len(b), nil
	case document.KindVector:
		vec, _ := v.AsVector()
		if len(vec) > MaxIndexKeyLength {
			return 0, ErrIndexKeyTooLong
		}
		return 1 + 1 + 4*len(vec), nil
	case document.KindArray, document.KindDocument:
		// Composites delegate to the general codec and carry no 255-byte cap.
		return 1 + ValueSize(v), nil
	default:
		panic(fmt.Sprintf("codec: index key size of invalid value kind %d", v.Kind()))
	}
}

// WriteIndexKey encodes v in the compact key form at off inside s and
// returns the bytes written: a tag byte, a single length byte for
// variable-length kinds, then the payload.
func WriteIndexKey(s Slice, off int, v document.Value) (int, error) {
	size, err := IndexKeySize(v)
	if err != nil {
		return 0, err
	}

	s.WriteUint8(off, uint8(v.Kind()))
	pos := off + 1

	switch v.Kind() {
	case document.KindNull, document.KindMinValue, document.KindMaxValue:
	case document.KindInt32:
		n, _ := v.AsInt32()
		s.WriteInt32(pos, n)
	case document.KindInt64:
		n, _ := v.AsInt64()
		s.WriteInt64(pos, n)
	case document.KindDouble:
		f, _ := v.AsDouble()
		s.WriteFloat64(pos, f)
	case document.KindDecimal:
		d, _ := v.AsDecimal()
		s.WriteDecimal(pos, d)
	case document.KindBoolean:
		b, _ := v.AsBool()
		s.WriteBool(pos, b)
	case document.KindDateTime:
		t, _ := v.AsDateTime()
		s.WriteDateTime(pos, t)
	case document.KindObjectID:
		id, _ := v.AsObjectID()
		s.WriteObjectID(pos, id)
	case document.KindGUID:
		id, _ := v.AsGUID()
		s.WriteGUID(pos, id)
	case document.KindString:
		str, _ := v.AsString()
		s.WriteUint8(pos, uint8(len(str)))
		s.WriteString(pos+1, str)
	case document.KindBinary:
		b, _ := v.AsBinary()
		s.WriteUint8(pos, uint8(len(b)))
		s.WriteBytes(pos+1, b)
	case document.KindVector:
		vec, _ := v.AsVector()
		s.WriteUint8(pos, uint8(len(vec)))
		for i, f := range vec {
			s.WriteFloat32(pos+1+4*i, f)
		}
	case document.KindArray, document.KindDocument:
		// Composites delegate to the general codec after the tag byte.
		start := s.off + pos
		appendValue(s.buf[start:start:start+size-1], v)
	}
	return size, nil
}

// ReadIndexKey decodes the compact key at off inside s, returning the value
// and the bytes consumed.
//
// Index pages are written exclusively by this codec, so the input is trusted:
// an unknown tag byte is an internal-consistency violation and panics rather
// than returning an error.
func ReadIndexKey(s Slice, off int) (document.Value, int) {
	kind := document.Kind(s.ReadUint8(off))
	pos := off + 1

	switch kind {
	case document.KindNull:
		return document.Null(), 1
	case document.KindMinValue:
		return document.MinValue(), 1
	case document.KindMaxValue:
		return document.MaxValue(), 1
	case document.KindInt32:
		return document.Int32(s.ReadInt32(pos)), 1 + 4
	case document.KindInt64:
		return document.Int64(s.ReadInt64(pos)), 1 + 8
	case document.KindDouble:
		return document.Double(s.ReadFloat64(pos)), 1 + 8
	case document.KindDecimal:
		return document.Decimal(s.ReadDecimal(pos)), 1 + 16
	case document.KindBoolean:
		return document.Bool(s.ReadBool(pos)), 1 + 1
	case document.KindDateTime:
		return document.DateTime(s.ReadDateTime(pos)), 1 + 8
	case document.KindObjectID:
		return document.ObjectID(s.ReadObjectID(pos)), 1 + 12
	case document.KindGUID:
		return document.GUID(s.ReadGUID(pos)), 1 + 16
	case document.KindString:
		n := int(s.ReadUint8(pos))
		return document.String(s.ReadString(pos+1, n)), 1 + 1 + n
	case document.KindBinary:
		n := int(s.ReadUint8(pos))
		b := make([]byte, n)
		copy(b, s.ReadBytes(pos+1, n))
		return document.Binary(b), 1 + 1 + n
	case document.KindVector:
		n := int(s.ReadUint8(pos))
		vec := make([]float32, n)
		for i := range vec {
			vec[i] = s.ReadFloat32(pos + 1 + 4*i)
		}
		return document.Vector(vec), 1 + 1 + 4*n
	case document.KindArray, document.KindDocument:
		v, n, err := decodeValue(s.Bytes()[pos:], kind, &decodeOptions{}, 0)
		if err != nil {
			panic(fmt.Sprintf("codec: corrupt composite index key: %v", err))
		}
		return v, 1 + n
	default:
		panic(fmt.Sprintf("codec: unknown index key tag %d", kind))
	}
}

// EncodeIndexKey encodes v into a fresh buffer in the compact key form.
func EncodeIndexKey(v document.Value) ([]byte, error) {
	size, err := IndexKeySize(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := WriteIndexKey(FullSlice(buf), 0, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeIndexKey decodes a compact key from the start of b.
func DecodeIndexKey(b []byte) (document.Value, int) {
	return ReadIndexKey(FullSlice(b), 0)
}
