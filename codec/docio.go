package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/docgo/document"
)

// ErrInvalidDocument is returned when document bytes cannot be decoded.
var ErrInvalidDocument = errors.New("codec: invalid document data")

// maxNestingDepth bounds composite recursion during decode so corrupt length
// fields cannot blow the stack.
const maxNestingDepth = 256

type decodeOptions struct {
	localTime bool
}

// DecodeOption configures document decoding.
type DecodeOption func(*decodeOptions)

// WithLocalTime converts timestamps to the local time zone on read. The wire
// form stays UTC either way.
func WithLocalTime() DecodeOption {
	return func(o *decodeOptions) { o.localTime = true }
}

// ValueSize returns the encoded payload size of v, excluding its tag byte.
// It panics on an invalid value.
func ValueSize(v document.Value) int {
	switch v.Kind() {
	case document.KindNull, document.KindMinValue, document.KindMaxValue:
		return 0
	case document.KindInt32:
		return 4
	case document.KindInt64, document.KindDouble, document.KindDateTime:
		return 8
	case document.KindDecimal:
		return 16
	case document.KindBoolean:
		return 1
	case document.KindObjectID:
		return 12
	case document.KindGUID:
		return 16
	case document.KindString:
		s, _ := v.AsString()
		return uvarintLen(uint64(len(s))) + len(s)
	case document.KindBinary:
		b, _ := v.AsBinary()
		return uvarintLen(uint64(len(b))) + len(b)
	case document.KindVector:
		vec, _ := v.AsVector()
		return uvarintLen(uint64(len(vec))) + 4*len(vec)
	case document.KindArray:
		arr, _ := v.AsArray()
		n := uvarintLen(uint64(len(arr)))
		for _, el := range arr {
			n += 1 + ValueSize(el)
		}
		return n
	case document.KindDocument:
		d, _ := v.AsDocument()
		return DocumentSize(d)
	default:
		panic(fmt.Sprintf("codec: size of invalid value kind %d", v.Kind()))
	}
}

// DocumentSize returns the full encoded size of d, including the leading
// length word.
func DocumentSize(d *document.Document) int {
	n := 4
	for k, v := range d.Fields() {
		n += uvarintLen(uint64(len(k))) + len(k) + 1 + ValueSize(v)
	}
	return n
}

// EncodeDocument encodes d into a fresh buffer.
func EncodeDocument(d *document.Document) []byte {
	return AppendDocument(make([]byte, 0, DocumentSize(d)), d)
}

// AppendDocument appends the encoded form of d to dst.
//
// Layout: a uint32 total length (including the length word itself), then per
// field a uvarint key length, the key bytes, the value tag and the value
// payload. Field order is preserved.
func AppendDocument(dst []byte, d *document.Document) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	for k, v := range d.Fields() {
		dst = binary.AppendUvarint(dst, uint64(len(k)))
		dst = append(dst, k...)
		dst = append(dst, byte(v.Kind()))
		dst = appendValue(dst, v)
	}
	binary.LittleEndian.PutUint32(dst[start:], uint32(len(dst)-start)) //nolint:gosec // bounded by page size upstream
	return dst
}

// WriteDocument encodes d at off inside s and returns the bytes written. The
// caller guarantees the window is large enough (check DocumentSize first);
// a short window panics.
func WriteDocument(s Slice, off int, d *document.Document) int {
	n := DocumentSize(d)
	start := s.off + off
	AppendDocument(s.buf[start:start:start+n], d)
	return n
}

// appendValue appends the payload of v (no tag byte). Panics on an invalid
// kind: values reaching the encoder were constructed by this process, so an
// unknown kind is an internal-consistency violation.
func appendValue(dst []byte, v document.Value) []byte {
	switch v.Kind() {
	case document.KindNull, document.KindMinValue, document.KindMaxValue:
		return dst
	case document.KindInt32:
		n, _ := v.AsInt32()
		return binary.LittleEndian.AppendUint32(dst, uint32(n)) //nolint:gosec // two's-complement round trip
	case document.KindInt64:
		n, _ := v.AsInt64()
		return binary.LittleEndian.AppendUint64(dst, uint64(n)) //nolint:gosec // two's-complement round trip
	case document.KindDouble:
		f, _ := v.AsDouble()
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
	case document.KindDecimal:
		dec, _ := v.AsDecimal()
		dst = binary.LittleEndian.AppendUint32(dst, dec.Lo)
		dst = binary.LittleEndian.AppendUint32(dst, dec.Mid)
		dst = binary.LittleEndian.AppendUint32(dst, dec.Hi)
		return binary.LittleEndian.AppendUint32(dst, dec.Flags)
	case document.KindString:
		s, _ := v.AsString()
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...)
	case document.KindBinary:
		b, _ := v.AsBinary()
		dst = binary.AppendUvarint(dst, uint64(len(b)))
		return append(dst, b...)
	case document.KindObjectID:
		id, _ := v.AsObjectID()
		return append(dst, id[:]...)
	case document.KindGUID:
		id, _ := v.AsGUID()
		return append(dst, id[:]...)
	case document.KindBoolean:
		b, _ := v.AsBool()
		if b {
			return append(dst, 1)
		}
		return append(dst, 0)
	case document.KindDateTime:
		t, _ := v.AsDateTime()
		return binary.LittleEndian.AppendUint64(dst, uint64(t.UnixNano())) //nolint:gosec // two's-complement round trip
	case document.KindVector:
		vec, _ := v.AsVector()
		dst = binary.AppendUvarint(dst, uint64(len(vec)))
		for _, f := range vec {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
		}
		return dst
	case document.KindArray:
		arr, _ := v.AsArray()
		dst = binary.AppendUvarint(dst, uint64(len(arr)))
		for _, el := range arr {
			dst = append(dst, byte(el.Kind()))
			dst = appendValue(dst, el)
		}
		return dst
	case document.KindDocument:
		d, _ := v.AsDocument()
		return AppendDocument(dst, d)
	default:
		panic(fmt.Sprintf("codec: encode invalid value kind %d", v.Kind()))
	}
}

// DecodeDocument decodes a document from the start of b, returning the
// document and the bytes consumed. Unlike the scalar layer this validates
// everything, because rebuild feeds it bytes from damaged files.
func DecodeDocument(b []byte, opts ...DecodeOption) (*document.Document, int, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return decodeDocument(b, &o, 0)
}

// ReadDocument decodes a document at off inside s.
func ReadDocument(s Slice, off int, opts ...DecodeOption) (*document.Document, int, error) {
	return DecodeDocument(s.Bytes()[off:], opts...)
}

func decodeDocument(b []byte, o *decodeOptions, depth int) (*document.Document, int, error) {
	if depth > maxNestingDepth {
		return nil, 0, fmt.Errorf("codec: nesting exceeds %d levels: %w", maxNestingDepth, ErrInvalidDocument)
	}
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("codec: short document header: %w", ErrInvalidDocument)
	}
	total := int(binary.LittleEndian.Uint32(b))
	if total < 4 || total > len(b) {
		return nil, 0, fmt.Errorf("codec: document length %d out of range: %w", total, ErrInvalidDocument)
	}

	d := document.NewDocument()
	pos := 4
	for pos < total {
		keyLen, n := binary.Uvarint(b[pos:total])
		if n <= 0 || keyLen > uint64(total-pos-n) {
			return nil, 0, fmt.Errorf("codec: bad field key length: %w", ErrInvalidDocument)
		}
		pos += n
		key := string(b[pos : pos+int(keyLen)])
		pos += int(keyLen)

		if pos >= total {
			return nil, 0, fmt.Errorf("codec: missing tag for field %q: %w", key, ErrInvalidDocument)
		}
		kind := document.Kind(b[pos])
		pos++

		v, n, err := decodeValue(b[pos:total], kind, o, depth)
		if err != nil {
			return nil, 0, fmt.Errorf("codec: field %q: %w", key, err)
		}
		pos += n
		d.Set(key, v)
	}
	if pos != total {
		return nil, 0, fmt.Errorf("codec: document overruns its length: %w", ErrInvalidDocument)
	}
	return d, total, nil
}

// decodeValue decodes one tagged payload from the start of b.
func decodeValue(b []byte, kind document.Kind, o *decodeOptions, depth int) (document.Value, int, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("codec: truncated %s payload: %w", kind, ErrInvalidDocument)
		}
		return nil
	}

	switch kind {
	case document.KindNull:
		return document.Null(), 0, nil
	case document.KindMinValue:
		return document.MinValue(), 0, nil
	case document.KindMaxValue:
		return document.MaxValue(), 0, nil
	case document.KindInt32:
		if err := need(4); err != nil {
			return document.Value{}, 0, err
		}
		return document.Int32(int32(binary.LittleEndian.Uint32(b))), 4, nil //nolint:gosec // two's-complement round trip
	case document.KindInt64:
		if err := need(8); err != nil {
			return document.Value{}, 0, err
		}
		return document.Int64(int64(binary.LittleEndian.Uint64(b))), 8, nil //nolint:gosec // two's-complement round trip
	case document.KindDouble:
		if err := need(8); err != nil {
			return document.Value{}, 0, err
		}
		return document.Double(math.Float64frombits(binary.LittleEndian.Uint64(b))), 8, nil
	case document.KindDecimal:
		if err := need(16); err != nil {
			return document.Value{}, 0, err
		}
		return document.Decimal(document.Decimal128{
			Lo:    binary.LittleEndian.Uint32(b),
			Mid:   binary.LittleEndian.Uint32(b[4:]),
			Hi:    binary.LittleEndian.Uint32(b[8:]),
			Flags: binary.LittleEndian.Uint32(b[12:]),
		}), 16, nil
	case document.KindString:
		raw, n, err := decodeBlob(b, kind)
		if err != nil {
			return document.Value{}, 0, err
		}
		return document.String(string(raw)), n, nil
	case document.KindBinary:
		raw, n, err := decodeBlob(b, kind)
		if err != nil {
			return document.Value{}, 0, err
		}
		bin := make([]byte, len(raw))
		copy(bin, raw)
		return document.Binary(bin), n, nil
	case document.KindObjectID:
		if err := need(12); err != nil {
			return document.Value{}, 0, err
		}
		s := FullSlice(b)
		return document.ObjectID(s.ReadObjectID(0)), 12, nil
	case document.KindGUID:
		if err := need(16); err != nil {
			return document.Value{}, 0, err
		}
		s := FullSlice(b)
		return document.GUID(s.ReadGUID(0)), 16, nil
	case document.KindBoolean:
		if err := need(1); err != nil {
			return document.Value{}, 0, err
		}
		return document.Bool(b[0] != 0), 1, nil
	case document.KindDateTime:
		if err := need(8); err != nil {
			return document.Value{}, 0, err
		}
		t := time.Unix(0, int64(binary.LittleEndian.Uint64(b))) //nolint:gosec // two's-complement round trip
		if o.localTime {
			return document.DateTime(t.Local()), 8, nil
		}
		return document.DateTime(t.UTC()), 8, nil
	case document.KindVector:
		count, n := binary.Uvarint(b)
		if n <= 0 || count > uint64((len(b)-n)/4) {
			return document.Value{}, 0, fmt.Errorf("codec: bad vector length: %w", ErrInvalidDocument)
		}
		vec := make([]float32, count)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[n+4*i:]))
		}
		return document.Vector(vec), n + 4*int(count), nil
	case document.KindArray:
		count, n := binary.Uvarint(b)
		if n <= 0 || count > uint64(len(b)-n) {
			return document.Value{}, 0, fmt.Errorf("codec: bad array length: %w", ErrInvalidDocument)
		}
		arr := make([]document.Value, 0, count)
		pos := n
		for range count {
			if pos >= len(b) {
				return document.Value{}, 0, fmt.Errorf("codec: truncated array: %w", ErrInvalidDocument)
			}
			elKind := document.Kind(b[pos])
			pos++
			el, m, err := decodeValue(b[pos:], elKind, o, depth+1)
			if err != nil {
				return document.Value{}, 0, err
			}
			arr = append(arr, el)
			pos += m
		}
		return document.Array(arr...), pos, nil
	case document.KindDocument:
		d, n, err := decodeDocument(b, o, depth+1)
		if err != nil {
			return document.Value{}, 0, err
		}
		return document.FromDocument(d), n, nil
	default:
		return document.Value{}, 0, fmt.Errorf("codec: unknown value tag %d: %w", kind, ErrInvalidDocument)
	}
}

// decodeBlob reads a uvarint-length-prefixed byte run shared by string and
// binary payloads. The returned bytes alias b.
func decodeBlob(b []byte, kind document.Kind) ([]byte, int, error) {
	size, n := binary.Uvarint(b)
	if n <= 0 || size > uint64(len(b)-n) {
		return nil, 0, fmt.Errorf("codec: bad %s length: %w", kind, ErrInvalidDocument)
	}
	return b[n : n+int(size)], n + int(size), nil
}

// uvarintLen returns the encoded size of v as a uvarint.
func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
