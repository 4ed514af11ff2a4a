package document

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// Kind identifies the concrete type stored in a Value.
//
// The numeric values double as the persisted tag bytes; they must never be
// renumbered.
type Kind uint8

const (
	// KindInvalid is the zero Kind. A zero Value is invalid and must not be
	// persisted.
	KindInvalid Kind = 0
	// KindMinValue is the open-ended lower bound; it sorts before every other
	// value.
	KindMinValue Kind = 1
	// KindNull represents an explicit null.
	KindNull Kind = 2
	// KindInt32 represents a 32-bit signed integer.
	KindInt32 Kind = 3
	// KindInt64 represents a 64-bit signed integer.
	KindInt64 Kind = 4
	// KindDouble represents an IEEE 754 64-bit float.
	KindDouble Kind = 5
	// KindDecimal represents a 128-bit high-precision decimal.
	KindDecimal Kind = 6
	// KindString represents a UTF-8 string.
	KindString Kind = 7
	// KindDocument represents a nested ordered document.
	KindDocument Kind = 8
	// KindArray represents an ordered sequence of values.
	KindArray Kind = 9
	// KindBinary represents an opaque byte blob.
	KindBinary Kind = 10
	// KindObjectID represents a 96-bit unique identifier.
	KindObjectID Kind = 11
	// KindGUID represents a 128-bit globally-unique identifier.
	KindGUID Kind = 12
	// KindBoolean represents a boolean.
	KindBoolean Kind = 13
	// KindDateTime represents an absolute timestamp. The wire form is always
	// UTC; conversion to local time happens on read only.
	KindDateTime Kind = 14
	// KindVector represents a fixed-length sequence of 32-bit floats.
	KindVector Kind = 15
	// KindMaxValue is the open-ended upper bound; it sorts after every other
	// value. It doubles as the similarity scorer's incomparable sentinel.
	KindMaxValue Kind = 255
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindMinValue:
		return "minvalue"
	case KindNull:
		return "null"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindDocument:
		return "document"
	case KindArray:
		return "array"
	case KindBinary:
		return "binary"
	case KindObjectID:
		return "objectid"
	case KindGUID:
		return "guid"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "datetime"
	case KindVector:
		return "vector"
	case KindMaxValue:
		return "maxvalue"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(k))
	}
}

// Value is a single typed database value.
//
// Values are immutable once constructed; composite kinds (document, array,
// vector, binary) share their backing storage with the constructor argument,
// so callers must not mutate a slice after handing it to a constructor.
type Value struct {
	kind Kind
	i64  int64      // int32, int64
	f64  float64    // double
	b    bool       // boolean
	t    time.Time  // datetime
	dec  Decimal128 // decimal
	str  string     // string
	bin  []byte     // binary
	id   [16]byte   // objectid (12 bytes) and guid (16 bytes)
	vec  []float32  // vector
	arr  []Value    // array
	doc  *Document  // document
}

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value carries a concrete kind.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// IsNull reports whether the value is an explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumeric reports whether the value is int32, int64, double or decimal.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		return true
	default:
		return false
	}
}

// Null returns a null Value.
func Null() Value { return Value{kind: KindNull} }

// MinValue returns the lower-bound sentinel Value.
func MinValue() Value { return Value{kind: KindMinValue} }

// MaxValue returns the upper-bound sentinel Value.
func MaxValue() Value { return Value{kind: KindMaxValue} }

// Int32 returns an int32 Value.
func Int32(v int32) Value { return Value{kind: KindInt32, i64: int64(v)} }

// Int64 returns an int64 Value.
func Int64(v int64) Value { return Value{kind: KindInt64, i64: v} }

// Double returns a double Value.
func Double(v float64) Value { return Value{kind: KindDouble, f64: v} }

// Decimal returns a decimal Value.
func Decimal(v Decimal128) Value { return Value{kind: KindDecimal, dec: v} }

// String returns a string Value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBoolean, b: v} }

// DateTime returns a datetime Value. The instant is preserved exactly; the
// location only affects how accessors render it.
func DateTime(v time.Time) Value { return Value{kind: KindDateTime, t: v} }

// Binary returns a binary Value aliasing v.
func Binary(v []byte) Value { return Value{kind: KindBinary, bin: v} }

// ObjectID returns an ObjectId Value.
func ObjectID(v xid.ID) Value {
	val := Value{kind: KindObjectID}
	copy(val.id[:12], v[:])
	return val
}

// NewObjectID returns a Value holding a freshly generated ObjectId.
func NewObjectID() Value { return ObjectID(xid.New()) }

// GUID returns a GUID Value.
func GUID(v uuid.UUID) Value {
	val := Value{kind: KindGUID}
	copy(val.id[:], v[:])
	return val
}

// NewGUID returns a Value holding a freshly generated random GUID.
func NewGUID() Value { return GUID(uuid.New()) }

// Array returns an array Value aliasing v.
func Array(v ...Value) Value { return Value{kind: KindArray, arr: v} }

// Vector returns a vector Value aliasing v.
func Vector(v []float32) Value { return Value{kind: KindVector, vec: v} }

// FromDocument returns a document Value referencing d.
func FromDocument(d *Document) Value { return Value{kind: KindDocument, doc: d} }

// AsInt32 returns the int32 value if Kind is KindInt32.
func (v Value) AsInt32() (int32, bool) {
	if v.kind != KindInt32 {
		return 0, false
	}
	return int32(v.i64), true
}

// AsInt64 returns the int64 value if Kind is KindInt64.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindInt64 {
		return 0, false
	}
	return v.i64, true
}

// AsDouble returns the float64 value if Kind is KindDouble.
func (v Value) AsDouble() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.f64, true
}

// AsDecimal returns the decimal value if Kind is KindDecimal.
func (v Value) AsDecimal() (Decimal128, bool) {
	if v.kind != KindDecimal {
		return Decimal128{}, false
	}
	return v.dec, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsBool returns the boolean value if Kind is KindBoolean.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.b, true
}

// AsDateTime returns the timestamp if Kind is KindDateTime.
func (v Value) AsDateTime() (time.Time, bool) {
	if v.kind != KindDateTime {
		return time.Time{}, false
	}
	return v.t, true
}

// AsBinary returns the byte blob if Kind is KindBinary. The returned slice
// aliases the value's storage.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return v.bin, true
}

// AsObjectID returns the ObjectId if Kind is KindObjectID.
func (v Value) AsObjectID() (xid.ID, bool) {
	if v.kind != KindObjectID {
		return xid.ID{}, false
	}
	var id xid.ID
	copy(id[:], v.id[:12])
	return id, true
}

// AsGUID returns the GUID if Kind is KindGUID.
func (v Value) AsGUID() (uuid.UUID, bool) {
	if v.kind != KindGUID {
		return uuid.UUID{}, false
	}
	return uuid.UUID(v.id), true
}

// AsArray returns the element slice if Kind is KindArray. The returned slice
// aliases the value's storage.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsVector returns the float32 slice if Kind is KindVector. The returned
// slice aliases the value's storage.
func (v Value) AsVector() ([]float32, bool) {
	if v.kind != KindVector {
		return nil, false
	}
	return v.vec, true
}

// AsDocument returns the nested document if Kind is KindDocument.
func (v Value) AsDocument() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// Float64 returns the value widened to float64 for any numeric kind.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(v.i64), true
	case KindDouble:
		return v.f64, true
	case KindDecimal:
		return v.dec.Float64(), true
	default:
		return 0, false
	}
}

// Equal reports whether v and o compare equal under binary collation.
func (v Value) Equal(o Value) bool { return Compare(v, o, nil) == 0 }

// String implements fmt.Stringer. The rendering is for diagnostics only and
// is not a stable serialization format.
func (v Value) String() string {
	switch v.kind {
	case KindMinValue:
		return "$minvalue"
	case KindNull:
		return "null"
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i64, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case KindDecimal:
		return v.dec.String()
	case KindString:
		return strconv.Quote(v.str)
	case KindDocument:
		return v.doc.String()
	case KindArray:
		parts := make([]string, len(v.arr))
		for i := range v.arr {
			parts[i] = v.arr[i].String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindBinary:
		return "0x" + hex.EncodeToString(v.bin)
	case KindObjectID:
		id, _ := v.AsObjectID()
		return id.String()
	case KindGUID:
		return uuid.UUID(v.id).String()
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindVector:
		parts := make([]string, len(v.vec))
		for i, f := range v.vec {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindMaxValue:
		return "$maxvalue"
	default:
		return "$invalid"
	}
}

// decimalValue widens any numeric kind to a shopspring decimal for cross-kind
// comparison.
func (v Value) decimalValue() decimal.Decimal {
	switch v.kind {
	case KindInt32, KindInt64:
		return decimal.NewFromInt(v.i64)
	case KindDouble:
		return decimal.NewFromFloat(v.f64)
	case KindDecimal:
		return v.dec.Decimal()
	default:
		return decimal.Decimal{}
	}
}
