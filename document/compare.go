package document

import (
	"bytes"
	"cmp"
	"math"
	"strings"
)

// kindRank groups kinds for cross-kind ordering. All numeric kinds share one
// rank so 3 (int32) == 3.0 (double) under comparison; MinValue sorts before
// and MaxValue after everything else.
func kindRank(k Kind) int {
	switch k {
	case KindMinValue:
		return 0
	case KindNull:
		return 1
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindVector:
		return 6
	case KindBinary:
		return 7
	case KindObjectID:
		return 8
	case KindGUID:
		return 9
	case KindBoolean:
		return 10
	case KindDateTime:
		return 11
	case KindMaxValue:
		return 12
	default:
		return -1
	}
}

// Compare orders two values, returning -1, 0 or +1. Values of different
// kinds order by kind rank, except that all numeric kinds compare by numeric
// value. The collation applies to string comparison only; nil means binary.
func Compare(a, b Value, collation *Collation) int {
	ra, rb := kindRank(a.kind), kindRank(b.kind)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch {
	case a.kind == KindMinValue, a.kind == KindNull, a.kind == KindMaxValue:
		return 0
	case ra == 2:
		return compareNumeric(a, b)
	}

	switch a.kind {
	case KindString:
		if collation != nil {
			return collation.CompareString(a.str, b.str)
		}
		return strings.Compare(a.str, b.str)
	case KindDocument:
		return compareDocuments(a.doc, b.doc, collation)
	case KindArray:
		for i := range min(len(a.arr), len(b.arr)) {
			if c := Compare(a.arr[i], b.arr[i], collation); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.arr), len(b.arr))
	case KindVector:
		for i := range min(len(a.vec), len(b.vec)) {
			if c := compareFloat(float64(a.vec[i]), float64(b.vec[i])); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.vec), len(b.vec))
	case KindBinary:
		return bytes.Compare(a.bin, b.bin)
	case KindObjectID:
		return bytes.Compare(a.id[:12], b.id[:12])
	case KindGUID:
		return bytes.Compare(a.id[:], b.id[:])
	case KindBoolean:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindDateTime:
		return cmp.Compare(a.t.UnixNano(), b.t.UnixNano())
	default:
		return 0
	}
}

// compareNumeric orders any two numeric values. Same-kind integers compare
// directly; any pair involving a decimal goes through the exact decimal path;
// everything else compares as float64.
func compareNumeric(a, b Value) int {
	switch {
	case a.kind == b.kind && (a.kind == KindInt32 || a.kind == KindInt64):
		return cmp.Compare(a.i64, b.i64)
	case a.kind == KindDecimal || b.kind == KindDecimal:
		return a.decimalValue().Cmp(b.decimalValue())
	default:
		af, _ := a.Float64()
		bf, _ := b.Float64()
		return compareFloat(af, bf)
	}
}

// compareFloat orders floats with NaN sorting before every other value, so
// comparison stays total.
func compareFloat(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// compareDocuments orders field-by-field in insertion order: first by field
// name, then by value. A document that is a strict prefix of another sorts
// first.
func compareDocuments(a, b *Document, collation *Collation) int {
	for i := range min(a.Len(), b.Len()) {
		if c := strings.Compare(a.keys[i], b.keys[i]); c != 0 {
			return c
		}
		if c := Compare(a.fields[a.keys[i]], b.fields[b.keys[i]], collation); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Len(), b.Len())
}
