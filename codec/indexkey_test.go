package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
)

func TestIndexKeyRoundTrip(t *testing.T) {
	dec, err := document.ParseDecimal128("79228162514264337593543950335")
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)

	tests := []struct {
		name string
		v    document.Value
		size int
	}{
		{"Null", document.Null(), 1},
		{"MinValue", document.MinValue(), 1},
		{"MaxValue", document.MaxValue(), 1},
		{"Int32", document.Int32(-123456), 5},
		{"Int64", document.Int64(1 << 60), 9},
		{"Double", document.Double(-0.125), 9},
		{"Decimal", document.Decimal(dec), 17},
		{"BoolTrue", document.Bool(true), 2},
		{"BoolFalse", document.Bool(false), 2},
		{"DateTime", document.DateTime(ts), 9},
		{"ObjectID", document.NewObjectID(), 13},
		{"GUID", document.NewGUID(), 17},
		{"EmptyString", document.String(""), 2},
		{"String", document.String("hello world"), 13},
		{"MaxString", document.String(strings.Repeat("k", 255)), 257},
		{"Binary", document.Binary([]byte{0, 1, 2, 255}), 6},
		{"Vector", document.Vector([]float32{1, 0, -2.5}), 14},
		{"Array", document.Array(document.Int32(1), document.String("x")), 0},
		{"Document", document.FromDocument(document.NewDocument().
			Set("a", document.Int64(9)).
			Set("b", document.Bool(true))), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeIndexKey(tt.v)
			require.NoError(t, err)
			if tt.size > 0 {
				assert.Len(t, encoded, tt.size)
			}

			got, n := DecodeIndexKey(encoded)
			assert.Equal(t, len(encoded), n, "decode must consume exactly what encode produced")
			assert.Equal(t, 0, document.Compare(tt.v, got, nil),
				"round trip changed the value: %s -> %s", tt.v, got)
		})
	}
}

func TestIndexKeyInsidePage(t *testing.T) {
	// Keys written mid-page decode from the same offset.
	page := make([]byte, 16384)
	s := NewSlice(page, 4096, 8192)

	v := document.String("offset test")
	n, err := WriteIndexKey(s, 100, v)
	require.NoError(t, err)

	got, m := ReadIndexKey(s, 100)
	assert.Equal(t, n, m)
	assert.True(t, v.Equal(got))

	// The surrounding page bytes stay untouched.
	assert.Equal(t, byte(0), page[4096+99])
	assert.Equal(t, byte(0), page[4096+100+n])
}

func TestIndexKeyTooLong(t *testing.T) {
	tests := []struct {
		name string
		v    document.Value
	}{
		{"String256", document.String(strings.Repeat("x", 256))},
		{"Binary256", document.Binary(make([]byte, 256))},
		{"Vector256", document.Vector(make([]float32, 256))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeIndexKey(tt.v)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIndexKeyTooLong)

			_, err = IndexKeySize(tt.v)
			assert.ErrorIs(t, err, ErrIndexKeyTooLong)
		})
	}
}

func TestIndexKeyEquality(t *testing.T) {
	// Equal values encode to identical bytes, distinct values to distinct
	// bytes; the primary-key index relies on both directions.
	a, err := EncodeIndexKey(document.Int64(42))
	require.NoError(t, err)
	b, err := EncodeIndexKey(document.Int64(42))
	require.NoError(t, err)
	c, err := EncodeIndexKey(document.Int64(43))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Same payload bytes under different kinds stay distinct by tag.
	i32, err := EncodeIndexKey(document.Int32(1))
	require.NoError(t, err)
	b32, err := EncodeIndexKey(document.Binary([]byte{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.NotEqual(t, i32, b32)
}

func TestIndexKeyUnknownTagPanics(t *testing.T) {
	assert.Panics(t, func() {
		DecodeIndexKey([]byte{0x7F, 0, 0, 0})
	})
}

func TestIndexKeyOrderedDecodeCompare(t *testing.T) {
	// The key form is compared after decoding; check a sorted sample stays
	// sorted through an encode/decode cycle.
	ordered := []document.Value{
		document.MinValue(),
		document.Null(),
		document.Int32(-5),
		document.Double(3.25),
		document.Int64(1000),
		document.String("a"),
		document.String("b"),
		document.Bool(false),
		document.Bool(true),
		document.MaxValue(),
	}

	for i := range len(ordered) - 1 {
		ea, err := EncodeIndexKey(ordered[i])
		require.NoError(t, err)
		eb, err := EncodeIndexKey(ordered[i+1])
		require.NoError(t, err)

		da, _ := DecodeIndexKey(ea)
		db, _ := DecodeIndexKey(eb)
		assert.Negative(t, document.Compare(da, db, nil),
			"%s must still sort before %s after a round trip", ordered[i], ordered[i+1])
	}
}
