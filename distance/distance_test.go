package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosine(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		got, ok := Cosine([]float32{1, 0}, []float32{1, 0})
		require.True(t, ok)
		assert.InDelta(t, 1.0, got, 1e-9)
	})

	t.Run("Orthogonal", func(t *testing.T) {
		got, ok := Cosine([]float32{1, 0}, []float32{0, 1})
		require.True(t, ok)
		assert.InDelta(t, 0.0, got, 1e-9)
	})

	t.Run("Opposite", func(t *testing.T) {
		got, ok := Cosine([]float32{1, 0}, []float32{-1, 0})
		require.True(t, ok)
		assert.InDelta(t, -1.0, got, 1e-9)
	})

	t.Run("ZeroMagnitude", func(t *testing.T) {
		_, ok := Cosine([]float32{0, 0}, []float32{1, 0})
		assert.False(t, ok)
	})
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     document.Value
		expected float64
	}{
		{"Identical", document.Vector([]float32{1, 0}), document.Vector([]float32{1, 0}), 0},
		{"Orthogonal", document.Vector([]float32{1, 0}), document.Vector([]float32{0, 1}), 1},
		{"Halfway", document.Vector([]float32{1, 0}), document.Vector([]float32{1, 1}), 0.2929},
		{"Opposite", document.Vector([]float32{1, 0}), document.Vector([]float32{-1, 0}), 2},
		{"Scaled", document.Vector([]float32{2, 0}), document.Vector([]float32{5, 0}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			require.Equal(t, document.KindDouble, got.Kind())
			d, _ := got.AsDouble()
			assert.InDelta(t, tt.expected, d, 1e-4)
		})
	}
}

func TestCosineDistanceNumericArrays(t *testing.T) {
	dec, err := document.ParseDecimal128("1")
	require.NoError(t, err)

	// Arrays mix numeric kinds freely; everything widens to float64.
	a := document.Array(document.Int32(1), document.Double(0))
	b := document.Array(document.Decimal(dec), document.Int64(0))

	got := CosineDistance(a, b)
	require.Equal(t, document.KindDouble, got.Kind())
	d, _ := got.AsDouble()
	assert.InDelta(t, 0, d, 1e-9)

	// Vector against array works too.
	got = CosineDistance(document.Vector([]float32{1, 0}), a)
	require.Equal(t, document.KindDouble, got.Kind())
	d, _ = got.AsDouble()
	assert.InDelta(t, 0, d, 1e-9)
}

func TestCosineDistanceSentinel(t *testing.T) {
	vec := document.Vector([]float32{1, 0})

	tests := []struct {
		name string
		a, b document.Value
	}{
		{"NotAVector", document.String("x"), vec},
		{"NotAVectorRight", vec, document.Int32(1)},
		{"Null", document.Null(), vec},
		{"MismatchedLengths", vec, document.Vector([]float32{1, 0, 0})},
		{"EmptyOperands", document.Vector(nil), document.Vector(nil)},
		{"ZeroMagnitudeLeft", document.Vector([]float32{0, 0}), vec},
		{"ZeroMagnitudeRight", vec, document.Vector([]float32{0, 0})},
		{"NonNumericElement", document.Array(document.String("a"), document.Int32(0)), vec},
		{"NaNElement", document.Vector([]float32{float32(math.NaN()), 1}), vec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			assert.Equal(t, document.KindMaxValue, got.Kind(),
				"incomparable operands must score as the sentinel, not error")
		})
	}
}

func TestCosineDistanceSymmetry(t *testing.T) {
	pairs := [][2]document.Value{
		{document.Vector([]float32{1, 2, 3}), document.Vector([]float32{-4, 5, 0.5})},
		{document.Vector([]float32{0.1, 0.9}), document.Vector([]float32{0.9, 0.1})},
		{document.Array(document.Int32(3), document.Int64(4)), document.Vector([]float32{4, 3})},
	}

	for _, p := range pairs {
		ab := CosineDistance(p[0], p[1])
		ba := CosineDistance(p[1], p[0])
		da, _ := ab.AsDouble()
		db, _ := ba.AsDouble()
		assert.InDelta(t, da, db, 1e-12)
	}
}

func TestCosineDistanceSentinelSortsLast(t *testing.T) {
	sentinel := CosineDistance(document.Null(), document.Null())
	score := CosineDistance(document.Vector([]float32{1, 0}), document.Vector([]float32{0, 1}))

	assert.Positive(t, document.Compare(sentinel, score, nil),
		"the sentinel must order after every real distance")
}
