package distance

import (
	"math"

	"github.com/hupe1980/docgo/document"
)

// Dot calculates the dot product of two vectors, accumulating in float64.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Cosine calculates the cosine similarity of two vectors in a single pass.
// Assumes vectors are the same length (caller's responsibility). Returns
// false when either magnitude is zero.
func Cosine(a, b []float32) (float64, bool) {
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), true
}

// CosineDistance computes 1 - cosine similarity between two values, each
// either a vector or a generic numeric array. The result is a Double value
// where 0 means identical direction and larger means less similar, so it
// sorts ascending-is-better.
//
// Incomparable operands (a non-array kind, mismatched lengths, a non-numeric
// element, a zero magnitude, or a NaN result) yield document.MaxValue
// instead of an error, so the operator can run unconditionally inside
// ordering and filtering pipelines.
func CosineDistance(a, b document.Value) document.Value {
	la, oka := operandLen(a)
	lb, okb := operandLen(b)
	if !oka || !okb || la != lb || la == 0 {
		return document.MaxValue()
	}

	var dot, magA, magB float64
	for i := range la {
		x, ok := operandAt(a, i)
		if !ok {
			return document.MaxValue()
		}
		y, ok := operandAt(b, i)
		if !ok {
			return document.MaxValue()
		}
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return document.MaxValue()
	}
	d := 1 - dot/(math.Sqrt(magA)*math.Sqrt(magB))
	if math.IsNaN(d) {
		return document.MaxValue()
	}
	return document.Double(d)
}

// operandLen returns the element count of a vector or array operand.
func operandLen(v document.Value) (int, bool) {
	switch v.Kind() {
	case document.KindVector:
		vec, _ := v.AsVector()
		return len(vec), true
	case document.KindArray:
		arr, _ := v.AsArray()
		return len(arr), true
	default:
		return 0, false
	}
}

// operandAt fetches element i widened to float64. Array elements are fetched
// one at a time rather than materialized into a vector first.
func operandAt(v document.Value, i int) (float64, bool) {
	switch v.Kind() {
	case document.KindVector:
		vec, _ := v.AsVector()
		return float64(vec[i]), true
	case document.KindArray:
		arr, _ := v.AsArray()
		return arr[i].Float64()
	default:
		return 0, false
	}
}
