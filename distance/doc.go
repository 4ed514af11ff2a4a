// Package distance provides the cosine-distance operator used for vector
// similarity queries.
//
// The operator lives at the value layer: its result is an ordinary document
// value, so similarity composes with range filters and ascending sorts like
// any other comparable projection. Incomparable operands do not raise
// errors; they score as the maximum-value sentinel and therefore sort last
// and fail every upper-bound filter.
//
// # Usage
//
//	score := distance.CosineDistance(doc("embedding"), document.Vector(query))
//	d, ok := score.AsDouble() // ok is false for the sentinel
package distance
