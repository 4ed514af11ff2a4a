// Package codec reads and writes docgo values inside fixed-size page buffers.
//
// The Slice view gives fixed-width scalar access at caller-supplied offsets.
// On top of it sit the compact order-aware index-key form used by key lookups
// and the general recursive document codec used for record payloads.
//
// The codec is a breaking-change boundary: bytes written by one layout cannot
// be decoded by another, so tag values and field widths are frozen. Scalar
// operations are total functions over well-formed input; the caller
// guarantees offsets and kinds, and malformed input at that layer is a
// contract violation, not a reported error. Only the general document decoder
// validates its input, because recovery feeds it bytes from damaged files.
package codec
