// Package document defines the value model of a docgo datafile: a closed
// tagged union of scalar and composite kinds, plus the ordered Document
// container and collation-aware value comparison built on it.
//
// Every Value carries exactly one kind tag; the tag determines the wire layout
// used by the codec package. The kind set is closed: there is no extension
// point for unknown kinds, and persisted tag bytes are stable across versions.
package document
