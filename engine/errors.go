package engine

import "errors"

var (
	// ErrClosed is returned when the engine has been closed or has shut
	// itself down after an unrecoverable write failure.
	ErrClosed = errors.New("engine closed")

	// ErrReadOnly is returned when a mutating call is made on an engine
	// opened with WithReadOnly.
	ErrReadOnly = errors.New("engine is read-only")

	// ErrInvalidDatafile is returned when a file is not a docgo datafile of
	// the current format version, or when its pages fail to decode.
	ErrInvalidDatafile = errors.New("invalid datafile")

	// ErrInvalidDatafileState is returned when the datafile carries the
	// invalid-state mark and must be rebuilt before use.
	ErrInvalidDatafileState = errors.New("datafile is marked invalid")

	// ErrCollationMismatch is returned when a requested collation differs
	// from the one persisted in the datafile.
	ErrCollationMismatch = errors.New("collation mismatch")

	// ErrCollectionNotFound is returned by operations that require an
	// existing collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName is returned for empty, oversized or
	// non-alphanumeric collection names.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrTooManyCollections is returned when no collection id is left.
	ErrTooManyCollections = errors.New("too many collections")

	// ErrCatalogFull is returned when the collection catalog no longer fits
	// its page.
	ErrCatalogFull = errors.New("catalog page full")

	// ErrInvalidID is returned when a document carries an _id value that
	// cannot serve as a primary key.
	ErrInvalidID = errors.New("invalid document id")

	// ErrDuplicateKey is returned when an inserted _id already exists in
	// the collection.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDocumentNotFound is returned by Get when no document carries the
	// requested _id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentTooLarge is returned when an encoded document exceeds the
	// page capacity.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrSizeLimit is returned when growing the datafile would exceed the
	// LIMIT_SIZE pragma.
	ErrSizeLimit = errors.New("datafile size limit reached")

	// ErrUnknownPragma is returned for pragma names the engine does not
	// know.
	ErrUnknownPragma = errors.New("unknown pragma")

	// ErrInvalidPragmaValue is returned when a pragma value fails
	// validation.
	ErrInvalidPragmaValue = errors.New("invalid pragma value")

	// ErrReadOnlyPragma is returned when setting a pragma that can only be
	// read.
	ErrReadOnlyPragma = errors.New("read-only pragma")

	// ErrStopScan stops a Scan early without reporting an error to the
	// caller.
	ErrStopScan = errors.New("stop scan")
)
