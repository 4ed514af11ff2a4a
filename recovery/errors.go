package recovery

import "errors"

var (
	// ErrUnrecognizedFormat is returned when the first two pages of a file
	// match no known datafile format. Detection happens before anything is
	// touched, so the source file is intact when this comes back.
	ErrUnrecognizedFormat = errors.New("recovery: unrecognized datafile format")

	// ErrLockTimeout is returned when the datafile stays locked by another
	// process beyond the configured timeout.
	ErrLockTimeout = errors.New("recovery: timeout acquiring file lock")
)
