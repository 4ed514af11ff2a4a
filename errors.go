package docgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/engine"
)

var (
	// ErrNotFound is returned when a document or collection is not found.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when the DB has been closed.
	ErrClosed = errors.New("database closed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// translateError maps engine errors onto the package sentinels. The engine
// error stays reachable via errors.Is / errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, engine.ErrDocumentNotFound) || errors.Is(err, engine.ErrCollectionNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
