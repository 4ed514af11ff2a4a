package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
)

// Reader streams the recoverable contents of one datafile format version.
// Implementations tolerate damage: whatever they cannot decode becomes a
// Fault instead of an error, and the document stream keeps going. All
// faults are recorded while the reader opens, so Faults is complete before
// the first Documents call.
type Reader interface {
	// Collections returns the recovered collection names in lexical order.
	Collections() []string

	// Documents calls fn for every recoverable document of one collection,
	// in storage order. The walk restarts from the beginning on every
	// call; an error from fn aborts it.
	Documents(ctx context.Context, collection string, fn func(d *document.Document) error) error

	// Pragmas returns the persisted settings recovered from the source.
	Pragmas() engine.Pragmas

	// CollationSpec returns the collation descriptor of the source, empty
	// when none survived.
	CollationSpec() string

	// Faults returns the faults recorded while opening the source.
	Faults() []Fault

	// DroppedFaults reports how many faults were discarded once the list
	// hit its capacity.
	DroppedFaults() int

	// Close releases the source file.
	Close() error
}

// ReaderOptions configure a version reader.
type ReaderOptions struct {
	// MaxFaults bounds the in-memory fault list. Once full, further faults
	// are counted but dropped. Zero or negative keeps every fault.
	MaxFaults int

	// Limiter, when set, bounds source read bandwidth in bytes per second.
	Limiter *rate.Limiter
}

// DefaultReaderOptions returns the default reader configuration.
var DefaultReaderOptions = ReaderOptions{
	MaxFaults: 1024,
}

// sniffLen is the fixed byte count examined during format detection.
const sniffLen = 2 * engine.PageSize

// OpenReader detects the format of the datafile at path and opens the
// matching version reader. Detection examines the first two pages only;
// when no signature matches, it fails with ErrUnrecognizedFormat without
// having touched anything. Files carrying the invalid-state mark are
// accepted, that is the point.
func OpenReader(ctx context.Context, path string, optFns ...func(o *ReaderOptions)) (Reader, error) {
	opts := DefaultReaderOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	f, err := os.Open(path) //nolint:gosec // caller-supplied datafile path
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read header pages of %s: %w", path, err)
	}
	head = head[:n]

	var r Reader

	switch {
	case engine.MatchHeader(head):
		r, err = openV2Reader(ctx, f, head, opts)
	case matchV1Header(head):
		r, err = openV1Reader(ctx, f, opts)
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedFormat, path)
	}

	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return r, nil
}

// throttle charges n bytes against the limiter, splitting oversized reads
// across several waits so a single large record cannot exceed the burst.
func throttle(ctx context.Context, lim *rate.Limiter, n int) error {
	if lim == nil || n <= 0 {
		return nil
	}

	burst := lim.Burst()
	if burst <= 0 {
		return lim.WaitN(ctx, n)
	}

	for n > 0 {
		c := min(n, burst)
		if err := lim.WaitN(ctx, c); err != nil {
			return err
		}
		n -= c
	}

	return nil
}
