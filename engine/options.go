package engine

import (
	"time"

	"github.com/hupe1980/docgo/document"
)

// AutoID selects how missing _id values are generated on insert.
type AutoID uint8

const (
	// AutoIDObjectID assigns a new ObjectId. This is the default.
	AutoIDObjectID AutoID = iota
	// AutoIDGUID assigns a random GUID.
	AutoIDGUID
	// AutoIDInt64 assigns the next value of a per-collection sequence.
	AutoIDInt64
)

// Logger is a minimal logging interface so the engine does not force a
// logging library on its embedder.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// noopLogger is a default logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Infof(format string, args ...any)  {}
func (l *noopLogger) Errorf(format string, args ...any) {}

// WALOptions tune the write-ahead log of a datafile.
type WALOptions struct {
	// SyncOnCommit fsyncs the WAL on every commit. Disabling it trades
	// durability of the latest commits for write throughput.
	SyncOnCommit bool

	// Compress enables zstd compression of WAL page images.
	Compress bool

	// CompressionLevel sets the zstd level (1-22) for new WAL files.
	CompressionLevel int
}

// DefaultWALOptions returns the default WAL tuning.
func DefaultWALOptions() WALOptions {
	return WALOptions{
		SyncOnCommit:     true,
		CompressionLevel: 3,
	}
}

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		if observer != nil {
			e.metrics = observer
		}
	}
}

// WithReadOnly opens the datafile for reading only. The file lock is
// shared, so several read-only engines can coexist.
func WithReadOnly() Option {
	return func(e *Engine) {
		e.readOnly = true
	}
}

// WithCollation sets the collation for a newly created datafile. Opening
// an existing file with a different collation fails with
// ErrCollationMismatch; pass nil to accept whatever the file uses.
func WithCollation(c *document.Collation) Option {
	return func(e *Engine) {
		e.reqCollation = c
	}
}

// WithAutoID selects the generator for missing _id values.
func WithAutoID(a AutoID) Option {
	return func(e *Engine) {
		e.autoID = a
	}
}

// WithTimeout overrides the file lock timeout used while opening. Zero
// keeps the persisted TIMEOUT pragma (or its default for new files).
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = d
	}
}

// WithWALOptions sets the WAL tuning.
func WithWALOptions(opts WALOptions) Option {
	return func(e *Engine) {
		e.walOptions = opts
	}
}

// WithCacheSize sets the page cache budget in bytes.
func WithCacheSize(bytes int64) Option {
	return func(e *Engine) {
		if bytes > 0 {
			e.cacheBytes = bytes
		}
	}
}

// WithBulkLoad suppresses automatic checkpoints so large ingests pay for
// page writes once. Close and Checkpoint still fold the WAL back into the
// datafile.
func WithBulkLoad() Option {
	return func(e *Engine) {
		e.bulkLoad = true
	}
}
