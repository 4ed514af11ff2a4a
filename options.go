package docgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/recovery"
)

type options struct {
	collation        *document.Collation
	autoID           engine.AutoID
	readOnly         bool
	timeout          time.Duration
	cacheSize        int64
	walOptions       *engine.WALOptions
	bulkLoad         bool
	metricsObserver  engine.MetricsObserver
	metricsCollector MetricsCollector
	logger           *Logger
	autoRebuild      bool
	rebuildOpts      []func(o *recovery.Options)
}

// Option configures Open behavior.
type Option func(*options)

// WithCollation sets the collation for a newly created datafile, and pins the
// expected collation when opening an existing one. Opening a file created
// with a different collation fails with engine.ErrCollationMismatch.
//
// Example:
//
//	db, err := docgo.Open("data.db", docgo.WithCollation(document.MustCollation("en-US/IgnoreCase")))
func WithCollation(c *document.Collation) Option {
	return func(o *options) {
		o.collation = c
	}
}

// WithAutoID selects how missing _id values are generated on insert.
// The default assigns ObjectIds.
func WithAutoID(a engine.AutoID) Option {
	return func(o *options) {
		o.autoID = a
	}
}

// WithReadOnly opens the datafile without taking the write lock. All mutating
// operations fail with engine.ErrReadOnly, and damaged files are not rebuilt.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithTimeout bounds how long Open waits for the datafile lock.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithCacheSize caps the page cache at the given number of bytes.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheSize = bytes
	}
}

// WithWALOptions tunes write-ahead log durability and compression.
//
// Example:
//
//	opts := engine.DefaultWALOptions()
//	opts.SyncOnCommit = false
//	db, err := docgo.Open("data.db", docgo.WithWALOptions(opts))
func WithWALOptions(opts engine.WALOptions) Option {
	return func(o *options) {
		o.walOptions = &opts
	}
}

// WithBulkLoad trades durability for insert throughput while loading large
// datasets. Close (or Checkpoint) makes the data durable.
func WithBulkLoad() Option {
	return func(o *options) {
		o.bulkLoad = true
	}
}

// WithMetricsObserver forwards low-level engine events (commits, checkpoints,
// page reads) to observer. For operation-level metrics use
// WithMetricsCollector instead.
func WithMetricsObserver(observer engine.MetricsObserver) Option {
	return func(o *options) {
		o.metricsObserver = observer
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &docgo.BasicMetricsCollector{}
//	db, _ := docgo.Open("data.db", docgo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := docgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := docgo.Open("data.db", docgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithoutAutoRebuild disables the automatic rebuild that Open runs when the
// datafile is flagged invalid or fails to parse. Open then surfaces the
// engine error unchanged.
func WithoutAutoRebuild() Option {
	return func(o *options) {
		o.autoRebuild = false
	}
}

// WithRebuild sets default recovery options for every rebuild this DB runs,
// including the automatic one during Open. Options passed to DB.Rebuild
// directly are applied on top.
//
// Example:
//
//	db, err := docgo.Open("data.db", docgo.WithRebuild(docgo.WithArchive(store)))
func WithRebuild(optFns ...func(o *recovery.Options)) Option {
	return func(o *options) {
		o.rebuildOpts = append(o.rebuildOpts, optFns...)
	}
}

// WithArchive uploads the pre-rebuild backup (and its WAL, if present) to the
// given blob store after a successful rebuild. It is a rebuild option; pass
// it to Rebuild, DB.Rebuild or WithRebuild.
//
// Example:
//
//	store := blobstore.NewMemory()
//	res, err := docgo.Rebuild(ctx, "data.db", docgo.WithArchive(store))
func WithArchive(s blobstore.Store) func(o *recovery.Options) {
	return func(o *recovery.Options) {
		o.Archive = s
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		autoRebuild:      true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
