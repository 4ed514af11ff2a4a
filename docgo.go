package docgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/recovery"
)

// DB is an embedded document database backed by a single datafile.
//
// A DB owns an exclusive lock on its datafile. All methods are safe for
// concurrent use; Rebuild briefly takes the database offline and concurrent
// operations observe ErrClosed until it reopens.
type DB struct {
	path string
	opts options

	mu  sync.RWMutex // guards eng across Rebuild and Close
	eng *engine.Engine

	metrics MetricsCollector
	logger  *Logger
}

// Open opens the datafile at path, creating it when it does not exist.
//
// When the file carries the invalid-state flag (see MarkInvalidState) or its
// header no longer parses, Open rebuilds the file in place and retries once.
// Files written by older releases are upgraded the same way. Disable this
// behavior with WithoutAutoRebuild; it is never attempted in read-only mode.
func Open(path string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	db := &DB{
		path:    path,
		opts:    opts,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}

	eng, err := db.openEngine()
	if err != nil && opts.autoRebuild && !opts.readOnly && rebuildableOpenError(err) {
		db.logger.WarnContext(context.Background(), "datafile damaged, rebuilding",
			"path", path,
			"error", err,
		)
		if _, rerr := recovery.Rebuild(context.Background(), path, db.rebuildOptions()...); rerr != nil {
			if errors.Is(rerr, recovery.ErrUnrecognizedFormat) {
				// The file is not ours at all; the open error says it best.
				return nil, translateError(err)
			}
			return nil, fmt.Errorf("failed to rebuild %s: %w", path, rerr)
		}
		eng, err = db.openEngine()
	}
	if err != nil {
		return nil, translateError(err)
	}

	db.eng = eng
	return db, nil
}

// rebuildableOpenError reports whether a rebuild can lift the open failure.
func rebuildableOpenError(err error) bool {
	return errors.Is(err, engine.ErrInvalidDatafileState) || errors.Is(err, engine.ErrInvalidDatafile)
}

func (db *DB) openEngine() (*engine.Engine, error) {
	engOpts := []engine.Option{
		engine.WithLogger(db.logger.engineLogger()),
		engine.WithAutoID(db.opts.autoID),
	}
	if db.opts.collation != nil {
		engOpts = append(engOpts, engine.WithCollation(db.opts.collation))
	}
	if db.opts.readOnly {
		engOpts = append(engOpts, engine.WithReadOnly())
	}
	if db.opts.timeout > 0 {
		engOpts = append(engOpts, engine.WithTimeout(db.opts.timeout))
	}
	if db.opts.cacheSize > 0 {
		engOpts = append(engOpts, engine.WithCacheSize(db.opts.cacheSize))
	}
	if db.opts.walOptions != nil {
		engOpts = append(engOpts, engine.WithWALOptions(*db.opts.walOptions))
	}
	if db.opts.bulkLoad {
		engOpts = append(engOpts, engine.WithBulkLoad())
	}
	if db.opts.metricsObserver != nil {
		engOpts = append(engOpts, engine.WithMetricsObserver(db.opts.metricsObserver))
	}
	return engine.Open(db.path, engOpts...)
}

// rebuildOptions assembles the recovery options for any rebuild this DB runs,
// layering the caller's option functions on top of the configured defaults.
func (db *DB) rebuildOptions(optFns ...func(o *recovery.Options)) []func(o *recovery.Options) {
	base := []func(o *recovery.Options){
		func(o *recovery.Options) {
			o.Logger = db.logger.engineLogger()
			if db.opts.collation != nil {
				o.Collation = db.opts.collation
			}
		},
	}
	base = append(base, db.opts.rebuildOpts...)
	return append(base, optFns...)
}

// engine returns the live engine, or ErrClosed after Close.
func (db *DB) engine() (*engine.Engine, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.eng == nil {
		return nil, ErrClosed
	}
	return db.eng, nil
}

// Path returns the datafile path this DB was opened with.
func (db *DB) Path() string { return db.path }

// Insert stores docs in the named collection, creating the collection on
// first use. Documents without an _id field are assigned one; the generated
// or existing _id of each document is returned in order.
func (db *DB) Insert(ctx context.Context, collection string, docs ...*document.Document) ([]document.Value, error) {
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ids, err := eng.Insert(ctx, collection, docs...)
	duration := time.Since(start)

	db.metrics.RecordInsert(len(docs), duration, err)
	db.logger.LogInsert(ctx, collection, len(docs), err)

	return ids, translateError(err)
}

// Get returns the document with the given _id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, collection string, id document.Value) (*document.Document, error) {
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}
	d, err := eng.Get(ctx, collection, id)
	return d, translateError(err)
}

// Delete removes the document with the given _id. It returns false when no
// such document exists.
func (db *DB) Delete(ctx context.Context, collection string, id document.Value) (bool, error) {
	eng, err := db.engine()
	if err != nil {
		return false, err
	}

	start := time.Now()
	deleted, err := eng.Delete(ctx, collection, id)
	duration := time.Since(start)

	db.metrics.RecordDelete(duration, err)
	db.logger.LogDelete(ctx, collection, id, err)

	return deleted, translateError(err)
}

// ForEach visits every document of the collection in storage order.
// Returning engine.ErrStopScan from fn stops the walk without error.
func (db *DB) ForEach(ctx context.Context, collection string, fn func(d *document.Document) error) error {
	eng, err := db.engine()
	if err != nil {
		return err
	}
	return translateError(eng.Scan(ctx, collection, fn))
}

// Find returns all documents of the collection for which filter returns
// true, in storage order. A nil filter matches everything.
func (db *DB) Find(ctx context.Context, collection string, filter func(d *document.Document) bool) ([]*document.Document, error) {
	var out []*document.Document
	err := db.ForEach(ctx, collection, func(d *document.Document) error {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of documents in the collection.
func (db *DB) Count(ctx context.Context, collection string) (int64, error) {
	eng, err := db.engine()
	if err != nil {
		return 0, err
	}
	n, err := eng.Count(ctx, collection)
	return n, translateError(err)
}

// Collections returns the names of all collections, sorted.
func (db *DB) Collections() ([]string, error) {
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}
	return eng.Collections(), nil
}

// Drop removes the collection and all of its documents. It returns false
// when the collection does not exist.
func (db *DB) Drop(ctx context.Context, collection string) (bool, error) {
	eng, err := db.engine()
	if err != nil {
		return false, err
	}
	dropped, err := eng.Drop(ctx, collection)
	return dropped, translateError(err)
}

// Pragma returns the value of a single pragma, for example "USER_VERSION".
func (db *DB) Pragma(name string) (document.Value, error) {
	eng, err := db.engine()
	if err != nil {
		return document.Null(), err
	}
	v, err := eng.Pragma(name)
	return v, translateError(err)
}

// SetPragma updates a single pragma and persists it.
func (db *DB) SetPragma(name string, v document.Value) error {
	eng, err := db.engine()
	if err != nil {
		return err
	}
	return translateError(eng.SetPragma(name, v))
}

// Pragmas returns a snapshot of all pragma values.
func (db *DB) Pragmas() (engine.Pragmas, error) {
	eng, err := db.engine()
	if err != nil {
		return engine.Pragmas{}, err
	}
	return eng.Pragmas(), nil
}

// Checkpoint moves committed pages from the WAL into the datafile and
// returns the number of pages written.
func (db *DB) Checkpoint() (int, error) {
	eng, err := db.engine()
	if err != nil {
		return 0, err
	}
	n, err := eng.Checkpoint()
	return n, translateError(err)
}

// Stats returns datafile statistics.
func (db *DB) Stats() (engine.Stats, error) {
	eng, err := db.engine()
	if err != nil {
		return engine.Stats{}, err
	}
	return eng.Stats(), nil
}

// Collation returns the collation the datafile was created with.
func (db *DB) Collation() (*document.Collation, error) {
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}
	return eng.Collation(), nil
}

// Rebuild compacts the datafile and recovers readable documents from any
// damaged regions, replacing the file in place. The previous file is kept
// next to it as a backup. The DB is closed for the duration and reopened on
// success; concurrent operations fail with ErrClosed while it runs.
//
// Option functions are applied on top of the options the DB was opened with:
//
//	res, err := db.Rebuild(ctx, docgo.WithArchive(store), func(o *recovery.Options) {
//	    o.ReportFaults = true
//	})
func (db *DB) Rebuild(ctx context.Context, optFns ...func(o *recovery.Options)) (*recovery.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.eng == nil {
		return nil, ErrClosed
	}
	if db.opts.readOnly {
		return nil, translateError(engine.ErrReadOnly)
	}

	if err := db.eng.Close(); err != nil {
		return nil, fmt.Errorf("failed to close before rebuild: %w", err)
	}
	db.eng = nil

	start := time.Now()
	res, err := recovery.Rebuild(ctx, db.path, db.rebuildOptions(optFns...)...)
	duration := time.Since(start)

	db.metrics.RecordRebuild(duration, err)
	db.logger.LogRebuild(ctx, db.path, res, err)

	if err != nil {
		// Rebuild leaves the source untouched on failure; try to resume.
		eng, rerr := db.openEngine()
		if rerr != nil {
			return nil, fmt.Errorf("failed to rebuild %s (datafile left closed): %w", db.path, err)
		}
		db.eng = eng
		return nil, err
	}

	eng, rerr := db.openEngine()
	if rerr != nil {
		return res, fmt.Errorf("rebuilt %s but failed to reopen: %w", db.path, rerr)
	}
	db.eng = eng

	return res, nil
}

// Rebuild recovers and compacts the datafile at path without opening it as a
// DB first. The file must not be open elsewhere; the exclusive lock otherwise
// fails with recovery.ErrLockTimeout.
//
//	res, err := docgo.Rebuild(ctx, "data.db", docgo.WithArchive(store))
func Rebuild(ctx context.Context, path string, optFns ...func(o *recovery.Options)) (*recovery.Result, error) {
	return recovery.Rebuild(ctx, path, optFns...)
}

// MarkInvalidState flags the datafile at path so the next Open rebuilds it.
// Use this when an external check finds the file suspect.
func MarkInvalidState(path string, timeout time.Duration) error {
	return recovery.MarkInvalidState(path, timeout)
}
