package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/internal/filelock"
	"github.com/hupe1980/docgo/wal"
)

// WALSuffix is appended to a datafile path to name its write-ahead log.
const WALSuffix = "-wal"

// WALPath returns the WAL location for a datafile path.
func WALPath(path string) string { return path + WALSuffix }

// Engine is the page store behind a docgo database. All methods are safe
// for concurrent use; mutations serialize on an internal writer lock.
type Engine struct {
	mu sync.RWMutex

	path string

	readOnly     bool
	reqCollation *document.Collation
	autoID       AutoID
	lockTimeout  time.Duration
	walOptions   WALOptions
	cacheBytes   int64
	bulkLoad     bool
	logger       Logger
	metrics      MetricsObserver

	f    *os.File
	lock *filelock.Lock
	pg   *pager
	hdr  *header
	cat  *catalog
	free *roaring.Bitmap
	pk   map[uint8]map[string]codec.PageAddress

	headerDirty  bool
	catalogDirty bool
	closed       bool
}

// Open opens or creates the datafile at path.
func Open(path string, opts ...Option) (*Engine, error) {
	e := &Engine{
		path:       path,
		autoID:     AutoIDObjectID,
		walOptions: DefaultWALOptions(),
		cacheBytes: 64 << 20,
		logger:     &noopLogger{},
		metrics:    &NoopMetricsObserver{},
	}

	for _, opt := range opts {
		opt(e)
	}

	flag := os.O_RDWR | os.O_CREATE
	if e.readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0o600) //nolint:gosec // datafiles must not be world-readable
	if err != nil {
		return nil, fmt.Errorf("failed to open datafile: %w", err)
	}
	e.f = f

	timeout := e.lockTimeout
	if timeout <= 0 {
		timeout = DefaultPragmas.Timeout
	}

	lockFn := filelock.Exclusive
	if e.readOnly {
		lockFn = filelock.Shared
	}
	lock, err := lockFn(f, timeout)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock datafile: %w", err)
	}
	e.lock = lock

	if err := e.init(); err != nil {
		if e.pg != nil {
			_ = e.pg.close()
		}
		_ = lock.Release()
		_ = f.Close()
		return nil, err
	}

	return e, nil
}

func (e *Engine) init() error {
	fi, err := e.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat datafile: %w", err)
	}

	w, err := e.openWAL()
	if err != nil {
		return err
	}

	pg, err := newPager(e.f, w, e.cacheBytes, e.metrics)
	if err != nil {
		if w != nil {
			_ = w.Close()
		}
		return err
	}
	e.pg = pg

	if fi.Size() == 0 {
		if e.readOnly {
			return fmt.Errorf("%w: empty datafile", ErrInvalidDatafile)
		}
		return e.bootstrap()
	}

	if err := e.readMeta(); err != nil {
		return err
	}
	if err := e.buildIndexes(); err != nil {
		return err
	}

	// Fold whatever a previous crash left in the WAL into the datafile.
	if !e.readOnly && e.pg.wal.PageCount() > 0 {
		if _, err := e.checkpointLocked(); err != nil {
			return err
		}
	}

	e.logger.Infof("opened datafile %q: %d collections, %d pages", e.path, len(e.cat.byName), e.hdr.pageCount)

	return nil
}

func (e *Engine) openWAL() (*wal.WAL, error) {
	walPath := WALPath(e.path)

	if e.readOnly {
		if _, err := os.Stat(walPath); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to stat WAL file: %w", err)
		}

		return wal.New(func(o *wal.Options) {
			o.Path = walPath
			o.ReadOnly = true
		})
	}

	level := e.walOptions.CompressionLevel
	if level < 1 {
		level = DefaultWALOptions().CompressionLevel
	}

	return wal.New(func(o *wal.Options) {
		o.Path = walPath
		o.SyncOnCommit = e.walOptions.SyncOnCommit
		o.Compress = e.walOptions.Compress
		o.CompressionLevel = level
	})
}

// bootstrap materializes a fresh datafile with a header and an empty
// catalog.
func (e *Engine) bootstrap() error {
	e.hdr = newHeader(e.reqCollation)
	e.cat = newCatalog()
	e.free = roaring.New()
	e.pk = make(map[uint8]map[string]codec.PageAddress)

	e.headerDirty = true
	e.catalogDirty = true

	if err := e.flushMetaLocked(); err != nil {
		e.pg.discard()
		return err
	}
	if _, err := e.pg.commit(); err != nil {
		return err
	}
	e.headerDirty, e.catalogDirty = false, false

	if _, err := e.checkpointLocked(); err != nil {
		return err
	}

	e.logger.Infof("created datafile %q", e.path)

	return nil
}

func (e *Engine) readMeta() error {
	hb, err := e.pg.read(0)
	if err != nil {
		return err
	}
	hdr, err := readHeaderPage(hb)
	if err != nil {
		return err
	}
	e.hdr = hdr

	if e.reqCollation != nil && e.reqCollation.String() != hdr.collation.String() {
		return fmt.Errorf("%w: datafile uses %q", ErrCollationMismatch, hdr.collation.String())
	}

	cb, err := e.pg.read(hdr.catalogPage)
	if err != nil {
		return err
	}
	if newPage(cb).typ() != PageTypeCatalog {
		return fmt.Errorf("%w: page %d is not a catalog page", ErrInvalidDatafile, hdr.catalogPage)
	}

	doc, _, err := codec.ReadDocument(codec.FullSlice(cb), PageHeaderSize)
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrInvalidDatafile, err)
	}
	cat, err := catalogFromDocument(doc)
	if err != nil {
		return err
	}
	e.cat = cat

	return nil
}

// buildIndexes walks every collection chain, builds the in-memory primary
// key maps and derives the free page set. Collections are processed
// concurrently since their chains never share pages.
func (e *Engine) buildIndexes() error {
	e.pk = make(map[uint8]map[string]codec.PageAddress, len(e.cat.byName))
	seen := roaring.New()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))

	var mu sync.Mutex
	for _, col := range e.cat.byName {
		g.Go(func() error {
			idx := make(map[string]codec.PageAddress, max(col.count, 0))
			visited := roaring.New()
			var count int64

			for pid := col.head; pid != codec.EmptyPageID; {
				if err := ctx.Err(); err != nil {
					return err
				}
				if visited.Contains(pid) {
					return fmt.Errorf("%w: page chain cycle in %q", ErrInvalidDatafile, col.name)
				}
				visited.Add(pid)

				b, err := e.pg.read(pid)
				if err != nil {
					return err
				}
				p := newPage(b)
				if p.typ() != PageTypeData || p.collection() != col.id {
					return fmt.Errorf("%w: page %d does not belong to %q", ErrInvalidDatafile, pid, col.name)
				}

				err = p.items(func(slot uint8, data codec.Slice) error {
					d, _, err := codec.ReadDocument(data, 0)
					if err != nil {
						return fmt.Errorf("%w: document at %d:%d: %v", ErrInvalidDatafile, pid, slot, err)
					}
					idv, ok := d.ID()
					if !ok {
						return fmt.Errorf("%w: document at %d:%d has no _id", ErrInvalidDatafile, pid, slot)
					}
					key, err := codec.EncodeIndexKey(idv)
					if err != nil {
						return fmt.Errorf("%w: document at %d:%d: %v", ErrInvalidDatafile, pid, slot, err)
					}
					idx[string(key)] = codec.PageAddress{PageID: pid, Slot: slot}
					count++
					return nil
				})
				if err != nil {
					return err
				}

				pid = p.next()
			}

			col.count = count

			mu.Lock()
			e.pk[col.id] = idx
			seen.Or(visited)
			mu.Unlock()

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	free := roaring.New()
	free.AddRange(0, uint64(e.hdr.pageCount))
	free.Remove(0)
	free.Remove(e.hdr.catalogPage)
	free.AndNot(seen)
	e.free = free

	return nil
}

// flushMetaLocked stages the header and catalog pages when their in-memory
// state changed during the running operation.
func (e *Engine) flushMetaLocked() error {
	if e.headerDirty {
		p := e.pg.stageNew(0, PageTypeHeader)
		e.hdr.writeTo(p.buf())
	}

	if e.catalogDirty {
		doc := e.cat.toDocument()
		if codec.DocumentSize(doc) > PageSize-PageHeaderSize {
			return ErrCatalogFull
		}
		p := e.pg.stageNew(e.hdr.catalogPage, PageTypeCatalog)
		codec.WriteDocument(p.s, PageHeaderSize, doc)
	}

	return nil
}

// commitLocked flushes metadata, commits the staged batch to the WAL and
// runs the automatic checkpoint policy. A WAL write failure shuts the
// engine down; the datafile stays untouched and consistent.
func (e *Engine) commitLocked() error {
	start := time.Now()

	if err := e.flushMetaLocked(); err != nil {
		e.pg.discard()
		return err
	}

	pages, err := e.pg.commit()
	e.metrics.OnCommit(time.Since(start), pages, err)
	if err != nil {
		e.poisonLocked(err)
		return err
	}
	e.headerDirty, e.catalogDirty = false, false

	e.maybeCheckpointLocked()

	return nil
}

// poisonLocked shuts the engine down after an unrecoverable write failure.
// Committed state stays safe in the WAL and the datafile.
func (e *Engine) poisonLocked(err error) {
	e.logger.Errorf("engine shutting down after write failure: %v", err)

	e.pg.discard()
	e.closed = true

	_ = e.pg.close()
	if e.lock != nil {
		_ = e.lock.Release()
		e.lock = nil
	}
	if e.f != nil {
		_ = e.f.Close()
		e.f = nil
	}
}

func (e *Engine) maybeCheckpointLocked() {
	cp := e.hdr.pragmas.Checkpoint
	if e.bulkLoad || cp <= 0 || e.pg.wal.PageCount() < int(cp) {
		return
	}

	if _, err := e.checkpointLocked(); err != nil {
		e.logger.Errorf("automatic checkpoint failed: %v", err)
	}
}

func (e *Engine) checkpointLocked() (int, error) {
	start := time.Now()

	pages, err := e.pg.checkpoint(e.hdr.pageCount)
	e.metrics.OnCheckpoint(time.Since(start), pages, err)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	if pages > 0 {
		e.logger.Infof("checkpoint wrote %d pages", pages)
	}

	return pages, nil
}

// Checkpoint folds all committed WAL pages into the datafile and resets
// the WAL. It returns the number of pages written.
func (e *Engine) Checkpoint() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrClosed
	}
	if e.readOnly {
		return 0, ErrReadOnly
	}

	return e.checkpointLocked()
}

// Close checkpoints, releases the file lock and closes the datafile.
// Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error

	if !e.readOnly {
		if _, err := e.checkpointLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.pg.close(); err != nil {
		errs = append(errs, err)
	}
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		e.lock = nil
	}
	if e.f != nil {
		if err := e.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close datafile: %w", err))
		}
		e.f = nil
	}

	return errors.Join(errs...)
}

// Path returns the datafile location.
func (e *Engine) Path() string { return e.path }

// Collation returns the collation persisted in the datafile. It is fixed
// at file creation.
func (e *Engine) Collation() *document.Collation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.hdr.collation
}

// Stats is a point-in-time snapshot of engine internals.
type Stats struct {
	PageCount   uint32
	FreePages   int
	WALPages    int
	Collections int
	FileSize    int64
}

// Stats returns a snapshot of engine internals.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Stats{}
	if e.closed {
		return st
	}

	st.PageCount = e.hdr.pageCount
	st.FreePages = int(e.free.GetCardinality())
	st.Collections = len(e.cat.byName)
	if e.pg.wal != nil {
		st.WALPages = e.pg.wal.PageCount()
	}
	if fi, err := e.f.Stat(); err == nil {
		st.FileSize = fi.Size()
	}

	return st
}

func (e *Engine) decodeOptsLocked() []codec.DecodeOption {
	if e.hdr.pragmas.UTCDate {
		return nil
	}
	return []codec.DecodeOption{codec.WithLocalTime()}
}
