package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/internal/filelock"
)

const (
	// FaultCollection is the collection inside a rebuilt datafile that
	// holds one document per fault when fault reporting is enabled.
	FaultCollection = "_rebuild_errors"

	// DefaultLockTimeout bounds waiting for exclusive access to the
	// source datafile.
	DefaultLockTimeout = 20 * time.Second

	// reingestBuffer is the hand-off depth between the source walker and
	// the inserter.
	reingestBuffer = 64
)

// Options configure a Rebuild.
type Options struct {
	// Collation of the rebuilt datafile. Nil carries the source
	// collation over.
	Collation *document.Collation

	// ReportFaults writes every collected fault as a document into
	// FaultCollection inside the rebuilt file, all sharing the run id.
	ReportFaults bool

	// MaxFaults bounds the collected fault list. Overflow is counted in
	// Result.DroppedFaults. Zero or negative keeps everything.
	MaxFaults int

	// LockTimeout bounds waiting for exclusive access to the source.
	LockTimeout time.Duration

	// Limiter throttles source reads, in bytes per second.
	Limiter *rate.Limiter

	// Archive, when set, receives a copy of the backup after a
	// successful swap. Archival is best effort; a failure is logged and
	// reflected in Result.Archived, never returned.
	Archive blobstore.Store

	// Logger receives progress and archival failures.
	Logger engine.Logger
}

// DefaultOptions hold the default rebuild configuration.
var DefaultOptions = Options{
	MaxFaults:   1024,
	LockTimeout: DefaultLockTimeout,
}

// Result describes a finished rebuild.
type Result struct {
	// RunID tags this rebuild. Fault documents written into the rebuilt
	// file carry it in their runId field.
	RunID uuid.UUID

	// Collections and Documents count what was carried into the new
	// file.
	Collections int
	Documents   int64

	// Faults lists everything that was skipped or lost, capped at
	// MaxFaults. DroppedFaults counts the overflow.
	Faults        []Fault
	DroppedFaults int

	// BackupPath is where the original datafile now lives.
	BackupPath string

	// SizeDelta is the byte count reclaimed by the rebuild, old size
	// minus new size. Negative when the new file is larger.
	SizeDelta int64

	// Archived reports whether the backup reached the archive store.
	Archived bool
}

type rebuilder struct {
	path string
	opts Options

	runID  uuid.UUID
	faults *faultList

	collections int
	documents   int64
}

// Rebuild reads every salvageable document out of the datafile at path,
// writes them into a fresh file through the regular insert path and
// atomically swaps the fresh file in. The original is kept next to the
// source with a "-backup" suffix.
//
// Damage is collected into Result.Faults instead of aborting the run; a
// rebuild only fails when the source cannot be locked or read at all, or
// when the new file cannot be written. Until the swap the source is
// untouched, and a failure between the two renames leaves the data in
// the backup.
func Rebuild(ctx context.Context, path string, optFns ...func(o *Options)) (*Result, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	rb := &rebuilder{
		path:   path,
		opts:   opts,
		runID:  uuid.New(),
		faults: newFaultList(opts.MaxFaults),
	}

	return rb.run(ctx)
}

func (rb *rebuilder) run(ctx context.Context) (*Result, error) {
	// The exclusive lock keeps every other process out for the whole
	// pipeline. It rides on the inode, so it survives the renames below.
	lockFile, err := os.OpenFile(rb.path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", rb.path, err)
	}
	defer lockFile.Close()

	lock, err := filelock.Exclusive(lockFile, rb.opts.LockTimeout)
	if err != nil {
		if errors.Is(err, filelock.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, rb.path)
		}

		return nil, fmt.Errorf("failed to lock %s: %w", rb.path, err)
	}
	defer func() { _ = lock.Release() }()

	fi, err := lockFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", rb.path, err)
	}
	oldSize := fi.Size()

	rb.opts.Logger.Infof("rebuilding %s (%d bytes, run %s)", rb.path, oldSize, rb.runID)

	src, err := OpenReader(ctx, rb.path, func(o *ReaderOptions) {
		o.MaxFaults = rb.opts.MaxFaults
		o.Limiter = rb.opts.Limiter
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	collation := rb.opts.Collation
	if collation == nil && src.CollationSpec() != "" {
		if collation, err = document.NewCollation(src.CollationSpec()); err != nil {
			rb.faults.add(Fault{Code: FaultPageHeader, Field: "collation", Message: err.Error()})
			collation = nil
		}
	}

	tmpPath := rb.path + "-rebuild"
	if err := removeFilePair(tmpPath); err != nil {
		return nil, fmt.Errorf("failed to clear stale rebuild files: %w", err)
	}

	swapped := false
	defer func() {
		if !swapped {
			_ = removeFilePair(tmpPath)
		}
	}()

	tmp, err := engine.Open(tmpPath,
		engine.WithBulkLoad(),
		engine.WithCollation(collation),
		engine.WithLogger(rb.opts.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rebuild target: %w", err)
	}

	err = rb.fill(ctx, src, tmp)

	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finalize rebuild target: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	// Close checkpointed the target; a leftover empty WAL just needs to
	// not follow the file through the swap.
	_ = os.Remove(engine.WALPath(tmpPath))

	backup, err := rb.swap(tmpPath)
	if err != nil {
		return nil, err
	}
	swapped = true

	newSize := int64(0)
	if fi, err := os.Stat(rb.path); err == nil {
		newSize = fi.Size()
	}

	res := &Result{
		RunID:         rb.runID,
		Collections:   rb.collections,
		Documents:     rb.documents,
		Faults:        rb.faults.faults,
		DroppedFaults: src.DroppedFaults() + rb.faults.dropped,
		BackupPath:    backup,
		SizeDelta:     oldSize - newSize,
	}
	res.Archived = rb.archive(ctx, backup)

	rb.opts.Logger.Infof("rebuilt %s: %d collections, %d documents, %d faults, %d bytes reclaimed",
		rb.path, res.Collections, res.Documents, len(res.Faults)+res.DroppedFaults, res.SizeDelta)

	return res, nil
}

// fill moves everything out of the source into the target engine: the
// documents of every collection, the fault report and the pragmas.
func (rb *rebuilder) fill(ctx context.Context, src Reader, tmp *engine.Engine) error {
	rb.faults.addAll(src.Faults())

	for _, name := range src.Collections() {
		if name == FaultCollection {
			// A fault report from an earlier rebuild describes damage
			// this run no longer sees.
			continue
		}

		if err := rb.reingest(ctx, src, tmp, name); err != nil {
			return fmt.Errorf("failed to reingest %q: %w", name, err)
		}
	}
	rb.collections = len(tmp.Collections())

	if rb.opts.ReportFaults && len(rb.faults.faults) > 0 {
		if err := rb.report(ctx, tmp); err != nil {
			return fmt.Errorf("failed to write fault report: %w", err)
		}
	}

	if err := tmp.SetPragmas(src.Pragmas()); err != nil {
		return fmt.Errorf("failed to carry pragmas over: %w", err)
	}

	return nil
}

// reingest streams one collection through the regular insert path. The
// walker and the inserter overlap, so decode and disk write costs do
// not add up. Documents are inserted one by one; a rejected document
// becomes a fault and the rest of the collection still goes through.
func (rb *rebuilder) reingest(ctx context.Context, src Reader, tmp *engine.Engine, name string) error {
	g, gctx := errgroup.WithContext(ctx)
	docs := make(chan *document.Document, reingestBuffer)

	g.Go(func() error {
		defer close(docs)

		return src.Documents(gctx, name, func(d *document.Document) error {
			select {
			case docs <- d:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		for d := range docs {
			if _, err := tmp.Insert(gctx, name, d); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !reingestFault(err) {
					return err
				}

				rb.faults.add(Fault{
					Code:    FaultReingest,
					Field:   reingestField(err),
					Message: fmt.Sprintf("%s: %v", name, err),
				})

				continue
			}

			rb.documents++
		}

		return nil
	})

	return g.Wait()
}

// reingestFault reports whether an insert error condemns a single
// document rather than the target file. Anything else (a closed engine,
// a write failure, the size limit) aborts the rebuild.
func reingestFault(err error) bool {
	return errors.Is(err, engine.ErrDuplicateKey) ||
		errors.Is(err, engine.ErrDocumentTooLarge) ||
		errors.Is(err, engine.ErrInvalidID) ||
		errors.Is(err, engine.ErrInvalidCollectionName) ||
		errors.Is(err, engine.ErrTooManyCollections) ||
		errors.Is(err, engine.ErrCatalogFull)
}

func reingestField(err error) string {
	if errors.Is(err, engine.ErrDuplicateKey) || errors.Is(err, engine.ErrInvalidID) {
		return "_id"
	}

	return ""
}

// report persists the fault list into the rebuilt file itself.
func (rb *rebuilder) report(ctx context.Context, tmp *engine.Engine) error {
	const batch = 128

	runID := document.GUID(rb.runID)

	faults := rb.faults.faults
	for len(faults) > 0 {
		n := min(len(faults), batch)

		docs := make([]*document.Document, 0, n)
		for _, f := range faults[:n] {
			docs = append(docs, f.toDocument(runID))
		}

		if _, err := tmp.Insert(ctx, FaultCollection, docs...); err != nil {
			return err
		}

		faults = faults[n:]
	}

	return nil
}

// swap promotes the rebuilt file. The source moves to the backup name
// first, then the rebuilt file takes its place; there is no moment
// without a complete datafile on disk. The source WAL, already folded
// into the rebuilt file, follows the source to the backup name so the
// rebuilt file starts clean.
func (rb *rebuilder) swap(tmpPath string) (string, error) {
	backup := backupPath(rb.path)

	srcWAL := engine.WALPath(rb.path)
	walMoved := false

	if _, err := os.Stat(srcWAL); err == nil {
		if err := os.Rename(srcWAL, engine.WALPath(backup)); err != nil {
			return "", fmt.Errorf("failed to move the source WAL aside: %w", err)
		}
		walMoved = true
	}

	if err := os.Rename(rb.path, backup); err != nil {
		if walMoved {
			_ = os.Rename(engine.WALPath(backup), srcWAL)
		}

		return "", fmt.Errorf("failed to back up %s: %w", rb.path, err)
	}

	if err := os.Rename(tmpPath, rb.path); err != nil {
		return "", fmt.Errorf("failed to promote the rebuilt file, original preserved at %s: %w", backup, err)
	}

	return backup, nil
}

// archive copies the backup pair into the archive store, best effort.
func (rb *rebuilder) archive(ctx context.Context, backup string) bool {
	if rb.opts.Archive == nil {
		return false
	}

	key := filepath.Base(backup)
	if err := blobstore.PutFile(ctx, rb.opts.Archive, key, backup); err != nil {
		rb.opts.Logger.Errorf("failed to archive %s: %v", backup, err)
		return false
	}

	walBackup := engine.WALPath(backup)
	if _, err := os.Stat(walBackup); err == nil {
		if err := blobstore.PutFile(ctx, rb.opts.Archive, key+engine.WALSuffix, walBackup); err != nil {
			rb.opts.Logger.Errorf("failed to archive %s: %v", walBackup, err)
			return false
		}
	}

	return true
}

// backupPath picks a free name next to the source. Earlier backups are
// never overwritten.
func backupPath(path string) string {
	p := path + "-backup"
	for i := 2; ; i++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}

		p = fmt.Sprintf("%s-backup-%d", path, i)
	}
}

// removeFilePair drops a datafile and its WAL sibling.
func removeFilePair(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(engine.WALPath(path)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

type noopLogger struct{}

func (noopLogger) Infof(format string, args ...any)  {}
func (noopLogger) Errorf(format string, args ...any) {}
