package engine

import (
	"fmt"
	"os"
	"slices"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/hupe1980/docgo/wal"
)

// PageSource tells a metrics observer where a page read was served from.
type PageSource uint8

const (
	// PageSourceDirty means the page was staged by the running operation.
	PageSourceDirty PageSource = iota
	// PageSourceWAL means a committed WAL image served the read.
	PageSourceWAL
	// PageSourceCache means the read cache served the read.
	PageSourceCache
	// PageSourceFile means the datafile itself served the read.
	PageSourceFile
)

// String implements the fmt.Stringer interface.
func (s PageSource) String() string {
	switch s {
	case PageSourceDirty:
		return "dirty"
	case PageSourceWAL:
		return "wal"
	case PageSourceCache:
		return "cache"
	case PageSourceFile:
		return "file"
	default:
		return "unknown"
	}
}

// pager mediates all page access. Reads resolve in order: pages staged by
// the running operation, committed WAL images, the read cache, then the
// datafile. Writes stage copies and reach the WAL only on commit, so a
// failed operation can be discarded without a trace.
//
// The cache only ever holds images that match the WAL-shadowed state of
// the datafile, which keeps it valid across checkpoints.
type pager struct {
	f       *os.File
	wal     *wal.WAL
	cache   *ristretto.Cache[uint32, []byte]
	dirty   map[uint32][]byte
	metrics MetricsObserver
}

func newPager(f *os.File, w *wal.WAL, cacheBytes int64, metrics MetricsObserver) (*pager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint32, []byte]{
		NumCounters: max(cacheBytes/PageSize*10, 100),
		MaxCost:     max(cacheBytes, 4*PageSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}

	return &pager{
		f:       f,
		wal:     w,
		cache:   cache,
		dirty:   make(map[uint32][]byte),
		metrics: metrics,
	}, nil
}

// read returns the current image of a page. The slice is shared; callers
// must not mutate it. Use stage for writable access.
func (pg *pager) read(id uint32) ([]byte, error) {
	if b, ok := pg.dirty[id]; ok {
		pg.metrics.OnPageRead(PageSourceDirty)
		return b, nil
	}

	if pg.wal != nil {
		b, ok, err := pg.wal.Page(id)
		if err != nil {
			return nil, err
		}
		if ok {
			pg.metrics.OnPageRead(PageSourceWAL)
			return b, nil
		}
	}

	if b, ok := pg.cache.Get(id); ok {
		pg.metrics.OnPageRead(PageSourceCache)
		return b, nil
	}

	b := make([]byte, PageSize)
	if _, err := pg.f.ReadAt(b, int64(id)*PageSize); err != nil {
		return nil, fmt.Errorf("%w: reading page %d: %v", ErrInvalidDatafile, id, err)
	}
	pg.metrics.OnPageRead(PageSourceFile)
	pg.cache.Set(id, b, PageSize)

	return b, nil
}

// stage returns a writable copy of an existing page. Repeated stages of the
// same page within one operation return the same copy.
func (pg *pager) stage(id uint32) (page, error) {
	if b, ok := pg.dirty[id]; ok {
		return newPage(b), nil
	}

	b, err := pg.read(id)
	if err != nil {
		return page{}, err
	}

	c := slices.Clone(b)
	pg.dirty[id] = c

	return newPage(c), nil
}

// stageNew stages a freshly formatted page without reading any previous
// image, for newly allocated pages and full page rewrites.
func (pg *pager) stageNew(id uint32, typ PageType) page {
	b, ok := pg.dirty[id]
	if !ok {
		b = make([]byte, PageSize)
		pg.dirty[id] = b
	}

	return formatPage(b, id, typ)
}

// dirtyCount returns the number of currently staged pages.
func (pg *pager) dirtyCount() int {
	return len(pg.dirty)
}

// commit hands all staged pages to the WAL as one batch and clears the
// stage. The images stay readable through the WAL overlay.
func (pg *pager) commit() (int, error) {
	n := len(pg.dirty)
	if n == 0 {
		return 0, nil
	}

	if _, err := pg.wal.Commit(pg.dirty); err != nil {
		return 0, err
	}
	pg.dirty = make(map[uint32][]byte)

	return n, nil
}

// discard drops all staged pages without committing them.
func (pg *pager) discard() {
	if len(pg.dirty) > 0 {
		pg.dirty = make(map[uint32][]byte)
	}
}

// checkpoint copies every committed WAL image into the datafile, syncs it,
// refreshes the cache and resets the WAL. sizePages is the logical page
// count; the file is extended to exactly that length. Returns the number
// of pages written.
func (pg *pager) checkpoint(sizePages uint32) (int, error) {
	pages := 0

	err := pg.wal.Range(func(id uint32, data []byte) error {
		if _, err := pg.f.WriteAt(data, int64(id)*PageSize); err != nil {
			return fmt.Errorf("failed to write page %d: %w", id, err)
		}
		pg.cache.Set(id, data, PageSize)
		pages++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pages == 0 {
		return 0, nil
	}

	if err := pg.f.Truncate(int64(sizePages) * PageSize); err != nil {
		return 0, fmt.Errorf("failed to size datafile: %w", err)
	}
	if err := pg.f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync datafile: %w", err)
	}

	// Cache updates must be applied before the WAL overlay disappears.
	pg.cache.Wait()

	if err := pg.wal.Reset(); err != nil {
		return 0, err
	}

	return pages, nil
}

func (pg *pager) close() error {
	pg.cache.Close()
	if pg.wal != nil {
		return pg.wal.Close()
	}
	return nil
}
