package recovery

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/wal"
)

// v2Reader recovers documents from a current-format paged datafile. It
// walks every page of the file instead of following chain pointers, so
// orphaned pages still yield their documents, and it overlays the
// write-ahead log when one is present so committed but not yet
// checkpointed data survives the rebuild.
//
// A v2Reader is not safe for concurrent use.
type v2Reader struct {
	f         *os.File
	buf       []byte
	filePages uint32

	pragmas engine.Pragmas
	spec    string

	names   map[uint8]string // collection id to name, catalog or synthesized
	cols    map[string]uint8
	pageIDs *roaring.Bitmap

	overlay *wal.WAL

	limiter *rate.Limiter
	faults  *faultList
}

func openV2Reader(ctx context.Context, f *os.File, head []byte, opts ReaderOptions) (*v2Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}

	r := &v2Reader{
		f:       f,
		buf:     make([]byte, engine.PageSize),
		pragmas: engine.DefaultPragmas,
		names:   make(map[uint8]string),
		cols:    make(map[string]uint8),
		pageIDs: roaring.New(),
		limiter: opts.Limiter,
		faults:  newFaultList(opts.MaxFaults),
	}

	r.filePages = uint32(fi.Size() / engine.PageSize) //nolint:gosec // bounded by the page-id space
	if fi.Size()%engine.PageSize != 0 {
		r.faults.add(Fault{
			PageID:  r.filePages,
			Code:    FaultTruncated,
			Message: fmt.Sprintf("file ends %d bytes into a page", fi.Size()%engine.PageSize),
		})
	}

	// The sniff buffer may be shorter than a page on a chopped file; the
	// header parser wants a full page image.
	page0 := make([]byte, engine.PageSize)
	copy(page0, head)

	r.openOverlay()

	// Header updates travel through the write-ahead log like any other
	// page, so after a crash the newest header image may exist only there.
	// A missing or damaged overlay image falls back to the file copy.
	hdr := page0
	if r.overlay != nil && r.overlay.Contains(0) {
		if b, ok, perr := r.overlay.Page(0); perr == nil && ok && len(b) == engine.PageSize && engine.MatchHeader(b) {
			hdr = b
		}
	}

	catalogPage := uint32(1)

	meta, err := engine.ReadHeaderMeta(hdr)
	if err != nil {
		r.faults.add(Fault{PageID: 0, Code: FaultPageHeader, Message: err.Error()})
	} else {
		r.pragmas = meta.Pragmas
		r.spec = meta.CollationSpec
		catalogPage = meta.CatalogPage
	}

	if err == nil && meta.PageCount > r.filePages && r.overlay == nil {
		r.faults.add(Fault{
			PageID:  r.filePages,
			Code:    FaultTruncated,
			Message: fmt.Sprintf("header declares %d pages, file holds %d", meta.PageCount, r.filePages),
		})
	}

	r.pageIDs.AddRange(0, uint64(r.filePages))

	r.readCatalog(ctx, catalogPage)

	if err := r.scan(ctx); err != nil {
		if r.overlay != nil {
			_ = r.overlay.Close()
		}

		return nil, err
	}

	return r, nil
}

// openOverlay attaches the source's write-ahead log when one exists. An
// unusable log is a fault, not a failure; the reader then sees the file
// as it was at the last checkpoint.
func (r *v2Reader) openOverlay() {
	walFile := engine.WALPath(r.f.Name())
	if _, err := os.Stat(walFile); err != nil {
		return
	}

	w, err := wal.New(func(o *wal.Options) {
		o.Path = walFile
		o.ReadOnly = true
	})
	if err != nil {
		r.faults.add(Fault{Code: FaultWAL, Message: fmt.Sprintf("%s: %v", walFile, err)})
		return
	}

	if err := w.Range(func(id uint32, data []byte) error {
		r.pageIDs.Add(id)
		return nil
	}); err != nil {
		r.faults.add(Fault{Code: FaultWAL, Message: fmt.Sprintf("%s: %v", walFile, err)})
		_ = w.Close()
		return
	}

	r.overlay = w
}

// readCatalog maps collection ids to names. A data page whose id the
// catalog does not know still gets its documents back later, under a
// synthesized name.
func (r *v2Reader) readCatalog(ctx context.Context, pid uint32) {
	img, err := r.readPage(ctx, pid)
	if err != nil {
		r.faults.add(Fault{PageID: pid, Code: FaultCatalog, Message: err.Error()})
		return
	}

	rp, err := engine.ReadRawPage(img)
	if err != nil || rp.Type != engine.PageTypeCatalog {
		r.faults.add(Fault{PageID: pid, Code: FaultCatalog, Message: "catalog page is not a catalog"})
		return
	}

	payload, ok, err := engine.RawSlot(img, 0)
	if err != nil || !ok {
		r.faults.add(Fault{PageID: pid, Code: FaultCatalog, Message: "catalog page holds no catalog document"})
		return
	}

	catDoc, _, err := codec.DecodeDocument(payload)
	if err != nil {
		r.faults.add(Fault{PageID: pid, Code: FaultCatalog, Message: err.Error()})
		return
	}

	colsVal, _ := catDoc.Get("collections")
	colsDoc, ok := colsVal.AsDocument()
	if !ok {
		r.faults.add(Fault{PageID: pid, Code: FaultCatalog, Message: "catalog document has no collections field"})
		return
	}

	for name, v := range colsDoc.Fields() {
		entry, ok := v.AsDocument()
		if !ok {
			continue
		}

		idv, _ := entry.Get("id")
		if id, ok := idv.AsInt32(); ok && id >= 1 && id <= 255 {
			r.names[uint8(id)] = name
		}
	}
}

// scan is the single validating pass over every page. All page, slot and
// document faults are recorded here, so later Documents walks stay silent
// about damage they re-encounter.
func (r *v2Reader) scan(ctx context.Context) error {
	it := r.pageIDs.Iterator()
	for it.HasNext() {
		pid := it.Next()

		// Page 0 is the file header; it carries no page header of its own.
		if pid == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := r.readPage(ctx, pid)
		if err != nil {
			r.faults.add(Fault{PageID: pid, Code: FaultPageHeader, Message: err.Error()})
			continue
		}

		rp, err := engine.ReadRawPage(img)
		if err != nil {
			r.faults.add(Fault{PageID: pid, Code: FaultPageHeader, Message: err.Error()})
			continue
		}
		if rp.Type != engine.PageTypeData {
			continue
		}
		if rp.ID != pid {
			r.faults.add(Fault{
				PageID:  pid,
				Code:    FaultPageHeader,
				Message: fmt.Sprintf("page at position %d claims id %d", pid, rp.ID),
			})
			continue
		}

		name, known := r.names[rp.Collection]
		if !known {
			name = fmt.Sprintf("recovered_%d", rp.Collection)
			r.names[rp.Collection] = name
			r.faults.add(Fault{
				PageID:  pid,
				Code:    FaultCatalog,
				Message: fmt.Sprintf("data page references unknown collection id %d, salvaging as %q", rp.Collection, name),
			})
		}
		r.cols[name] = rp.Collection

		for i := range rp.SlotCount {
			payload, ok, err := engine.RawSlot(img, i)
			if err != nil {
				r.faults.add(Fault{PageID: pid, Code: FaultSlotDirectory, Message: err.Error()})
				continue
			}
			if !ok {
				continue
			}

			if _, _, err := codec.DecodeDocument(payload); err != nil {
				r.faults.add(Fault{PageID: pid, Code: FaultDocument, Message: err.Error()})
			}
		}
	}

	return nil
}

// readPage returns the current image of a page, preferring the overlay.
// The returned buffer is reused across calls.
func (r *v2Reader) readPage(ctx context.Context, pid uint32) ([]byte, error) {
	if r.overlay != nil && r.overlay.Contains(pid) {
		b, ok, err := r.overlay.Page(pid)
		if err == nil && ok && len(b) == engine.PageSize {
			return b, nil
		}
		// A broken overlay image falls back to the file copy.
	}

	if pid >= r.filePages {
		return nil, fmt.Errorf("page %d beyond end of file", pid)
	}

	if err := throttle(ctx, r.limiter, engine.PageSize); err != nil {
		return nil, err
	}

	if _, err := r.f.ReadAt(r.buf, int64(pid)*engine.PageSize); err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", pid, err)
	}

	return r.buf, nil
}

// Collections implements the Reader interface.
func (r *v2Reader) Collections() []string {
	names := make([]string, 0, len(r.cols))
	for name := range r.cols {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Documents implements the Reader interface.
func (r *v2Reader) Documents(ctx context.Context, collection string, fn func(d *document.Document) error) error {
	colID, ok := r.cols[collection]
	if !ok {
		return fmt.Errorf("%w: %q", engine.ErrCollectionNotFound, collection)
	}

	it := r.pageIDs.Iterator()
	for it.HasNext() {
		pid := it.Next()
		if pid == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := r.readPage(ctx, pid)
		if err != nil {
			continue
		}

		rp, err := engine.ReadRawPage(img)
		if err != nil || rp.Type != engine.PageTypeData || rp.ID != pid || rp.Collection != colID {
			continue
		}

		for i := range rp.SlotCount {
			payload, ok, err := engine.RawSlot(img, i)
			if err != nil || !ok {
				continue
			}

			d, _, err := codec.DecodeDocument(payload)
			if err != nil {
				continue
			}

			if err := fn(d); err != nil {
				return err
			}
		}
	}

	return nil
}

// Pragmas implements the Reader interface.
func (r *v2Reader) Pragmas() engine.Pragmas { return r.pragmas }

// CollationSpec implements the Reader interface.
func (r *v2Reader) CollationSpec() string { return r.spec }

// Faults implements the Reader interface.
func (r *v2Reader) Faults() []Fault { return r.faults.faults }

// DroppedFaults implements the Reader interface.
func (r *v2Reader) DroppedFaults() int { return r.faults.dropped }

// Close implements the Reader interface.
func (r *v2Reader) Close() error {
	if r.overlay != nil {
		_ = r.overlay.Close()
		r.overlay = nil
	}

	return r.f.Close()
}
