package wal

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrInvalidHeader is returned when a file does not start with a valid
	// docgo WAL header.
	ErrInvalidHeader = errors.New("wal: invalid header")

	// ErrReadOnly is returned when a mutating call is made on a WAL opened
	// with Options.ReadOnly.
	ErrReadOnly = errors.New("wal: read-only")

	// ErrClosed is returned when the WAL has already been closed.
	ErrClosed = errors.New("wal: closed")
)

// pageRef locates the stored payload of a committed page image.
type pageRef struct {
	off int64  // payload start within the file
	n   uint32 // stored payload length (compressed when compression is on)
	crc uint32 // IEEE checksum of the stored payload
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the WAL file location.
	Path string

	// SyncOnCommit fsyncs the file as part of every Commit. Disabling it
	// trades durability of the most recent batches for faster writes.
	SyncOnCommit bool

	// Compress enables zstd compression of page payloads. For an existing
	// log the header flag of the file wins over this option.
	Compress bool

	// CompressionLevel sets the zstd level (1-22) used for new logs.
	CompressionLevel int

	// ReadOnly opens the log for replay and reads only. Commit and Reset
	// fail with ErrReadOnly and no tail truncation happens on open.
	ReadOnly bool
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:             "docgo-wal.db",
	SyncOnCommit:     true,
	Compress:         false,
	CompressionLevel: 3, // zstd default level
}

// WAL is an append-only log of page images grouped into committed batches.
// It is safe for concurrent use.
type WAL struct {
	mu sync.Mutex

	opts Options
	f    *os.File

	compressed bool
	enc        *zstd.Encoder
	dec        *zstd.Decoder

	seq   uint64             // sequence of the last committed batch
	size  int64              // append offset, end of the last committed batch
	index map[uint32]pageRef // newest committed image per page
	pages *roaring.Bitmap    // committed page ids, for ordered iteration
}

// New opens the WAL at Options.Path, creating the file when absent. An
// existing log is replayed so committed page images are immediately
// readable; an uncommitted tail is discarded.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(opts.Path, flag, 0o600) //nolint:gosec // WAL must not be world-readable
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		opts:  opts,
		f:     f,
		index: make(map[uint32]pageRef),
		pages: roaring.New(),
	}

	if err := w.init(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return w, nil
}

func (w *WAL) init() error {
	fi, err := w.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat WAL file: %w", err)
	}

	switch {
	case fi.Size() == 0:
		if w.opts.ReadOnly {
			return fmt.Errorf("%w: empty file", ErrInvalidHeader)
		}
		return w.writeFreshHeader()
	case fi.Size() < walHeaderLen:
		// A torn header means creation never completed; no batch can exist.
		if w.opts.ReadOnly {
			return fmt.Errorf("%w: truncated header", ErrInvalidHeader)
		}
		if err := w.f.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate torn WAL header: %w", err)
		}
		return w.writeFreshHeader()
	default:
		info, err := readHeader(w.f)
		if err != nil {
			return err
		}
		w.compressed = info.compressed
		if err := w.initCodec(int(info.level)); err != nil {
			return err
		}
		return w.replay(fi.Size())
	}
}

func (w *WAL) writeFreshHeader() error {
	w.compressed = w.opts.Compress

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL file: %w", err)
	}

	info := headerInfo{
		version:    walHeaderVersion,
		compressed: w.compressed,
		level:      uint8(w.opts.CompressionLevel), //nolint:gosec // levels range 1-22
	}
	if err := writeHeader(w.f, info); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL header: %w", err)
	}

	w.size = walHeaderLen

	return w.initCodec(w.opts.CompressionLevel)
}

func (w *WAL) initCodec(level int) error {
	if !w.compressed {
		return nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	w.enc = enc
	w.dec = dec

	return nil
}

// Commit appends one batch of page images followed by a commit marker and
// makes the images readable through Page. With SyncOnCommit the batch is
// durable when Commit returns; without it durability follows at the next
// sync. The returned sequence number identifies the batch.
func (w *WAL) Commit(pages map[uint32][]byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, ErrClosed
	}
	if w.opts.ReadOnly {
		return 0, ErrReadOnly
	}
	if len(pages) == 0 {
		return w.seq, nil
	}

	seq := w.seq + 1

	ids := make([]uint32, 0, len(pages))
	for id := range pages {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var (
		buf  []byte
		refs = make(map[uint32]pageRef, len(pages))
		off  = w.size
	)

	for _, id := range ids {
		payload := pages[id]
		if w.compressed {
			payload = w.enc.EncodeAll(payload, nil)
		}

		n := uint32(len(payload)) //nolint:gosec // page images are far below 4 GiB
		crc := crc32.ChecksumIEEE(payload)

		buf = appendEntryHeader(buf, entryHeader{typ: walPage, seq: seq, page: id, n: n, crc: crc})
		buf = append(buf, payload...)

		refs[id] = pageRef{off: off + int64(len(buf)) - int64(n), n: n, crc: crc}
	}

	buf = appendEntryHeader(buf, entryHeader{typ: walCommit, seq: seq, page: uint32(len(ids))}) //nolint:gosec // batch sizes fit uint32

	if _, err := w.f.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("failed to append WAL batch: %w", err)
	}
	if w.opts.SyncOnCommit {
		if err := w.f.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync WAL commit: %w", err)
		}
	}

	w.size = off + int64(len(buf))
	w.seq = seq

	for id, ref := range refs {
		w.index[id] = ref
		w.pages.Add(id)
	}

	return seq, nil
}

// Page returns the newest committed image of the given page, or false when
// the log holds none. The returned slice is a fresh copy.
func (w *WAL) Page(id uint32) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pageLocked(id)
}

func (w *WAL) pageLocked(id uint32) ([]byte, bool, error) {
	if w.f == nil {
		return nil, false, ErrClosed
	}

	ref, ok := w.index[id]
	if !ok {
		return nil, false, nil
	}

	payload := make([]byte, ref.n)
	if _, err := w.f.ReadAt(payload, ref.off); err != nil {
		return nil, false, fmt.Errorf("failed to read WAL page %d: %w", id, err)
	}
	if crc32.ChecksumIEEE(payload) != ref.crc {
		return nil, false, fmt.Errorf("wal: page %d checksum mismatch", id)
	}

	if w.compressed {
		data, err := w.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decompress WAL page %d: %w", id, err)
		}
		return data, true, nil
	}

	return payload, true, nil
}

// Contains reports whether the log holds a committed image of the page.
func (w *WAL) Contains(id uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pages.Contains(id)
}

// PageCount returns the number of distinct committed pages in the log.
func (w *WAL) PageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return int(w.pages.GetCardinality())
}

// Range calls fn for every committed page in ascending page order with the
// newest image of each page. Returning an error stops the iteration.
func (w *WAL) Range(fn func(id uint32, data []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return ErrClosed
	}

	it := w.pages.Iterator()
	for it.HasNext() {
		id := it.Next()

		data, ok, err := w.pageLocked(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := fn(id, data); err != nil {
			return err
		}
	}

	return nil
}

// Reset discards all batches and truncates the log back to its header,
// typically after a checkpoint has copied the pages into the datafile.
// Sequence numbers keep increasing across resets.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return ErrClosed
	}
	if w.opts.ReadOnly {
		return ErrReadOnly
	}

	if err := w.f.Truncate(walHeaderLen); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL truncate: %w", err)
	}

	w.size = walHeaderLen
	w.index = make(map[uint32]pageRef)
	w.pages.Clear()

	return nil
}

// LastSeq returns the sequence number of the most recent committed batch,
// or 0 when nothing has been committed yet.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.seq
}

// Size returns the WAL file size in bytes, excluding any truncated tail.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.size
}

// Path returns the WAL file location.
func (w *WAL) Path() string {
	return w.opts.Path
}

// Close syncs and closes the log file. Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}

	var errs []error

	if !w.opts.ReadOnly {
		if err := w.f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync WAL file: %w", err))
		}
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close WAL file: %w", err))
	}
	w.f = nil

	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
	if w.dec != nil {
		w.dec.Close()
		w.dec = nil
	}

	return errors.Join(errs...)
}
