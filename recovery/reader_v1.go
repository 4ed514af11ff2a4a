package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
)

// Version 1 datafiles are an append-only record log, not a paged file. A
// 64 byte header carries the magic and a flag word, then records follow
// back to back until end of file:
//
//	[kind u8][crc32 u32][nameLen u8][name][payloadLen u32][payload]
//
// kind 1 is a document belonging to the named collection, kind 2 a
// settings document (the last one wins). The checksum covers the stored
// payload. When the header's lz4 flag is set, every payload is a
// [rawLen u32] prefix followed by an lz4 block.
const (
	v1Magic      = "DOCGO01\x00"
	v1HeaderSize = 64
	v1FlagLZ4    = 1 << 0

	v1RecordDocument = 1
	v1RecordPragmas  = 2

	// v1MaxPayload bounds a single record. Anything larger means the
	// framing can no longer be trusted.
	v1MaxPayload = 64 << 20
)

func matchV1Header(b []byte) bool {
	return len(b) >= len(v1Magic) && string(b[:len(v1Magic)]) == v1Magic
}

// v1Reader recovers documents from a legacy record-log datafile.
//
// A v1Reader is not safe for concurrent use.
type v1Reader struct {
	f    *os.File
	size int64
	lz4  bool

	pragmas engine.Pragmas
	spec    string

	cols map[string]struct{}

	limiter *rate.Limiter
	faults  *faultList
}

func openV1Reader(ctx context.Context, f *os.File, opts ReaderOptions) (*v1Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}

	r := &v1Reader{
		f:       f,
		size:    fi.Size(),
		pragmas: engine.DefaultPragmas,
		cols:    make(map[string]struct{}),
		limiter: opts.Limiter,
		faults:  newFaultList(opts.MaxFaults),
	}

	if r.size < v1HeaderSize {
		r.faults.add(Fault{Code: FaultTruncated, Message: "file ends inside the header"})
		return r, nil
	}

	var hdr [v1HeaderSize]byte
	if _, err := r.f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	r.lz4 = binary.LittleEndian.Uint32(hdr[8:12])&v1FlagLZ4 != 0

	// One validating pass records every fault up front.
	err = r.scan(ctx, r.faults, func(name string, d *document.Document) error {
		r.cols[name] = struct{}{}
		return nil
	}, func(d *document.Document) {
		r.applyPragmas(d)
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// scan walks the record log from the top. Damaged records are reported to
// faults when non-nil and skipped; a record that no longer frames cleanly
// ends the walk, since everything after it is unreadable.
func (r *v1Reader) scan(ctx context.Context, faults *faultList, onDoc func(name string, d *document.Document) error, onPragmas func(d *document.Document)) error {
	record := func(f Fault) {
		if faults != nil {
			faults.add(f)
		}
	}

	off := int64(v1HeaderSize)
	ordinal := uint32(0)

	for off < r.size {
		if err := ctx.Err(); err != nil {
			return err
		}

		// kind, checksum and name length
		var fixed [6]byte
		if _, err := r.f.ReadAt(fixed[:], off); err != nil {
			record(Fault{PageID: ordinal, Code: FaultTruncated, Message: "file ends inside a record"})
			return nil
		}
		kind := fixed[0]
		sum := binary.LittleEndian.Uint32(fixed[1:5])
		nameLen := int(fixed[5])
		off += 6

		name := ""
		if nameLen > 0 {
			buf := make([]byte, nameLen)
			if _, err := r.f.ReadAt(buf, off); err != nil {
				record(Fault{PageID: ordinal, Code: FaultTruncated, Message: "file ends inside a record"})
				return nil
			}
			name = string(buf)
			off += int64(nameLen)
		}

		var lenBuf [4]byte
		if _, err := r.f.ReadAt(lenBuf[:], off); err != nil {
			record(Fault{PageID: ordinal, Code: FaultTruncated, Message: "file ends inside a record"})
			return nil
		}
		payloadLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
		off += 4

		if payloadLen > v1MaxPayload || payloadLen > r.size-off {
			record(Fault{
				PageID:  ordinal,
				Code:    FaultTruncated,
				Message: fmt.Sprintf("record declares %d payload bytes, %d remain", payloadLen, r.size-off),
			})
			return nil
		}

		if err := throttle(ctx, r.limiter, int(payloadLen)+10+nameLen); err != nil {
			return err
		}

		payload := make([]byte, payloadLen)
		if _, err := r.f.ReadAt(payload, off); err != nil {
			record(Fault{PageID: ordinal, Code: FaultTruncated, Message: "file ends inside a record"})
			return nil
		}
		off += payloadLen
		ordinal++

		if crc32.ChecksumIEEE(payload) != sum {
			record(Fault{PageID: ordinal - 1, Code: FaultChecksum, Message: "record checksum mismatch"})
			continue
		}

		raw := payload
		if r.lz4 {
			var err error
			if raw, err = v1Decompress(payload); err != nil {
				record(Fault{PageID: ordinal - 1, Code: FaultDocument, Message: err.Error()})
				continue
			}
		}

		switch kind {
		case v1RecordDocument:
			if name == "" {
				record(Fault{PageID: ordinal - 1, Code: FaultDocument, Message: "document record without a collection"})
				continue
			}

			d, _, err := codec.DecodeDocument(raw)
			if err != nil {
				record(Fault{PageID: ordinal - 1, Code: FaultDocument, Message: err.Error()})
				continue
			}

			if err := onDoc(name, d); err != nil {
				return err
			}

		case v1RecordPragmas:
			d, _, err := codec.DecodeDocument(raw)
			if err != nil {
				record(Fault{PageID: ordinal - 1, Code: FaultDocument, Message: err.Error()})
				continue
			}

			if onPragmas != nil {
				onPragmas(d)
			}

		default:
			record(Fault{
				PageID:  ordinal - 1,
				Code:    FaultDocument,
				Message: fmt.Sprintf("unknown record kind %d", kind),
			})
		}
	}

	return nil
}

func v1Decompress(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("lz4 payload of %d bytes", len(payload))
	}

	rawLen := binary.LittleEndian.Uint32(payload)
	if int64(rawLen) > v1MaxPayload {
		return nil, fmt.Errorf("lz4 payload declares %d raw bytes", rawLen)
	}

	raw := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(payload[4:], raw)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if n != int(rawLen) {
		return nil, fmt.Errorf("lz4 block holds %d bytes, header declares %d", n, rawLen)
	}

	return raw, nil
}

// applyPragmas folds a settings record into the carried pragmas. Fields
// it does not know are ignored.
func (r *v1Reader) applyPragmas(d *document.Document) {
	if n, ok := v1Int(d, engine.PragmaCheckpoint); ok {
		r.pragmas.Checkpoint = int32(n) //nolint:gosec // sanitized again on carry-over
	}
	if n, ok := v1Int(d, engine.PragmaTimeout); ok {
		r.pragmas.Timeout = time.Duration(n) * time.Second
	}
	if n, ok := v1Int(d, engine.PragmaLimitSize); ok {
		r.pragmas.LimitSize = n
	}
	if n, ok := v1Int(d, engine.PragmaUserVersion); ok {
		r.pragmas.UserVersion = int32(n) //nolint:gosec // sanitized again on carry-over
	}

	if v, ok := d.Get(engine.PragmaUTCDate); ok {
		if b, ok := v.AsBool(); ok {
			r.pragmas.UTCDate = b
		}
	}
	if v, ok := d.Get(engine.PragmaCollation); ok {
		if s, ok := v.AsString(); ok {
			r.spec = s
		}
	}
}

func v1Int(d *document.Document, field string) (int64, bool) {
	v, ok := d.Get(field)
	if !ok {
		return 0, false
	}

	switch v.Kind() {
	case document.KindInt32:
		n, _ := v.AsInt32()
		return int64(n), true
	case document.KindInt64:
		return v.AsInt64()
	default:
		return 0, false
	}
}

// Collections implements the Reader interface.
func (r *v1Reader) Collections() []string {
	names := make([]string, 0, len(r.cols))
	for name := range r.cols {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Documents implements the Reader interface.
func (r *v1Reader) Documents(ctx context.Context, collection string, fn func(d *document.Document) error) error {
	if _, ok := r.cols[collection]; !ok {
		return fmt.Errorf("%w: %q", engine.ErrCollectionNotFound, collection)
	}

	return r.scan(ctx, nil, func(name string, d *document.Document) error {
		if name != collection {
			return nil
		}

		return fn(d)
	}, nil)
}

// Pragmas implements the Reader interface.
func (r *v1Reader) Pragmas() engine.Pragmas { return r.pragmas }

// CollationSpec implements the Reader interface.
func (r *v1Reader) CollationSpec() string { return r.spec }

// Faults implements the Reader interface.
func (r *v1Reader) Faults() []Fault { return r.faults.faults }

// DroppedFaults implements the Reader interface.
func (r *v1Reader) DroppedFaults() int { return r.faults.dropped }

// Close implements the Reader interface.
func (r *v1Reader) Close() error { return r.f.Close() }
