package wal

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// replay scans the log and rebuilds the committed page index. Pages become
// visible only once the commit marker of their batch has been read intact;
// everything after the last intact marker is an uncommitted tail. In write
// mode the tail is truncated away so new batches append to a clean end.
func (w *WAL) replay(size int64) error {
	var (
		off     = int64(walHeaderLen)
		tail    = int64(walHeaderLen) // end of the last committed batch
		pending = make(map[uint32]pageRef)
		count   uint32
		hdr     [walEntryLen]byte
	)

scan:
	for off+walEntryLen <= size {
		if _, err := w.f.ReadAt(hdr[:], off); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}

		h := parseEntryHeader(hdr[:])

		switch h.typ {
		case walPage:
			payloadOff := off + walEntryLen
			if payloadOff+int64(h.n) > size {
				break scan // torn payload
			}

			payload := make([]byte, h.n)
			if _, err := w.f.ReadAt(payload, payloadOff); err != nil {
				return fmt.Errorf("failed to read WAL payload: %w", err)
			}
			if crc32.ChecksumIEEE(payload) != h.crc {
				break scan // torn or damaged tail
			}

			pending[h.page] = pageRef{off: payloadOff, n: h.n, crc: h.crc}
			count++
			off = payloadOff + int64(h.n)

		case walCommit:
			if h.page != count {
				break scan // marker does not match the open batch
			}

			for id, ref := range pending {
				w.index[id] = ref
				w.pages.Add(id)
			}
			pending = make(map[uint32]pageRef)
			count = 0

			w.seq = h.seq
			off += walEntryLen
			tail = off

		default:
			break scan // unknown entry type, treat as tail garbage
		}
	}

	w.size = tail

	if !w.opts.ReadOnly && tail < size {
		if err := w.f.Truncate(tail); err != nil {
			return fmt.Errorf("failed to truncate uncommitted WAL tail: %w", err)
		}
	}

	return nil
}
