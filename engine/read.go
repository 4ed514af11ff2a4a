package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

// Get returns the document with the given _id.
func (e *Engine) Get(ctx context.Context, name string, id document.Value) (*document.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	col, ok := e.cat.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}

	key, err := codec.EncodeIndexKey(id)
	if err != nil {
		return nil, fmt.Errorf("document _id: %w", err)
	}

	addr, ok := e.pk[col.id][string(key)]
	if !ok {
		return nil, fmt.Errorf("%w: _id %s in %q", ErrDocumentNotFound, id, name)
	}

	return e.readDocumentLocked(addr)
}

func (e *Engine) readDocumentLocked(addr codec.PageAddress) (*document.Document, error) {
	b, err := e.pg.read(addr.PageID)
	if err != nil {
		return nil, err
	}

	item, ok := newPage(b).item(int(addr.Slot))
	if !ok {
		return nil, fmt.Errorf("%w: empty slot at %s", ErrInvalidDatafile, addr)
	}

	d, _, err := codec.ReadDocument(item, 0, e.decodeOptsLocked()...)
	if err != nil {
		return nil, fmt.Errorf("%w: document at %s: %v", ErrInvalidDatafile, addr, err)
	}

	return d, nil
}

// Scan calls fn for every document of a collection in storage order.
// Returning ErrStopScan from fn ends the scan early without error.
func (e *Engine) Scan(ctx context.Context, name string, fn func(d *document.Document) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}

	col, ok := e.cat.get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}

	opts := e.decodeOptsLocked()

	for pid := col.head; pid != codec.EmptyPageID; {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := e.pg.read(pid)
		if err != nil {
			return err
		}
		p := newPage(b)

		err = p.items(func(slot uint8, data codec.Slice) error {
			d, _, err := codec.ReadDocument(data, 0, opts...)
			if err != nil {
				return fmt.Errorf("%w: document at %d:%d: %v", ErrInvalidDatafile, pid, slot, err)
			}
			return fn(d)
		})
		if err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}

		pid = p.next()
	}

	return nil
}

// Count returns the number of documents in a collection. A missing
// collection counts as zero.
func (e *Engine) Count(ctx context.Context, name string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	col, ok := e.cat.get(name)
	if !ok {
		return 0, nil
	}

	return col.count, nil
}

// Collections returns all collection names in lexical order.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil
	}

	return e.cat.names()
}
