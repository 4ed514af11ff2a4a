package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

// Delete removes a document by _id and reports whether one was removed.
// A page left without any document is unlinked from the collection chain
// and returned to the free set.
func (e *Engine) Delete(ctx context.Context, name string, id document.Value) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deleted, err := e.deleteLocked(ctx, name, id)
	e.metrics.OnDelete(name, err)

	return deleted, err
}

func (e *Engine) deleteLocked(ctx context.Context, name string, id document.Value) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	if e.readOnly {
		return false, ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	col, ok := e.cat.get(name)
	if !ok {
		return false, nil
	}

	key, err := codec.EncodeIndexKey(id)
	if err != nil {
		return false, fmt.Errorf("document _id: %w", err)
	}

	idx := e.pk[col.id]
	addr, ok := idx[string(key)]
	if !ok {
		return false, nil
	}

	snapCol := *col

	p, err := e.pg.stage(addr.PageID)
	if err != nil {
		return false, err
	}
	p.deleteItem(int(addr.Slot))
	col.count--

	var freed []uint32
	if p.itemCount() == 0 {
		if err := e.unlinkPageLocked(col, p); err != nil {
			*col = snapCol
			e.pg.discard()
			return false, err
		}
		freed = append(freed, p.id())
	}

	delete(idx, string(key))
	e.catalogDirty = true

	if err := e.commitLocked(); err != nil {
		*col = snapCol
		idx[string(key)] = addr
		e.catalogDirty = false
		return false, err
	}

	// Free pages only become reusable once the unlink is committed.
	for _, fid := range freed {
		e.free.Add(fid)
	}

	return true, nil
}

// unlinkPageLocked removes a now-empty page from its collection chain and
// reformats it as an empty page.
func (e *Engine) unlinkPageLocked(col *collection, p page) error {
	prev, next := p.prev(), p.next()

	if prev != codec.EmptyPageID {
		pp, err := e.pg.stage(prev)
		if err != nil {
			return err
		}
		pp.setNext(next)
	} else {
		col.head = next
	}

	if next != codec.EmptyPageID {
		np, err := e.pg.stage(next)
		if err != nil {
			return err
		}
		np.setPrev(prev)
	} else {
		col.tail = prev
	}

	formatPage(p.buf(), p.id(), PageTypeEmpty)

	return nil
}

// Drop removes a whole collection and frees its pages. It reports whether
// the collection existed.
func (e *Engine) Drop(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, ErrClosed
	}
	if e.readOnly {
		return false, ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	col, ok := e.cat.get(name)
	if !ok {
		return false, nil
	}

	var freed []uint32
	for pid := col.head; pid != codec.EmptyPageID; {
		p, err := e.pg.stage(pid)
		if err != nil {
			e.pg.discard()
			return false, err
		}
		next := p.next()
		formatPage(p.buf(), pid, PageTypeEmpty)
		freed = append(freed, pid)
		pid = next
	}

	e.cat.remove(name)
	e.catalogDirty = true

	if err := e.commitLocked(); err != nil {
		e.cat.byName[name] = col
		e.catalogDirty = false
		return false, err
	}

	delete(e.pk, col.id)
	for _, fid := range freed {
		e.free.Add(fid)
	}

	e.logger.Infof("dropped collection %q, freed %d pages", name, len(freed))

	return true, nil
}
