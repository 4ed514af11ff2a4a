package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

// Insert stores documents in a collection, creating the collection on
// first use. All documents of one call are committed as a single WAL
// batch; on any error the whole call rolls back. Missing _id values are
// assigned according to the AutoID policy and written back into the given
// documents. The ids are returned in input order.
func (e *Engine) Insert(ctx context.Context, name string, docs ...*document.Document) ([]document.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, err := e.insertLocked(ctx, name, docs)
	e.metrics.OnInsert(name, len(docs), err)

	return ids, err
}

func (e *Engine) insertLocked(ctx context.Context, name string, docs []*document.Document) ([]document.Value, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.readOnly {
		return nil, ErrReadOnly
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	created := false
	col, ok := e.cat.get(name)
	if !ok {
		var err error
		col, err = e.cat.create(name)
		if err != nil {
			return nil, err
		}
		if codec.DocumentSize(e.cat.toDocument()) > PageSize-PageHeaderSize {
			e.cat.remove(name)
			return nil, ErrCatalogFull
		}
		created = true
		e.pk[col.id] = make(map[string]codec.PageAddress)
	}

	var (
		snapCol   = *col
		snapPages = e.hdr.pageCount
		takenFree []uint32
		addedKeys []string
		idx       = e.pk[col.id]
	)

	rollback := func() {
		*col = snapCol
		e.hdr.pageCount = snapPages
		for _, id := range takenFree {
			e.free.Add(id)
		}
		for _, k := range addedKeys {
			delete(idx, k)
		}
		if created {
			delete(e.pk, col.id)
			e.cat.remove(name)
		}
		e.pg.discard()
		e.headerDirty, e.catalogDirty = false, false
	}

	alloc := func() (page, error) {
		if !e.free.IsEmpty() {
			id := e.free.Minimum()
			e.free.Remove(id)
			takenFree = append(takenFree, id)
			p := e.pg.stageNew(id, PageTypeData)
			p.setCollection(col.id)
			return p, nil
		}

		id := e.hdr.pageCount
		if lim := e.hdr.pragmas.LimitSize; lim > 0 && int64(id+1)*PageSize > lim {
			return page{}, ErrSizeLimit
		}
		e.hdr.pageCount++
		e.headerDirty = true

		p := e.pg.stageNew(id, PageTypeData)
		p.setCollection(col.id)
		return p, nil
	}

	ids := make([]document.Value, 0, len(docs))

	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}

		idv, err := e.ensureID(col, d)
		if err != nil {
			rollback()
			return nil, err
		}

		key, err := codec.EncodeIndexKey(idv)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("document _id: %w", err)
		}
		if _, dup := idx[string(key)]; dup {
			rollback()
			return nil, fmt.Errorf("%w: _id %s in %q", ErrDuplicateKey, idv, name)
		}

		size := codec.DocumentSize(d)
		if size > MaxDocumentSize {
			rollback()
			return nil, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, size)
		}

		p, err := e.dataPageFor(col, size, alloc)
		if err != nil {
			rollback()
			return nil, err
		}

		slot := p.insertItem(codec.EncodeDocument(d))

		idx[string(key)] = codec.PageAddress{PageID: p.id(), Slot: slot}
		addedKeys = append(addedKeys, string(key))
		col.count++
		ids = append(ids, idv)
	}

	e.catalogDirty = true

	if err := e.commitLocked(); err != nil {
		rollback()
		return nil, err
	}

	return ids, nil
}

// dataPageFor returns a staged page with room for size bytes, extending
// the collection chain when the tail page is full.
func (e *Engine) dataPageFor(col *collection, size int, alloc func() (page, error)) (page, error) {
	if col.tail != codec.EmptyPageID {
		p, err := e.pg.stage(col.tail)
		if err != nil {
			return page{}, err
		}
		if p.hasRoomFor(size) {
			return p, nil
		}
	}

	p, err := alloc()
	if err != nil {
		return page{}, err
	}

	if col.tail == codec.EmptyPageID {
		col.head = p.id()
	} else {
		tail, err := e.pg.stage(col.tail)
		if err != nil {
			return page{}, err
		}
		tail.setNext(p.id())
		p.setPrev(col.tail)
	}
	col.tail = p.id()

	return p, nil
}

// ensureID returns the primary key of d, assigning one according to the
// AutoID policy when the document has none.
func (e *Engine) ensureID(col *collection, d *document.Document) (document.Value, error) {
	id, _ := d.ID()

	if !id.IsValid() {
		switch e.autoID {
		case AutoIDGUID:
			id = document.NewGUID()
		case AutoIDInt64:
			col.seq++
			id = document.Int64(col.seq)
		default:
			id = document.NewObjectID()
		}
		d.Set(document.IDField, id)
		return id, nil
	}

	switch id.Kind() {
	case document.KindNull, document.KindMinValue, document.KindMaxValue,
		document.KindDocument, document.KindArray, document.KindVector:
		return document.Value{}, fmt.Errorf("%w: kind %s", ErrInvalidID, id.Kind())
	}

	// Explicit numeric ids move the sequence forward so later generated
	// ids cannot collide.
	if n, ok := id.AsInt64(); ok && n > col.seq {
		col.seq = n
	}
	if n, ok := id.AsInt32(); ok && int64(n) > col.seq {
		col.seq = int64(n)
	}

	return id, nil
}
