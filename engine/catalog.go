package engine

import (
	"fmt"
	"sort"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

const (
	maxCollectionNameLen = 60
	maxCollections       = 250
)

// collection is the catalog state of one collection.
type collection struct {
	id    uint8
	name  string
	head  uint32 // first data page, EmptyPageID when the collection is empty
	tail  uint32 // last data page
	count int64  // live documents
	seq   int64  // last auto-increment id handed out
}

// catalog tracks every collection of a datafile. It is persisted as a
// single document in the catalog page.
type catalog struct {
	byName map[string]*collection
	nextID uint8
}

func newCatalog() *catalog {
	return &catalog{
		byName: make(map[string]*collection),
		nextID: 1,
	}
}

func (c *catalog) get(name string) (*collection, bool) {
	col, ok := c.byName[name]
	return col, ok
}

func (c *catalog) byID(id uint8) *collection {
	for _, col := range c.byName {
		if col.id == id {
			return col
		}
	}
	return nil
}

// create registers a new empty collection under the next free id.
func (c *catalog) create(name string) (*collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	if len(c.byName) >= maxCollections || int(c.nextID) > maxCollections {
		return nil, ErrTooManyCollections
	}

	col := &collection{
		id:   c.nextID,
		name: name,
		head: codec.EmptyPageID,
		tail: codec.EmptyPageID,
	}
	c.byName[name] = col
	c.nextID++

	return col, nil
}

func (c *catalog) remove(name string) {
	delete(c.byName, name)
}

// names returns all collection names in lexical order.
func (c *catalog) names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// toDocument renders the catalog into its persisted document form.
func (c *catalog) toDocument() *document.Document {
	cols := document.NewDocument()
	for _, name := range c.names() {
		col := c.byName[name]
		cols.Set(name, document.FromDocument(document.NewDocument().
			Set("id", document.Int32(int32(col.id))).
			Set("head", document.Int64(int64(col.head))).
			Set("tail", document.Int64(int64(col.tail))).
			Set("count", document.Int64(col.count)).
			Set("seq", document.Int64(col.seq))))
	}

	return document.NewDocument().
		Set("collections", document.FromDocument(cols)).
		Set("next_id", document.Int32(int32(c.nextID)))
}

// catalogFromDocument rebuilds the in-memory catalog from its persisted
// document form.
func catalogFromDocument(d *document.Document) (*catalog, error) {
	c := newCatalog()

	colsVal, _ := d.Get("collections")
	colsDoc, ok := colsVal.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: catalog misses collections", ErrInvalidDatafile)
	}

	for name, v := range colsDoc.Fields() {
		entry, ok := v.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: catalog entry %q", ErrInvalidDatafile, name)
		}

		id, ok := entryInt32(entry, "id")
		if !ok || id < 1 || id > maxCollections {
			return nil, fmt.Errorf("%w: catalog entry %q has bad id", ErrInvalidDatafile, name)
		}
		head, okHead := entryInt64(entry, "head")
		tail, okTail := entryInt64(entry, "tail")
		count, okCount := entryInt64(entry, "count")
		seq, okSeq := entryInt64(entry, "seq")
		if !okHead || !okTail || !okCount || !okSeq {
			return nil, fmt.Errorf("%w: catalog entry %q has bad fields", ErrInvalidDatafile, name)
		}

		c.byName[name] = &collection{
			id:    uint8(id), //nolint:gosec // bounded by the check above
			name:  name,
			head:  uint32(head), //nolint:gosec // page ids round trip through int64
			tail:  uint32(tail), //nolint:gosec // page ids round trip through int64
			count: count,
			seq:   seq,
		}
	}

	nextVal, _ := d.Get("next_id")
	nextID, ok := nextVal.AsInt32()
	if !ok || nextID < 1 || nextID > maxCollections+1 {
		return nil, fmt.Errorf("%w: catalog misses next_id", ErrInvalidDatafile)
	}
	c.nextID = uint8(nextID) //nolint:gosec // ids never exceed maxCollections+1

	return c, nil
}

func entryInt32(d *document.Document, key string) (int32, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt32()
}

func entryInt64(d *document.Document, key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}

// validateCollectionName enforces the naming rules: 1 to 60 characters,
// ASCII letters, digits, '_' or '-', starting with a letter or '_'.
func validateCollectionName(name string) error {
	if name == "" || len(name) > maxCollectionNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}

	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
		}
	}

	return nil
}
