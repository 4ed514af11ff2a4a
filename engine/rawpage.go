package engine

import "fmt"

// RawPage is the untrusted header of a raw page image. The pager never
// hands out pages in this form; recovery tooling uses it to inspect files
// whose chain pointers and counts may lie.
type RawPage struct {
	ID         uint32
	Type       PageType
	Collection uint8
	Prev       uint32
	Next       uint32
	ItemCount  int
	SlotCount  int
}

// ReadRawPage parses the header of a raw page buffer. It fails when the
// buffer is not exactly PageSize bytes or the declared counts contradict
// each other.
func ReadRawPage(b []byte) (RawPage, error) {
	if len(b) != PageSize {
		return RawPage{}, fmt.Errorf("raw page: %d bytes, want %d", len(b), PageSize)
	}

	p := newPage(b)

	rp := RawPage{
		ID:         p.id(),
		Type:       p.typ(),
		Collection: p.collection(),
		Prev:       p.prev(),
		Next:       p.next(),
		ItemCount:  p.itemCount(),
		SlotCount:  p.slotCount(),
	}

	if rp.Type > PageTypeData {
		return rp, fmt.Errorf("raw page %d: unknown page type %d", rp.ID, uint8(rp.Type))
	}
	if rp.ItemCount > rp.SlotCount {
		return rp, fmt.Errorf("raw page %d: %d items exceed %d slots", rp.ID, rp.ItemCount, rp.SlotCount)
	}

	return rp, nil
}

// RawSlot returns the payload of slot i in a raw page image, validating the
// directory entry against the page bounds instead of trusting it. ok is
// false for tombstones; a non-nil error means the entry points outside the
// data region.
func RawSlot(b []byte, i int) (payload []byte, ok bool, err error) {
	if len(b) != PageSize {
		return nil, false, fmt.Errorf("raw page: %d bytes, want %d", len(b), PageSize)
	}

	p := newPage(b)

	if i < 0 || i >= p.slotCount() {
		return nil, false, fmt.Errorf("raw page %d: slot %d outside the directory", p.id(), i)
	}

	off, n := p.slot(i)
	if n == 0 {
		return nil, false, nil
	}

	if off < PageHeaderSize || off+n > PageSize-slotSize*p.slotCount() {
		return nil, false, fmt.Errorf("raw page %d: slot %d spans [%d:%d] outside the data region", p.id(), i, off, off+n)
	}

	return b[off : off+n], true, nil
}
