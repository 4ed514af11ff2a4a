package engine

import (
	"slices"

	"github.com/hupe1980/docgo/codec"
)

const (
	// PageSize is the fixed size of every datafile page in bytes.
	PageSize = 16384

	// PageHeaderSize is the fixed page header at the start of every page.
	PageHeaderSize = 32

	// slotSize is the size of one slot directory entry at the page tail.
	slotSize = 4

	// maxSlotCount caps the slot directory; slot indexes must fit the
	// 8-bit slot field of a page address.
	maxSlotCount = 255

	// MaxDocumentSize is the largest encoded document that fits a fresh
	// data page together with its slot entry.
	MaxDocumentSize = PageSize - PageHeaderSize - slotSize
)

// PageType discriminates the role of a page.
type PageType uint8

const (
	// PageTypeEmpty marks a page that holds nothing and can be reused.
	PageTypeEmpty PageType = iota
	// PageTypeHeader marks page 0, the datafile header.
	PageTypeHeader
	// PageTypeCatalog marks the page holding the collection catalog.
	PageTypeCatalog
	// PageTypeData marks a page storing documents of one collection.
	PageTypeData
)

// String implements the fmt.Stringer interface.
func (t PageType) String() string {
	switch t {
	case PageTypeEmpty:
		return "empty"
	case PageTypeHeader:
		return "header"
	case PageTypeCatalog:
		return "catalog"
	case PageTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// Page header field offsets.
const (
	pageOffID        = 0  // u32 page id
	pageOffType      = 4  // u8 PageType
	pageOffCol       = 5  // u8 collection id, data pages only
	pageOffPrev      = 6  // u32 previous page in the chain
	pageOffNext      = 10 // u32 next page in the chain
	pageOffItemCount = 14 // u8 live items
	pageOffSlotCount = 15 // u8 slot directory length, including tombstones
	pageOffUsedBytes = 16 // u16 bytes held by live items
	pageOffFreeStart = 18 // u16 first free byte of the data region
)

// page interprets a raw page image. It aliases the buffer, so mutations
// write through to it.
type page struct {
	s codec.Slice
}

func newPage(buf []byte) page {
	return page{s: codec.FullSlice(buf)}
}

// formatPage initializes buf as an empty page of the given type.
func formatPage(buf []byte, id uint32, typ PageType) page {
	clear(buf)

	p := newPage(buf)
	p.s.WriteUint32(pageOffID, id)
	p.s.WriteUint8(pageOffType, uint8(typ))
	p.s.WriteUint32(pageOffPrev, codec.EmptyPageID)
	p.s.WriteUint32(pageOffNext, codec.EmptyPageID)
	p.s.WriteUint16(pageOffFreeStart, PageHeaderSize)

	return p
}

func (p page) buf() []byte { return p.s.Bytes() }

func (p page) id() uint32        { return p.s.ReadUint32(pageOffID) }
func (p page) typ() PageType     { return PageType(p.s.ReadUint8(pageOffType)) }
func (p page) collection() uint8 { return p.s.ReadUint8(pageOffCol) }
func (p page) prev() uint32      { return p.s.ReadUint32(pageOffPrev) }
func (p page) next() uint32      { return p.s.ReadUint32(pageOffNext) }
func (p page) itemCount() int    { return int(p.s.ReadUint8(pageOffItemCount)) }
func (p page) slotCount() int    { return int(p.s.ReadUint8(pageOffSlotCount)) }
func (p page) usedBytes() int    { return int(p.s.ReadUint16(pageOffUsedBytes)) }
func (p page) freeStart() int    { return int(p.s.ReadUint16(pageOffFreeStart)) }

func (p page) setCollection(id uint8) { p.s.WriteUint8(pageOffCol, id) }
func (p page) setPrev(id uint32)      { p.s.WriteUint32(pageOffPrev, id) }
func (p page) setNext(id uint32)      { p.s.WriteUint32(pageOffNext, id) }

func (p page) slot(i int) (off, n int) {
	base := PageSize - slotSize*(i+1)
	return int(p.s.ReadUint16(base)), int(p.s.ReadUint16(base + 2))
}

func (p page) setSlot(i, off, n int) {
	base := PageSize - slotSize*(i+1)
	p.s.WriteUint16(base, uint16(off)) //nolint:gosec // offsets stay below PageSize
	p.s.WriteUint16(base+2, uint16(n)) //nolint:gosec // item sizes stay below PageSize
}

// contiguousFree is the gap between the data region and the slot directory.
func (p page) contiguousFree() int {
	return PageSize - slotSize*p.slotCount() - p.freeStart()
}

// totalFree additionally counts holes left behind by deleted items.
// Claiming those bytes requires a compaction first.
func (p page) totalFree() int {
	return PageSize - PageHeaderSize - slotSize*p.slotCount() - p.usedBytes()
}

// tombstone returns the index of a reusable slot, or -1 when every slot is
// live.
func (p page) tombstone() int {
	for i := range p.slotCount() {
		if _, n := p.slot(i); n == 0 {
			return i
		}
	}
	return -1
}

// hasRoomFor reports whether an item of n payload bytes fits into the page,
// accounting for slot directory growth when no tombstone can be reused.
func (p page) hasRoomFor(n int) bool {
	cost := n
	if p.tombstone() < 0 {
		if p.slotCount() >= maxSlotCount {
			return false
		}
		cost += slotSize
	}

	return p.totalFree() >= cost
}

// insertItem stores data in the page and returns the slot index it landed
// in. The caller must have checked hasRoomFor first.
func (p page) insertItem(data []byte) uint8 {
	slot := p.tombstone()
	newSlot := slot < 0
	if newSlot {
		slot = p.slotCount()
	}

	need := len(data)
	if newSlot {
		need += slotSize
	}
	if p.contiguousFree() < need {
		p.compact()
	}

	if newSlot {
		p.s.WriteUint8(pageOffSlotCount, uint8(slot+1)) //nolint:gosec // capped at maxSlotCount
	}

	off := p.freeStart()
	p.s.WriteBytes(off, data)
	p.setSlot(slot, off, len(data))

	p.s.WriteUint16(pageOffFreeStart, uint16(off+len(data)))    //nolint:gosec // bounded by PageSize
	p.s.WriteUint8(pageOffItemCount, uint8(p.itemCount()+1))    //nolint:gosec // capped at maxSlotCount
	p.s.WriteUint16(pageOffUsedBytes, uint16(p.usedBytes()+len(data))) //nolint:gosec // bounded by PageSize

	return uint8(slot) //nolint:gosec // capped at maxSlotCount
}

// deleteItem tombstones a slot and returns its bytes to the free
// accounting. Deleting a tombstone is a no-op.
func (p page) deleteItem(slot int) {
	if slot < 0 || slot >= p.slotCount() {
		return
	}

	_, n := p.slot(slot)
	if n == 0 {
		return
	}

	p.setSlot(slot, 0, 0)
	p.s.WriteUint8(pageOffItemCount, uint8(p.itemCount()-1))    //nolint:gosec // item was live
	p.s.WriteUint16(pageOffUsedBytes, uint16(p.usedBytes()-n))  //nolint:gosec // item was live

	if p.itemCount() == 0 {
		p.s.WriteUint8(pageOffSlotCount, 0)
		p.s.WriteUint16(pageOffFreeStart, PageHeaderSize)
	}
}

// item returns the payload window of a live slot.
func (p page) item(slot int) (codec.Slice, bool) {
	if slot < 0 || slot >= p.slotCount() {
		return codec.Slice{}, false
	}

	off, n := p.slot(slot)
	if n == 0 {
		return codec.Slice{}, false
	}

	return p.s.Slice(off, n), true
}

// items calls fn for every live slot in ascending slot order.
func (p page) items(fn func(slot uint8, data codec.Slice) error) error {
	for i := range p.slotCount() {
		off, n := p.slot(i)
		if n == 0 {
			continue
		}

		if err := fn(uint8(i), p.s.Slice(off, n)); err != nil { //nolint:gosec // capped at maxSlotCount
			return err
		}
	}

	return nil
}

// compact rewrites live payloads tightly from the start of the data region,
// dropping the holes left by deleted items. Slot indexes are preserved.
func (p page) compact() {
	type liveItem struct {
		slot int
		off  int
		n    int
	}

	items := make([]liveItem, 0, p.slotCount())
	for i := range p.slotCount() {
		off, n := p.slot(i)
		if n == 0 {
			continue
		}
		items = append(items, liveItem{slot: i, off: off, n: n})
	}

	// Moving items in ascending offset order keeps every copy within
	// already vacated space.
	slices.SortFunc(items, func(a, b liveItem) int { return a.off - b.off })

	buf := p.buf()
	w := PageHeaderSize
	for _, it := range items {
		copy(buf[w:w+it.n], buf[it.off:it.off+it.n])
		p.setSlot(it.slot, w, it.n)
		w += it.n
	}

	p.s.WriteUint16(pageOffFreeStart, uint16(w)) //nolint:gosec // bounded by PageSize
}
