package codec

import "fmt"

const (
	// EmptyPageID marks an unassigned page pointer.
	EmptyPageID uint32 = 0xFFFFFFFF

	// PageAddressSize is the encoded size of a PageAddress: a 32-bit page id
	// followed by an 8-bit slot index.
	PageAddressSize = 5
)

// PageAddress locates one record: the page holding it and the slot directory
// index inside that page. It is itself encodable, so index leaves can point
// at records.
type PageAddress struct {
	PageID uint32
	Slot   uint8
}

// EmptyPageAddress is the zero location.
var EmptyPageAddress = PageAddress{PageID: EmptyPageID}

// IsEmpty reports whether the address points nowhere.
func (a PageAddress) IsEmpty() bool { return a.PageID == EmptyPageID }

// String implements fmt.Stringer.
func (a PageAddress) String() string {
	if a.IsEmpty() {
		return "(empty)"
	}
	return fmt.Sprintf("%04d:%02d", a.PageID, a.Slot)
}
