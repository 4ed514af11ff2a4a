package engine

import (
	"fmt"
	"time"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

const (
	// HeaderInfo identifies a docgo datafile. It sits at the very start of
	// page 0, zero padded to headerInfoLen bytes.
	HeaderInfo = "** This is a DOCGO datafile **"

	// FileVersion is the current datafile format version.
	FileVersion = 2

	headerInfoLen = 32

	// Header page field offsets.
	headerOffInfo    = 0  // info string, zero padded
	headerOffVersion = 32 // u8 file version

	// HeaderOffInvalidState is the offset of the invalid-state mark inside
	// page 0. A non-zero byte tells every opener that the file must be
	// rebuilt before use. The mark is written directly to the datafile,
	// bypassing the page pipeline, so external tooling can set it on a
	// file it cannot otherwise parse.
	HeaderOffInvalidState = 33

	headerOffCreated     = 34 // i64 creation time, unix nanoseconds
	headerOffPageCount   = 42 // u32 logical page count
	headerOffCatalogPage = 46 // u32 page id of the collection catalog
	headerOffPragmas     = 50 // persisted pragmas, see pragmas.go
	headerOffCollation   = 71 // u8 length + collation spec string

	maxCollationSpecLen = 128
)

// MatchHeader reports whether b starts with a current-version docgo
// datafile header. It needs at least the fixed header fields, not a whole
// page.
func MatchHeader(b []byte) bool {
	if len(b) < headerOffCreated {
		return false
	}

	s := codec.FullSlice(b)
	if s.ReadCString(headerOffInfo, headerInfoLen) != HeaderInfo {
		return false
	}

	return s.ReadUint8(headerOffVersion) == FileVersion
}

// HeaderMeta is the raw header-page state of a datafile. Unlike the
// engine's own open path it is also readable from files carrying the
// invalid-state mark, which is what recovery tooling needs.
type HeaderMeta struct {
	Created       time.Time
	PageCount     uint32
	CatalogPage   uint32
	Pragmas       Pragmas
	CollationSpec string
	Invalid       bool
}

// ReadHeaderMeta extracts the header fields from a page 0 image. It
// validates the signature and structural plausibility but accepts files
// marked invalid.
func ReadHeaderMeta(b []byte) (HeaderMeta, error) {
	if !MatchHeader(b) {
		return HeaderMeta{}, fmt.Errorf("%w: bad header page", ErrInvalidDatafile)
	}

	s := codec.FullSlice(b)

	m := HeaderMeta{
		Created:     time.Unix(0, s.ReadInt64(headerOffCreated)).UTC(),
		PageCount:   s.ReadUint32(headerOffPageCount),
		CatalogPage: s.ReadUint32(headerOffCatalogPage),
		Pragmas:     readPragmas(s),
		Invalid:     s.ReadUint8(HeaderOffInvalidState) != 0,
	}

	if m.PageCount < 2 || m.CatalogPage == 0 || m.CatalogPage >= m.PageCount {
		return HeaderMeta{}, fmt.Errorf("%w: implausible header fields", ErrInvalidDatafile)
	}

	specLen := int(s.ReadUint8(headerOffCollation))
	if specLen > maxCollationSpecLen {
		return HeaderMeta{}, fmt.Errorf("%w: oversized collation spec", ErrInvalidDatafile)
	}
	if specLen > 0 {
		m.CollationSpec = s.ReadString(headerOffCollation+1, specLen)
	}

	return m, nil
}

// header mirrors the persisted fields of page 0.
type header struct {
	created     time.Time
	pageCount   uint32
	catalogPage uint32
	pragmas     Pragmas
	collation   *document.Collation
}

func newHeader(collation *document.Collation) *header {
	return &header{
		created:     time.Now().UTC(),
		pageCount:   2, // header page and catalog page
		catalogPage: 1,
		pragmas:     DefaultPragmas,
		collation:   collation,
	}
}

// writeTo formats buf as the header page.
func (h *header) writeTo(buf []byte) {
	p := formatPage(buf, 0, PageTypeHeader)

	p.s.WriteString(headerOffInfo, HeaderInfo)
	p.s.WriteUint8(headerOffVersion, FileVersion)
	p.s.WriteUint8(HeaderOffInvalidState, 0)
	p.s.WriteInt64(headerOffCreated, h.created.UnixNano())
	p.s.WriteUint32(headerOffPageCount, h.pageCount)
	p.s.WriteUint32(headerOffCatalogPage, h.catalogPage)

	h.pragmas.writeTo(p.s)

	spec := h.collation.String()
	p.s.WriteUint8(headerOffCollation, uint8(len(spec))) //nolint:gosec // spec length is validated on open
	p.s.WriteString(headerOffCollation+1, spec)
}

// readHeaderPage parses and validates the header page image for engine
// use. Files marked invalid are rejected here; they have to pass through
// a rebuild first.
func readHeaderPage(buf []byte) (*header, error) {
	m, err := ReadHeaderMeta(buf)
	if err != nil {
		return nil, err
	}
	if m.Invalid {
		return nil, ErrInvalidDatafileState
	}

	collation, err := document.NewCollation(m.CollationSpec)
	if err != nil {
		return nil, fmt.Errorf("%w: collation %q: %v", ErrInvalidDatafile, m.CollationSpec, err)
	}

	return &header{
		created:     m.Created,
		pageCount:   m.PageCount,
		catalogPage: m.CatalogPage,
		pragmas:     m.Pragmas,
		collation:   collation,
	}, nil
}
