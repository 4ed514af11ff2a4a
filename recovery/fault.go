package recovery

import (
	"time"

	"github.com/hupe1980/docgo/document"
)

// FaultCode classifies what part of the source a rebuild gave up on.
type FaultCode int32

const (
	// FaultPageHeader marks a page or file header that failed validation.
	FaultPageHeader FaultCode = iota + 1
	// FaultSlotDirectory marks a slot entry pointing outside its page.
	FaultSlotDirectory
	// FaultDocument marks a payload that did not decode as a document.
	FaultDocument
	// FaultChecksum marks a record whose checksum did not match.
	FaultChecksum
	// FaultTruncated marks a file that ends inside a page or record.
	FaultTruncated
	// FaultCatalog marks an unreadable catalog or a data page referencing
	// a collection the catalog does not know.
	FaultCatalog
	// FaultWAL marks a write-ahead log overlay that could not be applied.
	FaultWAL
	// FaultReingest marks a recovered document the target engine rejected.
	FaultReingest
)

// String implements the fmt.Stringer interface.
func (c FaultCode) String() string {
	switch c {
	case FaultPageHeader:
		return "page header"
	case FaultSlotDirectory:
		return "slot directory"
	case FaultDocument:
		return "document"
	case FaultChecksum:
		return "checksum"
	case FaultTruncated:
		return "truncated"
	case FaultCatalog:
		return "catalog"
	case FaultWAL:
		return "wal"
	case FaultReingest:
		return "reingest"
	default:
		return "unknown"
	}
}

// Fault describes one unit of data a rebuild could not carry over. Faults
// are collected, never thrown: the pipeline keeps going and hands them back
// with the result. For the legacy log format PageID carries the record
// ordinal instead.
type Fault struct {
	PageID  uint32
	Created time.Time
	Code    FaultCode
	Field   string
	Message string
}

// toDocument renders the fault as a report document for the fault
// collection.
func (f Fault) toDocument(runID document.Value) *document.Document {
	return document.NewDocument().
		Set("runId", runID).
		Set("created", document.DateTime(f.Created)).
		Set("pageId", document.Int32(int32(f.PageID))). //nolint:gosec // page ids stay far below 2^31
		Set("code", document.Int32(int32(f.Code))).
		Set("field", document.String(f.Field)).
		Set("message", document.String(f.Message))
}

// faultList collects faults up to a capacity. Overflow is counted, not
// kept, so a thoroughly shredded file cannot exhaust memory through its
// fault report.
type faultList struct {
	max     int
	faults  []Fault
	dropped int
}

// newFaultList creates a list keeping at most max faults. Zero or negative
// keeps everything.
func newFaultList(max int) *faultList {
	return &faultList{max: max}
}

func (l *faultList) add(f Fault) {
	if l.max > 0 && len(l.faults) >= l.max {
		l.dropped++
		return
	}

	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}

	l.faults = append(l.faults, f)
}

func (l *faultList) addAll(faults []Fault) {
	for _, f := range faults {
		l.add(f)
	}
}
