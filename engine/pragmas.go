package engine

import (
	"fmt"
	"time"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
)

// Pragma names accepted by Pragma and SetPragma.
const (
	// PragmaUserVersion is a free application-defined version number.
	PragmaUserVersion = "USER_VERSION"
	// PragmaCheckpoint is the WAL page count that triggers an automatic
	// checkpoint after a commit. Zero disables automatic checkpoints.
	PragmaCheckpoint = "CHECKPOINT"
	// PragmaTimeout is the file lock timeout in seconds used when the
	// datafile is opened.
	PragmaTimeout = "TIMEOUT"
	// PragmaLimitSize caps the datafile size in bytes. Zero is unlimited.
	PragmaLimitSize = "LIMIT_SIZE"
	// PragmaUTCDate makes reads return timestamps in UTC instead of local
	// time.
	PragmaUTCDate = "UTC_DATE"
	// PragmaCollation is the persisted collation spec. It is fixed at file
	// creation and cannot be set afterwards.
	PragmaCollation = "COLLATION"
)

// Pragmas are the tunable per-datafile settings persisted in the header
// page. They survive reopening and are carried over by a rebuild.
type Pragmas struct {
	Checkpoint  int32
	Timeout     time.Duration
	LimitSize   int64
	UTCDate     bool
	UserVersion int32
}

// DefaultPragmas are the settings a fresh datafile starts with.
var DefaultPragmas = Pragmas{
	Checkpoint: 1000,
	Timeout:    60 * time.Second,
}

// Pragma field offsets relative to the header page start.
const (
	pragmaOffCheckpoint  = headerOffPragmas      // i32
	pragmaOffTimeout     = headerOffPragmas + 4  // i32 seconds
	pragmaOffLimitSize   = headerOffPragmas + 8  // i64 bytes
	pragmaOffUserVersion = headerOffPragmas + 16 // i32
	pragmaOffUTCDate     = headerOffPragmas + 20 // bool
)

func (p Pragmas) writeTo(s codec.Slice) {
	s.WriteInt32(pragmaOffCheckpoint, p.Checkpoint)
	s.WriteInt32(pragmaOffTimeout, int32(p.Timeout/time.Second)) //nolint:gosec // validated on set
	s.WriteInt64(pragmaOffLimitSize, p.LimitSize)
	s.WriteInt32(pragmaOffUserVersion, p.UserVersion)
	s.WriteBool(pragmaOffUTCDate, p.UTCDate)
}

func readPragmas(s codec.Slice) Pragmas {
	return Pragmas{
		Checkpoint:  s.ReadInt32(pragmaOffCheckpoint),
		Timeout:     time.Duration(s.ReadInt32(pragmaOffTimeout)) * time.Second,
		LimitSize:   s.ReadInt64(pragmaOffLimitSize),
		UserVersion: s.ReadInt32(pragmaOffUserVersion),
		UTCDate:     s.ReadBool(pragmaOffUTCDate),
	}
}

// Pragmas returns the current settings of the datafile.
func (e *Engine) Pragmas() Pragmas {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.hdr.pragmas
}

// Pragma returns the current value of a named pragma.
func (e *Engine) Pragma(name string) (document.Value, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return document.Value{}, ErrClosed
	}

	switch name {
	case PragmaUserVersion:
		return document.Int32(e.hdr.pragmas.UserVersion), nil
	case PragmaCheckpoint:
		return document.Int32(e.hdr.pragmas.Checkpoint), nil
	case PragmaTimeout:
		return document.Int32(int32(e.hdr.pragmas.Timeout / time.Second)), nil //nolint:gosec // validated on set
	case PragmaLimitSize:
		return document.Int64(e.hdr.pragmas.LimitSize), nil
	case PragmaUTCDate:
		return document.Bool(e.hdr.pragmas.UTCDate), nil
	case PragmaCollation:
		return document.String(e.hdr.collation.String()), nil
	default:
		return document.Value{}, fmt.Errorf("%w: %s", ErrUnknownPragma, name)
	}
}

// SetPragma validates and persists a pragma value. The change is committed
// to the WAL before SetPragma returns.
func (e *Engine) SetPragma(name string, v document.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.readOnly {
		return ErrReadOnly
	}

	next := e.hdr.pragmas

	switch name {
	case PragmaUserVersion:
		n, ok := pragmaInt(v)
		if !ok {
			return fmt.Errorf("%w: %s expects an integer", ErrInvalidPragmaValue, name)
		}
		next.UserVersion = int32(n) //nolint:gosec // user versions are small by convention

	case PragmaCheckpoint:
		n, ok := pragmaInt(v)
		if !ok || n < 0 {
			return fmt.Errorf("%w: %s expects a non-negative integer", ErrInvalidPragmaValue, name)
		}
		next.Checkpoint = int32(n) //nolint:gosec // bounded by the check above

	case PragmaTimeout:
		n, ok := pragmaInt(v)
		if !ok || n < 1 {
			return fmt.Errorf("%w: %s expects seconds >= 1", ErrInvalidPragmaValue, name)
		}
		next.Timeout = time.Duration(n) * time.Second

	case PragmaLimitSize:
		n, ok := pragmaInt(v)
		if !ok || (n != 0 && n < 4*PageSize) {
			return fmt.Errorf("%w: %s expects 0 or at least %d bytes", ErrInvalidPragmaValue, name, 4*PageSize)
		}
		if n != 0 && n < int64(e.hdr.pageCount)*PageSize {
			return fmt.Errorf("%w: %s below current datafile size", ErrInvalidPragmaValue, name)
		}
		next.LimitSize = n

	case PragmaUTCDate:
		b, ok := v.AsBool()
		if !ok {
			return fmt.Errorf("%w: %s expects a boolean", ErrInvalidPragmaValue, name)
		}
		next.UTCDate = b

	case PragmaCollation:
		return fmt.Errorf("%w: %s", ErrReadOnlyPragma, name)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownPragma, name)
	}

	e.hdr.pragmas = next
	e.headerDirty = true

	return e.commitLocked()
}

// SetPragmas persists a whole settings struct at once. It is used by the
// rebuild pipeline to carry pragmas from a damaged file into its
// replacement.
func (e *Engine) SetPragmas(p Pragmas) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.readOnly {
		return ErrReadOnly
	}

	if p.Checkpoint < 0 {
		p.Checkpoint = DefaultPragmas.Checkpoint
	}
	if p.Timeout < time.Second {
		p.Timeout = DefaultPragmas.Timeout
	}
	if p.LimitSize < 0 {
		p.LimitSize = 0
	}

	e.hdr.pragmas = p
	e.headerDirty = true

	return e.commitLocked()
}

// pragmaInt widens any numeric pragma argument to int64.
func pragmaInt(v document.Value) (int64, bool) {
	switch {
	case v.Kind() == document.KindInt32:
		n, _ := v.AsInt32()
		return int64(n), true
	case v.Kind() == document.KindInt64:
		n, _ := v.AsInt64()
		return n, true
	default:
		return 0, false
	}
}
