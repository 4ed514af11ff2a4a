package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// walMagic marks a docgo WAL file.
var walMagic = [4]byte{'D', 'G', 'W', '1'}

const (
	// walHeaderVersion is the current on-disk WAL format version.
	walHeaderVersion uint16 = 1

	// walHeaderLen is the fixed size of the WAL file header in bytes.
	walHeaderLen = 16

	// walFlagCompressed marks page payloads as zstd-compressed.
	walFlagCompressed uint16 = 1 << 0
)

// headerInfo describes the self-identifying WAL header. The flags stored in
// the file win over Options when an existing log is opened, so a reader
// never needs out-of-band knowledge to decode the payloads.
type headerInfo struct {
	version    uint16
	compressed bool
	level      uint8
}

// writeHeader writes the fixed-size WAL header.
// Layout: [magic:4][version:2][flags:2][level:1][reserved:7]
func writeHeader(w io.Writer, info headerInfo) error {
	var buf [walHeaderLen]byte
	copy(buf[0:4], walMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], info.version)

	var flags uint16
	if info.compressed {
		flags |= walFlagCompressed
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	buf[8] = info.level

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}

	return nil
}

// readHeader reads and validates the WAL header at the start of f.
func readHeader(f *os.File) (headerInfo, error) {
	var buf [walHeaderLen]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return headerInfo{}, fmt.Errorf("failed to read WAL header: %w", err)
	}

	if [4]byte(buf[0:4]) != walMagic {
		return headerInfo{}, ErrInvalidHeader
	}

	info := headerInfo{
		version:    binary.LittleEndian.Uint16(buf[4:6]),
		compressed: binary.LittleEndian.Uint16(buf[6:8])&walFlagCompressed != 0,
		level:      buf[8],
	}

	if info.version != walHeaderVersion {
		return headerInfo{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, info.version)
	}

	return info, nil
}
