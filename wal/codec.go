package wal

import "encoding/binary"

// Entry types as stored on disk.
const (
	// walPage carries one page image belonging to the open batch.
	walPage uint8 = 1

	// walCommit closes the open batch. Replay folds a batch into the
	// committed index only after reading this marker intact. Its page
	// field holds the batch page count as a cheap consistency check.
	walCommit uint8 = 2
)

// walEntryLen is the fixed size of an entry prologue in bytes.
// Layout: [type:1][seq:8][page:4][payloadLen:4][crc:4][payload:payloadLen]
const walEntryLen = 21

// entryHeader is the decoded form of an entry prologue.
type entryHeader struct {
	typ  uint8
	seq  uint64
	page uint32
	n    uint32
	crc  uint32
}

func appendEntryHeader(buf []byte, h entryHeader) []byte {
	var b [walEntryLen]byte
	b[0] = h.typ
	binary.LittleEndian.PutUint64(b[1:9], h.seq)
	binary.LittleEndian.PutUint32(b[9:13], h.page)
	binary.LittleEndian.PutUint32(b[13:17], h.n)
	binary.LittleEndian.PutUint32(b[17:21], h.crc)

	return append(buf, b[:]...)
}

func parseEntryHeader(b []byte) entryHeader {
	return entryHeader{
		typ:  b[0],
		seq:  binary.LittleEndian.Uint64(b[1:9]),
		page: binary.LittleEndian.Uint32(b[9:13]),
		n:    binary.LittleEndian.Uint32(b[13:17]),
		crc:  binary.LittleEndian.Uint32(b[17:21]),
	}
}
