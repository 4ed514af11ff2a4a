// Package wal implements a write-ahead log of page images.
//
// Mutations are gathered into page batches and appended to the log before
// they reach the datafile. Each batch is closed by a commit marker; a batch
// without a marker is discarded on replay, so a torn write can never surface
// a half-applied transaction. A checkpoint copies the logged pages back into
// the datafile and resets the log to its header.
package wal
