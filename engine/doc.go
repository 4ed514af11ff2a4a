// Package engine implements the single-file page store underneath docgo.
//
// A datafile is an array of fixed-size pages. Page 0 holds the file header
// with the persisted pragmas, page 1 the collection catalog. Data pages form
// one doubly linked chain per collection and store encoded documents in a
// slot directory growing from the page tail.
//
// Every mutation is staged in memory and written to the write-ahead log as
// one committed batch; it reaches the datafile only at the next checkpoint.
// Reads resolve staged pages first, then committed WAL images, then the
// datafile, so an engine crash between commit and checkpoint loses nothing.
package engine
