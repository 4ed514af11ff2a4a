package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/internal/filelock"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func testDoc(name string, age int32) *document.Document {
	return document.NewDocument().
		Set("name", document.String(name)).
		Set("age", document.Int32(age))
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	// 1. Open a fresh datafile
	e, err := Open(path)
	require.NoError(t, err)

	// 2. Insert
	ids, err := e.Insert(ctx, "people", testDoc("alice", 30), testDoc("bob", 25))
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, document.KindObjectID, ids[0].Kind())

	// 3. Get
	d, err := e.Get(ctx, "people", ids[0])
	require.NoError(t, err)
	name, _ := d.Get("name")
	s, _ := name.AsString()
	assert.Equal(t, "alice", s)

	// 4. Count and Collections
	n, err := e.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"people"}, e.Collections())

	// 5. Close
	require.NoError(t, e.Close())

	// 6. Reopen (persistence check)
	e2, err := Open(path)
	require.NoError(t, err)

	d, err = e2.Get(ctx, "people", ids[1])
	require.NoError(t, err)
	age, _ := d.Get("age")
	i, _ := age.AsInt32()
	assert.Equal(t, int32(25), i)

	n, err = e2.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 7. Delete
	deleted, err := e2.Delete(ctx, "people", ids[0])
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = e2.Get(ctx, "people", ids[0])
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	deleted, err = e2.Delete(ctx, "people", ids[0])
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")

	// 8. Drop
	dropped, err := e2.Drop(ctx, "people")
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Empty(t, e2.Collections())

	dropped, err = e2.Drop(ctx, "people")
	require.NoError(t, err)
	assert.False(t, dropped)

	// 9. Close is idempotent
	require.NoError(t, e2.Close())
	require.NoError(t, e2.Close())
}

func TestEngineExplicitIDs(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	docs := []*document.Document{
		testDoc("a", 1).Set(document.IDField, document.Int32(7)),
		testDoc("b", 2).Set(document.IDField, document.String("key-b")),
		testDoc("c", 3).Set(document.IDField, document.NewGUID()),
	}

	ids, err := e.Insert(ctx, "mixed", docs...)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for i, id := range ids {
		d, err := e.Get(ctx, "mixed", id)
		require.NoError(t, err)
		got, ok := d.ID()
		require.True(t, ok)
		assert.True(t, got.Equal(id), "doc %d", i)
	}
}

func TestEngineAutoIDInt64(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t), WithAutoID(AutoIDInt64))
	require.NoError(t, err)
	defer e.Close()

	ids, err := e.Insert(ctx, "seq", testDoc("a", 1), testDoc("b", 2))
	require.NoError(t, err)

	n, _ := ids[0].AsInt64()
	assert.Equal(t, int64(1), n)
	n, _ = ids[1].AsInt64()
	assert.Equal(t, int64(2), n)

	// An explicit id moves the sequence forward.
	_, err = e.Insert(ctx, "seq", testDoc("c", 3).Set(document.IDField, document.Int64(10)))
	require.NoError(t, err)

	ids, err = e.Insert(ctx, "seq", testDoc("d", 4))
	require.NoError(t, err)
	n, _ = ids[0].AsInt64()
	assert.Equal(t, int64(11), n)
}

func TestEngineAutoIDGUID(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t), WithAutoID(AutoIDGUID))
	require.NoError(t, err)
	defer e.Close()

	ids, err := e.Insert(ctx, "g", testDoc("a", 1))
	require.NoError(t, err)
	assert.Equal(t, document.KindGUID, ids[0].Kind())
}

func TestEngineInvalidID(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	for _, id := range []document.Value{
		document.Null(),
		document.MinValue(),
		document.MaxValue(),
		document.Array(document.Int32(1)),
		document.Vector([]float32{1, 2}),
		document.FromDocument(document.NewDocument()),
	} {
		_, err := e.Insert(ctx, "bad", testDoc("x", 1).Set(document.IDField, id))
		assert.ErrorIs(t, err, ErrInvalidID, "kind %s", id.Kind())
	}

	n, err := e.Count(ctx, "bad")
	require.NoError(t, err)
	assert.Zero(t, n, "failed inserts must not leave documents behind")
}

func TestEngineInvalidCollectionName(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	for _, name := range []string{"", "no spaces", "1digit", "ümlaut", "x/y"} {
		_, err := e.Insert(ctx, name, testDoc("a", 1))
		assert.ErrorIs(t, err, ErrInvalidCollectionName, "name %q", name)
	}
}

func TestEngineDuplicateKeyRollsBackBatch(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	// 1. A duplicate inside one batch rolls the whole batch back.
	_, err = e.Insert(ctx, "dup",
		testDoc("a", 1).Set(document.IDField, document.Int32(1)),
		testDoc("b", 2).Set(document.IDField, document.Int32(1)),
	)
	require.ErrorIs(t, err, ErrDuplicateKey)

	n, err := e.Count(ctx, "dup")
	require.NoError(t, err)
	assert.Zero(t, n)

	// The failed first insert also created the collection; rollback must
	// have removed it again.
	assert.Empty(t, e.Collections())

	// 2. A duplicate against persisted state fails too.
	_, err = e.Insert(ctx, "dup", testDoc("a", 1).Set(document.IDField, document.Int32(1)))
	require.NoError(t, err)

	_, err = e.Insert(ctx, "dup", testDoc("c", 3).Set(document.IDField, document.Int32(1)))
	require.ErrorIs(t, err, ErrDuplicateKey)

	n, err = e.Count(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEngineDocumentTooLarge(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	big := document.NewDocument().Set("blob", document.Binary(make([]byte, MaxDocumentSize)))
	_, err = e.Insert(ctx, "big", big)
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestEngineScan(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Insert(ctx, "s",
		testDoc("a", 1).Set(document.IDField, document.Int32(1)),
		testDoc("b", 2).Set(document.IDField, document.Int32(2)),
		testDoc("c", 3).Set(document.IDField, document.Int32(3)),
	)
	require.NoError(t, err)

	// 1. Full scan in storage order.
	var names []string
	err = e.Scan(ctx, "s", func(d *document.Document) error {
		v, _ := d.Get("name")
		s, _ := v.AsString()
		names = append(names, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	// 2. ErrStopScan ends the scan early without error.
	var visited int
	err = e.Scan(ctx, "s", func(*document.Document) error {
		visited++
		return ErrStopScan
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)

	// 3. Scanning a missing collection fails.
	err = e.Scan(ctx, "missing", func(*document.Document) error { return nil })
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestEnginePageReuseAfterDelete(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	bigDoc := func(id int32) *document.Document {
		return document.NewDocument().
			Set(document.IDField, document.Int32(id)).
			Set("blob", document.Binary(bytes.Repeat([]byte{0xAB}, 12*1024)))
	}

	// Each document fills most of a page, so every insert takes a page.
	_, err = e.Insert(ctx, "blobs", bigDoc(1), bigDoc(2))
	require.NoError(t, err)

	before := e.Stats()
	assert.Zero(t, before.FreePages)

	// Deleting the only document of a page frees the page.
	deleted, err := e.Delete(ctx, "blobs", document.Int32(1))
	require.NoError(t, err)
	require.True(t, deleted)

	assert.Equal(t, 1, e.Stats().FreePages)

	// The next insert reuses the freed page instead of growing the file.
	_, err = e.Insert(ctx, "blobs", bigDoc(3))
	require.NoError(t, err)

	after := e.Stats()
	assert.Zero(t, after.FreePages)
	assert.Equal(t, before.PageCount, after.PageCount)

	// All surviving documents are readable.
	for _, id := range []int32{2, 3} {
		_, err := e.Get(ctx, "blobs", document.Int32(id))
		assert.NoError(t, err, "doc %d", id)
	}
}

func TestEngineDeleteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := Open(path)
	require.NoError(t, err)

	_, err = e.Insert(ctx, "d",
		testDoc("a", 1).Set(document.IDField, document.Int32(1)),
		testDoc("b", 2).Set(document.IDField, document.Int32(2)),
	)
	require.NoError(t, err)

	_, err = e.Delete(ctx, "d", document.Int32(1))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	_, err = e2.Get(ctx, "d", document.Int32(1))
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = e2.Get(ctx, "d", document.Int32(2))
	assert.NoError(t, err)

	n, err := e2.Count(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEngineReadOnly(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	// 1. Create and populate.
	e, err := Open(path)
	require.NoError(t, err)
	ids, err := e.Insert(ctx, "ro", testDoc("a", 1))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// 2. Two read-only engines share the lock.
	r1, err := Open(path, WithReadOnly())
	require.NoError(t, err)
	defer r1.Close()

	r2, err := Open(path, WithReadOnly(), WithTimeout(time.Second))
	require.NoError(t, err)
	defer r2.Close()

	d, err := r1.Get(ctx, "ro", ids[0])
	require.NoError(t, err)
	assert.True(t, d.Has("name"))

	// 3. Mutations are rejected.
	_, err = r1.Insert(ctx, "ro", testDoc("b", 2))
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = r1.Delete(ctx, "ro", ids[0])
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = r1.Drop(ctx, "ro")
	assert.ErrorIs(t, err, ErrReadOnly)

	err = r1.SetPragma(PragmaUserVersion, document.Int32(1))
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = r1.Checkpoint()
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestEngineLockTimeout(t *testing.T) {
	path := testPath(t)

	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	_, err = Open(path, WithTimeout(150*time.Millisecond))
	assert.ErrorIs(t, err, filelock.ErrTimeout)
}

func TestEngineCollationMismatch(t *testing.T) {
	path := testPath(t)

	e, err := Open(path, WithCollation(document.MustCollation("en-US/IgnoreCase")))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// 1. A different collation is rejected.
	_, err = Open(path, WithCollation(document.MustCollation("de")))
	assert.ErrorIs(t, err, ErrCollationMismatch)

	// 2. The matching collation and "accept anything" both work.
	e2, err := Open(path, WithCollation(document.MustCollation("en-US/IgnoreCase")))
	require.NoError(t, err)
	assert.Equal(t, "en-US/IgnoreCase", e2.Collation().String())
	require.NoError(t, e2.Close())

	e3, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "en-US/IgnoreCase", e3.Collation().String())
	require.NoError(t, e3.Close())
}

func TestEnginePragmas(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := Open(path)
	require.NoError(t, err)

	// 1. Defaults
	p := e.Pragmas()
	assert.Equal(t, DefaultPragmas.Checkpoint, p.Checkpoint)
	assert.Equal(t, DefaultPragmas.Timeout, p.Timeout)
	assert.Zero(t, p.UserVersion)

	v, err := e.Pragma(PragmaCheckpoint)
	require.NoError(t, err)
	n, _ := v.AsInt32()
	assert.Equal(t, DefaultPragmas.Checkpoint, n)

	// 2. Set and read back
	require.NoError(t, e.SetPragma(PragmaUserVersion, document.Int32(7)))
	require.NoError(t, e.SetPragma(PragmaCheckpoint, document.Int32(50)))
	require.NoError(t, e.SetPragma(PragmaTimeout, document.Int32(5)))
	require.NoError(t, e.SetPragma(PragmaUTCDate, document.Bool(true)))

	// 3. Validation
	err = e.SetPragma(PragmaCheckpoint, document.String("nope"))
	assert.ErrorIs(t, err, ErrInvalidPragmaValue)

	err = e.SetPragma(PragmaTimeout, document.Int32(0))
	assert.ErrorIs(t, err, ErrInvalidPragmaValue)

	err = e.SetPragma(PragmaLimitSize, document.Int64(PageSize))
	assert.ErrorIs(t, err, ErrInvalidPragmaValue)

	err = e.SetPragma(PragmaCollation, document.String("de"))
	assert.ErrorIs(t, err, ErrReadOnlyPragma)

	err = e.SetPragma("VACUUM", document.Int32(1))
	assert.ErrorIs(t, err, ErrUnknownPragma)

	_, err = e.Pragma("VACUUM")
	assert.ErrorIs(t, err, ErrUnknownPragma)

	require.NoError(t, e.Close())

	// 4. Pragmas survive reopening
	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	p = e2.Pragmas()
	assert.Equal(t, int32(7), p.UserVersion)
	assert.Equal(t, int32(50), p.Checkpoint)
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.True(t, p.UTCDate)

	// 5. UTC_DATE switches timestamp decoding
	ts := time.Date(2024, 5, 4, 3, 2, 1, 0, time.UTC)
	ids, err := e2.Insert(ctx, "t", document.NewDocument().Set("ts", document.DateTime(ts)))
	require.NoError(t, err)

	d, err := e2.Get(ctx, "t", ids[0])
	require.NoError(t, err)
	got, _ := d.Get("ts")
	tv, _ := got.AsDateTime()
	assert.True(t, tv.Equal(ts))
	assert.Equal(t, time.UTC, tv.Location())

	require.NoError(t, e2.SetPragma(PragmaUTCDate, document.Bool(false)))

	d, err = e2.Get(ctx, "t", ids[0])
	require.NoError(t, err)
	got, _ = d.Get("ts")
	tv, _ = got.AsDateTime()
	assert.True(t, tv.Equal(ts))
	assert.Equal(t, time.Local, tv.Location())
}

func TestEngineSizeLimit(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetPragma(PragmaLimitSize, document.Int64(4*PageSize)))

	bigDoc := func(id int32) *document.Document {
		return document.NewDocument().
			Set(document.IDField, document.Int32(id)).
			Set("blob", document.Binary(bytes.Repeat([]byte{0xCD}, 12*1024)))
	}

	// Header and catalog occupy two pages, leaving room for two data pages.
	_, err = e.Insert(ctx, "lim", bigDoc(1))
	require.NoError(t, err)
	_, err = e.Insert(ctx, "lim", bigDoc(2))
	require.NoError(t, err)

	_, err = e.Insert(ctx, "lim", bigDoc(3))
	require.ErrorIs(t, err, ErrSizeLimit)

	n, err := e.Count(ctx, "lim")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Deleting makes room again without growing the file.
	_, err = e.Delete(ctx, "lim", document.Int32(1))
	require.NoError(t, err)

	_, err = e.Insert(ctx, "lim", bigDoc(3))
	assert.NoError(t, err)
}

func TestEngineWALReplayAfterCrash(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := Open(path)
	require.NoError(t, err)

	// Disable automatic checkpoints so commits stay in the WAL.
	require.NoError(t, e.SetPragma(PragmaCheckpoint, document.Int32(0)))

	ids, err := e.Insert(ctx, "crash",
		testDoc("a", 1),
		testDoc("b", 2),
		testDoc("c", 3),
	)
	require.NoError(t, err)
	require.Positive(t, e.Stats().WALPages, "commits must still sit in the WAL")

	// Simulate a crash: snapshot datafile and WAL while the engine is
	// open, so the snapshot never sees the shutdown checkpoint.
	crashPath := filepath.Join(t.TempDir(), "crashed.db")
	copyFile(t, path, crashPath)
	copyFile(t, WALPath(path), WALPath(crashPath))
	require.NoError(t, e.Close())

	// Reopening replays the WAL into the datafile.
	e2, err := Open(crashPath)
	require.NoError(t, err)
	defer e2.Close()

	assert.Zero(t, e2.Stats().WALPages, "open folds the WAL into the datafile")

	n, err := e2.Count(ctx, "crash")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for i, id := range ids {
		_, err := e2.Get(ctx, "crash", id)
		assert.NoError(t, err, "doc %d", i)
	}
}

func TestEngineBulkLoad(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := Open(path, WithBulkLoad())
	require.NoError(t, err)

	for i := range 50 {
		_, err := e.Insert(ctx, "bulk", testDoc("doc", int32(i)).Set(document.IDField, document.Int64(int64(i))))
		require.NoError(t, err)
	}
	require.Positive(t, e.Stats().WALPages, "bulk load suppresses automatic checkpoints")

	// An explicit checkpoint folds everything back.
	pages, err := e.Checkpoint()
	require.NoError(t, err)
	assert.Positive(t, pages)
	assert.Zero(t, e.Stats().WALPages)

	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	n, err := e2.Count(ctx, "bulk")
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestEngineContextCanceled(t *testing.T) {
	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Insert(ctx, "ctx", testDoc("a", 1))
	assert.ErrorIs(t, err, context.Canceled)

	n, err := e.Count(context.Background(), "ctx")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngineRejectsForeignFile(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, 3*PageSize), 0o600))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidDatafile)
}

func TestEngineStats(t *testing.T) {
	ctx := context.Background()

	e, err := Open(testPath(t))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Insert(ctx, "a", testDoc("x", 1))
	require.NoError(t, err)
	_, err = e.Insert(ctx, "b", testDoc("y", 2))
	require.NoError(t, err)

	st := e.Stats()
	assert.GreaterOrEqual(t, st.PageCount, uint32(4))
	assert.Equal(t, 2, st.Collections)
	assert.Positive(t, st.FileSize)
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()

	b, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, b, 0o600))
}
