package recovery

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
)

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	res, err := Rebuild(ctx, path)
	require.NoError(t, err)

	// 1. A healthy file rebuilds without faults.
	assert.Empty(t, res.Faults)
	assert.Zero(t, res.DroppedFaults)
	assert.Equal(t, 2, res.Collections)
	assert.Equal(t, int64(4), res.Documents)
	assert.False(t, res.Archived)

	// 2. The size delta is exactly backup size minus new size.
	backupFi, err := os.Stat(res.BackupPath)
	require.NoError(t, err)
	newFi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, backupFi.Size()-newFi.Size(), res.SizeDelta)

	// 3. The rebuilt file holds everything.
	e, err := engine.Open(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"people", "places"}, e.Collections())

	n, err := e.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	d, err := e.Get(ctx, "people", document.Int32(2))
	require.NoError(t, err)
	v, _ := d.Get("name")
	s, _ := v.AsString()
	assert.Equal(t, "bob", s)

	require.NoError(t, e.Close())

	// 4. The backup is the untouched original.
	b, err := engine.Open(res.BackupPath, engine.WithReadOnly())
	require.NoError(t, err)
	defer b.Close()

	n, err = b.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRebuildCorruptDocument(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	stompSlotPayload(t, path, findDataPage(t, path), 0)

	res, err := Rebuild(ctx, path)
	require.NoError(t, err)

	// The broken document became a fault, the rest got through.
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultDocument, res.Faults[0].Code)
	assert.Equal(t, int64(3), res.Documents)

	e, err := engine.Open(path)
	require.NoError(t, err)
	defer e.Close()

	n, err := e.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = e.Get(ctx, "people", document.Int32(1))
	assert.ErrorIs(t, err, engine.ErrDocumentNotFound, "the damaged document is gone")
}

func TestRebuildReportFaults(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	stompSlotPayload(t, path, findDataPage(t, path), 0)

	res, err := Rebuild(ctx, path, func(o *Options) {
		o.ReportFaults = true
	})
	require.NoError(t, err)
	require.Len(t, res.Faults, 1)

	// 1. The rebuilt file carries the report collection.
	e, err := engine.Open(path)
	require.NoError(t, err)

	n, err := e.Count(ctx, FaultCollection)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = e.Scan(ctx, FaultCollection, func(d *document.Document) error {
		run, _ := d.Get("runId")
		assert.True(t, run.Equal(document.GUID(res.RunID)), "fault documents share the run id")

		code, _ := d.Get("code")
		c, _ := code.AsInt32()
		assert.Equal(t, int32(FaultDocument), c)

		msg, _ := d.Get("message")
		assert.Equal(t, document.KindString, msg.Kind())

		created, _ := d.Get("created")
		assert.Equal(t, document.KindDateTime, created.Kind())

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// 2. A second rebuild drops the stale report instead of carrying it.
	res2, err := Rebuild(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, res2.Faults)

	e2, err := engine.Open(path)
	require.NoError(t, err)
	defer e2.Close()

	assert.Equal(t, []string{"people", "places"}, e2.Collections())
}

func TestRebuildCarriesPragmasAndCollation(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := engine.Open(path, engine.WithCollation(document.MustCollation("en-US/IgnoreCase")))
	require.NoError(t, err)

	_, err = e.Insert(ctx, "people", testDoc(1, "alice"))
	require.NoError(t, err)

	require.NoError(t, e.SetPragma(engine.PragmaUserVersion, document.Int32(7)))
	require.NoError(t, e.SetPragma(engine.PragmaCheckpoint, document.Int32(50)))
	require.NoError(t, e.SetPragma(engine.PragmaTimeout, document.Int32(5)))
	require.NoError(t, e.SetPragma(engine.PragmaUTCDate, document.Bool(true)))
	require.NoError(t, e.Close())

	_, err = Rebuild(ctx, path)
	require.NoError(t, err)

	e2, err := engine.Open(path)
	require.NoError(t, err)
	defer e2.Close()

	p := e2.Pragmas()
	assert.Equal(t, int32(7), p.UserVersion)
	assert.Equal(t, int32(50), p.Checkpoint)
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.True(t, p.UTCDate)
	assert.Equal(t, "en-US/IgnoreCase", e2.Collation().String())
}

func TestRebuildPreservesWALCommits(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := engine.Open(path)
	require.NoError(t, err)

	require.NoError(t, e.SetPragma(engine.PragmaCheckpoint, document.Int32(0)))

	_, err = e.Insert(ctx, "people", testDoc(1, "alice"), testDoc(2, "bob"))
	require.NoError(t, err)
	require.Positive(t, e.Stats().WALPages)

	// Crash snapshot with the commits still in the WAL.
	crashed := filepath.Join(t.TempDir(), "crashed.db")
	copyFile(t, path, crashed)
	copyFile(t, engine.WALPath(path), engine.WALPath(crashed))
	require.NoError(t, e.Close())

	res, err := Rebuild(ctx, crashed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Documents)

	// The stale WAL followed the original to the backup name.
	_, err = os.Stat(engine.WALPath(crashed))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(engine.WALPath(res.BackupPath))
	assert.NoError(t, err)

	e2, err := engine.Open(crashed)
	require.NoError(t, err)
	defer e2.Close()

	n, err := e2.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRebuildReclaimsSpace(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	e, err := engine.Open(path)
	require.NoError(t, err)

	bigDoc := func(id int32) *document.Document {
		return document.NewDocument().
			Set(document.IDField, document.Int32(id)).
			Set("blob", document.Binary(bytes.Repeat([]byte{0xAB}, 12*1024)))
	}

	// Three near-page-sized documents, two deleted again: the file keeps
	// the freed pages around.
	_, err = e.Insert(ctx, "blobs", bigDoc(1), bigDoc(2), bigDoc(3))
	require.NoError(t, err)

	for _, id := range []int32{1, 2} {
		_, err := e.Delete(ctx, "blobs", document.Int32(id))
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	res, err := Rebuild(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Documents)
	assert.Positive(t, res.SizeDelta, "dropping free pages shrinks the file")

	e2, err := engine.Open(path)
	require.NoError(t, err)
	defer e2.Close()

	_, err = e2.Get(ctx, "blobs", document.Int32(3))
	assert.NoError(t, err)
}

func TestRebuildArchive(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	store := blobstore.NewMemory()

	res, err := Rebuild(ctx, path, func(o *Options) {
		o.Archive = store
	})
	require.NoError(t, err)
	assert.True(t, res.Archived)

	// The archived blob is the backup, byte for byte.
	key := filepath.Base(res.BackupPath)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	rc, size, err := store.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	want, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), size)

	got := make([]byte, size)
	_, err = rc.Read(got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRebuildLimiter(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	res, err := Rebuild(ctx, path, func(o *Options) {
		o.Limiter = rate.NewLimiter(rate.Limit(64<<20), 1<<20)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Documents)
}

func TestRebuildLockTimeout(t *testing.T) {
	ctx := context.Background()
	path := seedFile(t)

	e, err := engine.Open(path)
	require.NoError(t, err)
	defer e.Close()

	_, err = Rebuild(ctx, path, func(o *Options) {
		o.LockTimeout = 150 * time.Millisecond
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRebuildUnrecognized(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	foreign := bytes.Repeat([]byte{0x42}, 4096)
	require.NoError(t, os.WriteFile(path, foreign, 0o600))

	_, err := Rebuild(ctx, path)
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)

	// The source is untouched and nothing else was left behind.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, foreign, b)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRebuildMissingFile(t *testing.T) {
	_, err := Rebuild(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestRebuildContextCanceled(t *testing.T) {
	path := seedFile(t)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Rebuild(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a canceled rebuild leaves the source alone")
}

func TestRebuildSwapFailure(t *testing.T) {
	path := seedFile(t)

	// A missing rebuilt file makes the promote rename fail after the
	// source has already moved to the backup name.
	rb := &rebuilder{path: path, opts: DefaultOptions}
	_, err := rb.swap(filepath.Join(t.TempDir(), "missing-rebuild"))
	require.Error(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "the source path is vacated")

	// No data was lost: the original opens from the backup path.
	e, err := engine.Open(path + "-backup")
	require.NoError(t, err)
	defer e.Close()

	n, err := e.Count(context.Background(), "people")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRebuildLegacyFile(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)
	writeV1File(t, path, false, v1Fixture())

	res, err := Rebuild(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Collections)
	assert.Equal(t, int64(4), res.Documents)
	assert.Empty(t, res.Faults)

	// The upgraded file opens as a current datafile with the legacy
	// pragmas carried over.
	e, err := engine.Open(path)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, []string{"people", "places"}, e.Collections())
	assert.Equal(t, int32(9), e.Pragmas().UserVersion)
	assert.Equal(t, "en-US/IgnoreCase", e.Collation().String())

	n, err := e.Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
