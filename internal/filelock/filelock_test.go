//go:build unix

package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExclusiveLock(t *testing.T) {
	f := openTestFile(t)

	l, err := Exclusive(f, 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.NoError(t, l.Release(), "double release is harmless")
}

func TestExclusiveTimeout(t *testing.T) {
	f := openTestFile(t)

	l, err := Exclusive(f, 0)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	// A second descriptor for the same file contends with the first.
	f2, err := os.OpenFile(f.Name(), os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f2.Close() }()

	start := time.Now()
	_, err = Exclusive(f2, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSharedLocksCoexist(t *testing.T) {
	f := openTestFile(t)
	f2, err := os.OpenFile(f.Name(), os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f2.Close() }()

	l1, err := Shared(f, 0)
	require.NoError(t, err)
	defer func() { _ = l1.Release() }()

	l2, err := Shared(f2, 0)
	require.NoError(t, err)
	require.NoError(t, l2.Release())

	// Exclusive must wait for all shared holders.
	_, err = Exclusive(f2, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLockReleasedAllowsReacquire(t *testing.T) {
	f := openTestFile(t)
	f2, err := os.OpenFile(f.Name(), os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f2.Close() }()

	l1, err := Exclusive(f, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		l2, err := Exclusive(f2, 2*time.Second)
		if err == nil {
			_ = l2.Release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l1.Release())
	assert.NoError(t, <-done, "waiter must acquire once the holder releases")
}
