package recovery

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/internal/filelock"
)

// MarkInvalidState flags the datafile at path as damaged. A flagged file
// refuses to open normally until a Rebuild replaces it, which keeps a
// process from quietly working on a file another process found corrupt.
//
// The flag byte is written under an exclusive lock so a live writer is
// never raced. A timeout of zero or less waits DefaultLockTimeout; not
// getting the lock in time is reported as ErrLockTimeout.
func MarkInvalidState(path string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	lock, err := filelock.Exclusive(f, timeout)
	if err != nil {
		if errors.Is(err, filelock.ErrTimeout) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}

		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer func() { _ = lock.Release() }()

	head := make([]byte, engine.HeaderOffInvalidState+1)
	if _, err := f.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %s", ErrUnrecognizedFormat, path)
	}
	if !engine.MatchHeader(head) {
		return fmt.Errorf("%w: %s", ErrUnrecognizedFormat, path)
	}

	if _, err := f.WriteAt([]byte{1}, engine.HeaderOffInvalidState); err != nil {
		return fmt.Errorf("failed to flag %s: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}

	return nil
}
