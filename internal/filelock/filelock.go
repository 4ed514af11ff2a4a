// Package filelock provides advisory file locks with a bounded acquisition
// timeout.
//
// Locks are per open file description. A held lock keeps other processes,
// and other descriptors within this process, from acquiring a conflicting
// lock on the same file until Release.
package filelock

import (
	"errors"
	"os"
	"time"
)

// ErrTimeout is returned when the lock cannot be acquired within the
// caller's deadline.
var ErrTimeout = errors.New("filelock: timeout acquiring file lock")

// pollInterval is the retry cadence while the lock is held elsewhere.
const pollInterval = 25 * time.Millisecond

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	f *os.File
}

// Exclusive acquires an exclusive lock on f, retrying until timeout elapses.
// A zero or negative timeout tries exactly once.
func Exclusive(f *os.File, timeout time.Duration) (*Lock, error) {
	return acquire(f, true, timeout)
}

// Shared acquires a shared lock on f, retrying until timeout elapses.
// A zero or negative timeout tries exactly once.
func Shared(f *os.File, timeout time.Duration) (*Lock, error) {
	return acquire(f, false, timeout)
}

// Release drops the lock. The underlying file stays open.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	l.f = nil
	return err
}

func acquire(f *os.File, exclusive bool, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryLock(f, exclusive)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{f: f}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}
