package engine

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnCommit is called when a WAL commit completes.
	OnCommit(duration time.Duration, pages int, err error)

	// OnCheckpoint is called when a checkpoint completes.
	OnCheckpoint(duration time.Duration, pages int, err error)

	// OnInsert is called when an insert batch completes.
	OnInsert(collection string, docs int, err error)

	// OnDelete is called when a delete completes.
	OnDelete(collection string, err error)

	// OnPageRead reports where a page read was served from.
	OnPageRead(source PageSource)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnCommit(duration time.Duration, pages int, err error)     {}
func (o *NoopMetricsObserver) OnCheckpoint(duration time.Duration, pages int, err error) {}
func (o *NoopMetricsObserver) OnInsert(collection string, docs int, err error)           {}
func (o *NoopMetricsObserver) OnDelete(collection string, err error)                     {}
func (o *NoopMetricsObserver) OnPageRead(source PageSource)                              {}
