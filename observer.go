package splice

import "time"

// Observer receives upload lifecycle events. Implementations must be safe
// for concurrent use. See the metrics package for a Prometheus implementation.
type Observer interface {
	ChunkAccepted(bytes int64)
	FinalizeCompleted(duration time.Duration, bytes int64)
	FinalizeFailed(err error)
	FinalizeRaceLost()
}

type nopObserver struct{}

func (nopObserver) ChunkAccepted(int64)                     {}
func (nopObserver) FinalizeCompleted(time.Duration, int64) {}
func (nopObserver) FinalizeFailed(error)                   {}
func (nopObserver) FinalizeRaceLost()                      {}
