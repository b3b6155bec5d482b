package subsumption

import "time"

// NoBehavior marks a tick without a winner or without a suppression.
const NoBehavior = -1

// Tick records the outcome of one arbitration pass.
type Tick struct {
	Seq         uint64
	Winner      int
	WinnerName  string
	Suppressed  int
	SnapshotSeq uint64
	Idle        bool
}

// Observer receives engine events synchronously on the arbitration goroutine.
// Implementations must not block.
type Observer interface {
	OnTick(t Tick)
	OnRun(behavior string, d time.Duration, err error)
	OnSuppress(behavior string)
	OnFailure(err error)
}

type nopObserver struct{}

func (nopObserver) OnTick(Tick) {}
func (nopObserver) OnRun(string, time.Duration, error) {}
func (nopObserver) OnSuppress(string) {}
func (nopObserver) OnFailure(error) {}

// BehaviorStats are per-behavior counters.
type BehaviorStats struct {
	Name         string `json:"name"`
	Runs         uint64 `json:"runs"`
	Suppressions uint64 `json:"suppressions"`
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Ticks     uint64          `json:"ticks"`
	IdleTicks uint64          `json:"idle_ticks"`
	Active    string          `json:"active"`
	Behaviors []BehaviorStats `json:"behaviors"`
}
