// Package perception owns the shared world view read by behaviors.
//
// Ownership boundary:
// - scan validation and normalization
// - left/right aggregation into an immutable Snapshot
// - publish-by-swap Store shared between ingestion and arbitration
package perception

import (
	"sync/atomic"
	"time"
)

type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Snapshot is a consistent view of one completed sensor update. Values are
// never mutated after publication.
type Snapshot struct {
	LeftSum     float64   `json:"left_sum"`
	RightSum    float64   `json:"right_sum"`
	MaxHalfScan float64   `json:"max_half_scan"`
	Direction   Direction `json:"direction"`
	Seq         uint64    `json:"seq"`
	Frames      uint64    `json:"frames"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Valid reports whether at least one frame has been published.
func (s Snapshot) Valid() bool {
	return s.Frames > 0
}

func (s Snapshot) Age(now time.Time) time.Duration {
	if !s.Valid() {
		return 0
	}
	return now.Sub(s.UpdatedAt)
}

// Sum returns the accumulated range on side d.
func (s Snapshot) Sum(d Direction) float64 {
	switch d {
	case DirectionLeft:
		return s.LeftSum
	case DirectionRight:
		return s.RightSum
	default:
		return 0
	}
}

// Store publishes snapshots by swapping an immutable pointer.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Load() Snapshot {
	p := s.cur.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}

// Publish installs snap as the current view and returns the stored copy.
func (s *Store) Publish(snap Snapshot) Snapshot {
	for {
		prev := s.cur.Load()
		next := snap
		next.Frames = 1
		if prev != nil {
			next.Frames = prev.Frames + 1
		}
		if s.cur.CompareAndSwap(prev, &next) {
			return next
		}
	}
}

// Ingest validates and aggregates scan, then publishes the result.
func (s *Store) Ingest(scan Scan) (Snapshot, error) {
	snap, err := Aggregate(scan)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Publish(snap), nil
}
