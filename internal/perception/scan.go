package perception

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidScan = errors.New("perception: invalid scan")

// Scan is one range-scan frame as delivered by the sensor source.
type Scan struct {
	Seq      uint64
	Stamp    time.Time
	RangeMax float64
	Ranges   []float64
}

func (s Scan) Validate() error {
	if len(s.Ranges) < 2 {
		return fmt.Errorf("%w: need at least 2 ranges, got %d", ErrInvalidScan, len(s.Ranges))
	}
	if math.IsNaN(s.RangeMax) || math.IsInf(s.RangeMax, 0) || s.RangeMax <= 0 {
		return fmt.Errorf("%w: range_max=%v", ErrInvalidScan, s.RangeMax)
	}
	for i, r := range s.Ranges {
		if math.IsNaN(r) || r < 0 {
			return fmt.Errorf("%w: ranges[%d]=%v", ErrInvalidScan, i, r)
		}
	}
	return nil
}

// Normalized returns reading i with the beyond-range sentinels (0.0 and +Inf)
// replaced by RangeMax.
func (s Scan) Normalized(i int) float64 {
	r := s.Ranges[i]
	if r == 0 || math.IsInf(r, 1) {
		return s.RangeMax
	}
	return r
}

// Aggregate folds one frame into a snapshot. The first half of the readings is
// the left side, the second half the right side. For an odd count the center
// reading is excluded from both sums.
func Aggregate(scan Scan) (Snapshot, error) {
	if err := scan.Validate(); err != nil {
		return Snapshot{}, err
	}
	n := len(scan.Ranges)
	half := n / 2

	var left, right float64
	for i := 0; i < half; i++ {
		left += scan.Normalized(i)
	}
	for i := n - half; i < n; i++ {
		right += scan.Normalized(i)
	}

	stamp := scan.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	return Snapshot{
		LeftSum:     left,
		RightSum:    right,
		MaxHalfScan: scan.RangeMax * float64(half),
		Direction:   Prefer(left, right),
		Seq:         scan.Seq,
		UpdatedAt:   stamp,
	}, nil
}

// Prefer picks the side with more free space. Right wins on a tie.
func Prefer(left, right float64) Direction {
	if left > right {
		return DirectionLeft
	}
	return DirectionRight
}
