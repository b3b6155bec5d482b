package main

import (
	"math"
	"sync"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/perception"
)

// world is a rectangular room with the robot somewhere inside. Heading is in
// radians, counter-clockwise from +x.
type world struct {
	mu sync.Mutex

	width, height float64
	x, y, heading float64
	cmd           actuator.Twist

	beams    int
	rangeMax float64
	seq      uint64
}

func newWorld(width, height float64, beams int, rangeMax float64) *world {
	return &world{
		width:    width,
		height:   height,
		x:        width / 4,
		y:        height / 2,
		beams:    beams,
		rangeMax: rangeMax,
	}
}

func (w *world) apply(cmd actuator.Twist) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cmd = cmd
}

// step integrates the held command for dt. A positive angular command turns
// toward the right-hand side, so it lowers the heading.
func (w *world) step(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := dt.Seconds()
	w.heading = math.Remainder(w.heading-w.cmd.Angular*s, 2*math.Pi)
	nx := w.x + w.cmd.Linear*s*math.Cos(w.heading)
	ny := w.y + w.cmd.Linear*s*math.Sin(w.heading)
	w.x = math.Min(math.Max(nx, 0.01), w.width-0.01)
	w.y = math.Min(math.Max(ny, 0.01), w.height-0.01)
}

// scan sweeps the beams from the robot's left (+90deg) to its right (-90deg),
// matching the controller's left-half/right-half split. Distances beyond
// range_max report 0.
func (w *world) scan() perception.Scan {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	ranges := make([]float64, w.beams)
	for i := range ranges {
		a := w.heading + math.Pi/2 - math.Pi*float64(i)/float64(w.beams-1)
		d := w.cast(math.Cos(a), math.Sin(a))
		if d > w.rangeMax {
			d = 0
		}
		ranges[i] = d
	}
	return perception.Scan{
		Seq:      w.seq,
		Stamp:    time.Now(),
		RangeMax: w.rangeMax,
		Ranges:   ranges,
	}
}

func (w *world) pose() (x, y, heading float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.x, w.y, w.heading
}

// cast returns the distance from the robot to the first wall along (dx, dy).
func (w *world) cast(dx, dy float64) float64 {
	best := math.Inf(1)
	if dx > 0 {
		best = math.Min(best, (w.width-w.x)/dx)
	} else if dx < 0 {
		best = math.Min(best, -w.x/dx)
	}
	if dy > 0 {
		best = math.Min(best, (w.height-w.y)/dy)
	} else if dy < 0 {
		best = math.Min(best, -w.y/dy)
	}
	return best
}
