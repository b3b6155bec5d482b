// Package behaviors holds the concrete behaviors arbitrated by the reactive
// mover: directional turning toward open space and a stale-scan halt.
package behaviors

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/subsumption"
	"github.com/rs/zerolog"
)

// TurnConfig holds the speeds applied by a Turn behavior.
type TurnConfig struct {
	ForwardSpeed float64
	TurningSpeed float64
}

func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		ForwardSpeed: 0.1,
		TurningSpeed: 0.5,
	}
}

// Turn arcs toward one side whenever that side has more free space. The turn
// rate is proportional to the free space on the chosen side.
type Turn struct {
	side   perception.Direction
	sink   actuator.Sink
	cfg    TurnConfig
	logger zerolog.Logger

	mu   sync.Mutex
	last *actuator.Twist
}

var _ subsumption.Behavior = (*Turn)(nil)

func NewTurn(side perception.Direction, sink actuator.Sink, cfg TurnConfig) (*Turn, error) {
	if side != perception.DirectionLeft && side != perception.DirectionRight {
		return nil, fmt.Errorf("behaviors: turn side must be left or right, got %s", side)
	}
	if sink == nil {
		return nil, fmt.Errorf("behaviors: turn %s requires a sink", side)
	}
	return &Turn{
		side:   side,
		sink:   sink,
		cfg:    cfg,
		logger: logging.Component("behaviors").With().Str("behavior", "turn_"+side.String()).Logger(),
	}, nil
}

func (t *Turn) Name() string {
	return "turn_" + t.side.String()
}

func (t *Turn) CanRun(view perception.Snapshot) bool {
	return view.Direction == t.side
}

// sumTolerance absorbs rounding between the per-reading sum and the
// RangeMax*n product it is checked against.
const sumTolerance = 1e-9

func (t *Turn) Run(_ context.Context, view perception.Snapshot) error {
	sum := view.Sum(t.side)
	if err := subsumption.Precondition(
		sum <= view.MaxHalfScan*(1+sumTolerance),
		"%s scan sum %v must be <= max half scan %v", t.side, sum, view.MaxHalfScan,
	); err != nil {
		return err
	}

	cmd := t.Command(view)
	t.logger.Debug().
		Float64("linear", cmd.Linear).
		Float64("angular", cmd.Angular).
		Uint64("snapshot_seq", view.Seq).
		Msg("behaviors.Turn.Run publish")
	if err := t.sink.Publish(cmd); err != nil {
		return err
	}

	t.mu.Lock()
	t.last = &cmd
	t.mu.Unlock()
	return nil
}

// Command computes the twist for view without publishing it.
func (t *Turn) Command(view perception.Snapshot) actuator.Twist {
	percent := 0.0
	if view.MaxHalfScan > 0 {
		percent = clamp01(view.Sum(t.side) / view.MaxHalfScan)
	}
	angular := percent * t.cfg.TurningSpeed
	if t.side == perception.DirectionLeft {
		angular = -angular
	}
	return actuator.Twist{
		Linear:  t.cfg.ForwardSpeed,
		Angular: angular,
	}
}

// Stop publishes a halt if this behavior's last command is still in effect.
func (t *Turn) Stop(context.Context) error {
	t.mu.Lock()
	held := t.last != nil
	t.last = nil
	t.mu.Unlock()
	if !held {
		return nil
	}
	t.logger.Debug().Msg("behaviors.Turn.Stop release")
	return t.sink.Publish(actuator.Halt())
}

// Last returns the most recent command still held by the behavior.
func (t *Turn) Last() (actuator.Twist, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return actuator.Twist{}, false
	}
	return *t.last, true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
