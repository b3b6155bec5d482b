package subsumption

import (
	"context"

	"github.com/barc/reactivemover/internal/perception"
)

// Behavior is one unit of reactive control competing for the actuators.
type Behavior interface {
	// Name identifies the behavior in logs, metrics and errors.
	Name() string

	// CanRun is the activation test. It reads only the tick's snapshot and
	// the behavior's own state, and must be fast.
	CanRun(view perception.Snapshot) bool

	// Run is called once per tick on the winning behavior and emits one
	// command. It must return within a bounded time.
	Run(ctx context.Context, view perception.Snapshot) error

	// Stop releases any actuation held by the behavior. It is called when the
	// behavior loses control or the engine is cancelled while it is active,
	// and must be safe to call when the behavior never ran.
	Stop(ctx context.Context) error
}

// Func adapts plain functions to Behavior. Nil functions fall back to
// never-run, no-op run and no-op stop.
type Func struct {
	ID       string
	CanRunFn func(view perception.Snapshot) bool
	RunFn    func(ctx context.Context, view perception.Snapshot) error
	StopFn   func(ctx context.Context) error
}

func (f Func) Name() string {
	return f.ID
}

func (f Func) CanRun(view perception.Snapshot) bool {
	if f.CanRunFn == nil {
		return false
	}
	return f.CanRunFn(view)
}

func (f Func) Run(ctx context.Context, view perception.Snapshot) error {
	if f.RunFn == nil {
		return nil
	}
	return f.RunFn(ctx, view)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}
