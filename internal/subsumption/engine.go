package subsumption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/perception"
	bt "github.com/joeycumines/go-behaviortree"
	"github.com/rs/zerolog"
)

const DefaultInterval = 10 * time.Millisecond

var errCancelled = errors.New("subsumption: cancelled")

type Option func(*Engine)

// WithView sets the snapshot source loaded once at the start of every tick.
func WithView(view func() perception.Snapshot) Option {
	return func(e *Engine) {
		if view != nil {
			e.view = view
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine arbitrates between behaviors by fixed priority. Index 0 has the
// highest priority. At most one behavior runs per tick.
type Engine struct {
	behaviors []Behavior
	names     []string
	guards    []bt.Node
	view      func() perception.Snapshot
	interval  time.Duration
	observer  Observer
	logger    zerolog.Logger

	// step state, owned by whoever holds mu
	mu        sync.Mutex
	active    int
	seq       uint64
	tickView  perception.Snapshot
	candidate int

	activeIdx    atomic.Int64
	ticks        atomic.Uint64
	idle         atomic.Uint64
	runs         []atomic.Uint64
	suppressions []atomic.Uint64

	running   atomic.Bool
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// New builds an engine over behaviors in priority order.
func New(behaviors []Behavior, opts ...Option) (*Engine, error) {
	if len(behaviors) == 0 {
		return nil, ErrNoBehaviors
	}
	e := &Engine{
		behaviors:    make([]Behavior, len(behaviors)),
		names:        make([]string, len(behaviors)),
		view:         func() perception.Snapshot { return perception.Snapshot{} },
		interval:     DefaultInterval,
		observer:     nopObserver{},
		logger:       logging.Component("subsumption"),
		active:       NoBehavior,
		candidate:    NoBehavior,
		runs:         make([]atomic.Uint64, len(behaviors)),
		suppressions: make([]atomic.Uint64, len(behaviors)),
	}
	for i, b := range behaviors {
		if b == nil {
			return nil, fmt.Errorf("%w: index %d", ErrNilBehavior, i)
		}
		e.behaviors[i] = b
		name := strings.TrimSpace(b.Name())
		if name == "" {
			name = fmt.Sprintf("behavior.%d", i)
		}
		e.names[i] = name
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, e.interval)
	}
	e.guards = make([]bt.Node, len(e.behaviors))
	for i := range e.behaviors {
		e.guards[i] = e.guard(i)
	}
	e.activeIdx.Store(NoBehavior)
	return e, nil
}

// guard is the selector child for behavior i: success claims the tick.
func (e *Engine) guard(i int) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		ok, err := e.canRun(i)
		if err != nil {
			return bt.Failure, err
		}
		if !ok {
			return bt.Failure, nil
		}
		e.candidate = i
		return bt.Success, nil
	})
}

// Step performs one tick: pick the first behavior whose CanRun holds, stop the
// previously active behavior if it lost, then run the winner.
func (e *Engine) Step(ctx context.Context) (Tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.tickView = e.view()
	e.candidate = NoBehavior
	tick := Tick{
		Seq:         e.seq,
		Winner:      NoBehavior,
		Suppressed:  NoBehavior,
		SnapshotSeq: e.tickView.Seq,
	}
	e.ticks.Add(1)

	if _, err := bt.Selector(e.guards); err != nil {
		return tick, err
	}
	winner := e.candidate
	tick.Winner = winner

	if e.active != NoBehavior && e.active != winner {
		prev := e.active
		tick.Suppressed = prev
		e.setActive(NoBehavior)
		e.suppressions[prev].Add(1)
		e.observer.OnSuppress(e.names[prev])
		e.logger.Debug().
			Str("behavior", e.names[prev]).
			Uint64("tick", tick.Seq).
			Msg("subsumption.Engine.Step suppress")
		if err := e.stop(ctx, prev); err != nil {
			return tick, err
		}
	}

	if winner == NoBehavior {
		tick.Idle = true
		e.idle.Add(1)
		e.observer.OnTick(tick)
		return tick, nil
	}

	tick.WinnerName = e.names[winner]
	if e.active != winner {
		e.setActive(winner)
		e.logger.Debug().
			Str("behavior", e.names[winner]).
			Uint64("tick", tick.Seq).
			Uint64("snapshot_seq", tick.SnapshotSeq).
			Msg("subsumption.Engine.Step activate")
	}
	start := time.Now()
	err := e.run(ctx, winner)
	e.runs[winner].Add(1)
	e.observer.OnRun(e.names[winner], time.Since(start), err)
	if err != nil {
		return tick, err
	}
	e.observer.OnTick(tick)
	return tick, nil
}

// Run ticks until ctx is cancelled, Cancel is called, or a tick fails. The
// active behavior, if any, is stopped before Run returns. Cancellation returns
// nil; a failed tick returns its error.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.bindCancel(cancel) {
		return nil
	}
	defer e.bindCancel(nil)

	e.logger.Info().
		Int("behaviors", len(e.behaviors)).
		Dur("interval", e.interval).
		Strs("priority", e.names).
		Msg("subsumption.Engine.Run start")

	var tickErr error
	root := bt.New(func([]bt.Node) (bt.Status, error) {
		if runCtx.Err() != nil {
			return bt.Failure, errCancelled
		}
		if _, err := e.Step(runCtx); err != nil {
			tickErr = err
			return bt.Failure, err
		}
		return bt.Success, nil
	})
	ticker := bt.NewTicker(runCtx, e.interval, root)
	<-ticker.Done()

	if tickErr == nil {
		if err := ticker.Err(); err != nil && !isCancellation(err) {
			tickErr = err
		}
	}
	if tickErr != nil {
		e.observer.OnFailure(tickErr)
	}

	stopErr := e.shutdown(context.WithoutCancel(ctx))
	if tickErr != nil {
		e.logger.Error().Err(tickErr).Msg("subsumption.Engine.Run failed")
		return errors.Join(tickErr, stopErr)
	}
	e.logger.Info().Uint64("ticks", e.ticks.Load()).Msg("subsumption.Engine.Run stopped")
	return stopErr
}

// Cancel signals Run to return at the next tick boundary. It may be called
// before Run, in which case Run returns immediately. Repeated calls are no-ops.
func (e *Engine) Cancel() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancelled = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Running reports whether Run is currently executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Active returns the behavior that won the most recent tick.
func (e *Engine) Active() (string, bool) {
	idx := int(e.activeIdx.Load())
	if idx == NoBehavior {
		return "", false
	}
	return e.names[idx], true
}

// Names returns the behavior names in priority order.
func (e *Engine) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

func (e *Engine) Stats() Stats {
	out := Stats{
		Ticks:     e.ticks.Load(),
		IdleTicks: e.idle.Load(),
		Behaviors: make([]BehaviorStats, len(e.names)),
	}
	out.Active, _ = e.Active()
	for i, name := range e.names {
		out.Behaviors[i] = BehaviorStats{
			Name:         name,
			Runs:         e.runs[i].Load(),
			Suppressions: e.suppressions[i].Load(),
		}
	}
	return out
}

func (e *Engine) bindCancel(cancel context.CancelFunc) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelled && cancel != nil {
		return false
	}
	e.cancel = cancel
	return true
}

// shutdown stops the active behavior exactly once.
func (e *Engine) shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == NoBehavior {
		return nil
	}
	prev := e.active
	e.setActive(NoBehavior)
	e.suppressions[prev].Add(1)
	e.observer.OnSuppress(e.names[prev])
	e.logger.Debug().Str("behavior", e.names[prev]).Msg("subsumption.Engine.shutdown stop active")
	return e.stop(ctx, prev)
}

func (e *Engine) setActive(i int) {
	e.active = i
	e.activeIdx.Store(int64(i))
}

func (e *Engine) canRun(i int) (ok bool, err error) {
	defer recoverInto(&err, e.names[i], "can_run")
	return e.behaviors[i].CanRun(e.tickView), nil
}

func (e *Engine) run(ctx context.Context, i int) (err error) {
	defer recoverInto(&err, e.names[i], "run")
	if err := e.behaviors[i].Run(ctx, e.tickView); err != nil {
		return &BehaviorError{Behavior: e.names[i], Op: "run", Err: err}
	}
	return nil
}

func (e *Engine) stop(ctx context.Context, i int) (err error) {
	defer recoverInto(&err, e.names[i], "stop")
	if err := e.behaviors[i].Stop(ctx); err != nil {
		return &BehaviorError{Behavior: e.names[i], Op: "stop", Err: err}
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, errCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
