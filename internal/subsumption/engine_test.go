package subsumption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// callLog records lifecycle calls across behaviors in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.calls
	l.calls = nil
	return out
}

func (l *callLog) count(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == s {
			n++
		}
	}
	return n
}

type fakeBehavior struct {
	name    string
	log     *callLog
	want    atomic.Bool
	runErr  error
	stopErr error
	polls   atomic.Int64
}

func newFake(name string, log *callLog) *fakeBehavior {
	return &fakeBehavior{name: name, log: log}
}

func (f *fakeBehavior) Name() string { return f.name }

func (f *fakeBehavior) CanRun(perception.Snapshot) bool {
	f.polls.Add(1)
	return f.want.Load()
}

func (f *fakeBehavior) Run(context.Context, perception.Snapshot) error {
	f.log.add("run:" + f.name)
	return f.runErr
}

func (f *fakeBehavior) Stop(context.Context) error {
	f.log.add("stop:" + f.name)
	return f.stopErr
}

func fakes(log *callLog, names ...string) ([]*fakeBehavior, []Behavior) {
	fs := make([]*fakeBehavior, len(names))
	bs := make([]Behavior, len(names))
	for i, n := range names {
		fs[i] = newFake(n, log)
		bs[i] = fs[i]
	}
	return fs, bs
}

func TestNewRejectsEmptyAndNil(t *testing.T) {
	testlog.Start(t)
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNoBehaviors)

	_, err = New([]Behavior{Func{ID: "a"}, nil})
	require.ErrorIs(t, err, ErrNilBehavior)

	_, err = New([]Behavior{Func{ID: "a"}}, WithInterval(0))
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestNewNamesUnnamedBehaviors(t *testing.T) {
	testlog.Start(t)
	e, err := New([]Behavior{Func{ID: "first"}, Func{}})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "behavior.1"}, e.Names())
}

func TestStepPicksHighestPriorityOnly(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a", "b", "c")
	e, err := New(bs)
	require.NoError(t, err)

	fs[1].want.Store(true)
	fs[2].want.Store(true)

	tick, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, tick.Winner)
	require.Equal(t, "b", tick.WinnerName)
	require.Equal(t, []string{"run:b"}, log.take())
	require.Zero(t, fs[2].polls.Load(), "behaviors after the winner are not polled")

	fs[0].want.Store(true)
	tick, err = e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, tick.Winner)
	require.Equal(t, 1, tick.Suppressed)
	require.Equal(t, []string{"stop:b", "run:a"}, log.take())
}

func TestStepSustainedWinnerIsNotStopped(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a", "b")
	e, err := New(bs)
	require.NoError(t, err)

	fs[1].want.Store(true)
	const k = 25
	for i := 0; i < k; i++ {
		tick, err := e.Step(context.Background())
		require.NoError(t, err)
		require.Equal(t, NoBehavior, tick.Suppressed)
	}
	require.Equal(t, k, log.count("run:b"))
	require.Zero(t, log.count("stop:b"))

	stats := e.Stats()
	require.Equal(t, uint64(k), stats.Ticks)
	require.Equal(t, uint64(k), stats.Behaviors[1].Runs)
	require.Zero(t, stats.Behaviors[1].Suppressions)
	require.Equal(t, "b", stats.Active)
}

func TestStepIdleStopsPreviousOnce(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a", "b")
	e, err := New(bs)
	require.NoError(t, err)

	fs[0].want.Store(true)
	_, err = e.Step(context.Background())
	require.NoError(t, err)
	log.take()

	fs[0].want.Store(false)
	for i := 0; i < 3; i++ {
		tick, err := e.Step(context.Background())
		require.NoError(t, err)
		require.True(t, tick.Idle)
		require.Equal(t, NoBehavior, tick.Winner)
	}
	require.Equal(t, []string{"stop:a"}, log.take())
	_, ok := e.Active()
	require.False(t, ok)
	require.Equal(t, uint64(3), e.Stats().IdleTicks)
}

func TestStepIdleWithoutPreviousDoesNothing(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	_, bs := fakes(log, "a", "b")
	e, err := New(bs)
	require.NoError(t, err)

	tick, err := e.Step(context.Background())
	require.NoError(t, err)
	require.True(t, tick.Idle)
	require.Empty(t, log.take())
}

// Random activation patterns: every tick must run exactly the lowest-index
// willing behavior, and a change of winner must stop the old one first.
func TestStepPriorityExclusivityProperty(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "p0", "p1", "p2", "p3")
	e, err := New(bs)
	require.NoError(t, err)

	prev := NoBehavior
	seed := uint32(7)
	for tickN := 0; tickN < 500; tickN++ {
		seed = seed*1664525 + 1013904223
		want := NoBehavior
		for i, f := range fs {
			on := (seed>>(uint(i)*5+3))&3 == 0
			f.want.Store(on)
			if on && want == NoBehavior {
				want = i
			}
		}
		tick, err := e.Step(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, tick.Winner, "tick %d", tickN)

		calls := log.take()
		var expected []string
		if prev != NoBehavior && prev != want {
			expected = append(expected, "stop:"+fs[prev].name)
		}
		if want != NoBehavior {
			expected = append(expected, "run:"+fs[want].name)
		}
		require.Equal(t, expected, calls, "tick %d", tickN)
		prev = want
	}
}

func TestStepUsesOneSnapshotPerTick(t *testing.T) {
	testlog.Start(t)
	var loads atomic.Int64
	seen := make([]uint64, 0)
	record := func(view perception.Snapshot) bool {
		seen = append(seen, view.Seq)
		return false
	}
	e, err := New(
		[]Behavior{Func{ID: "a", CanRunFn: record}, Func{ID: "b", CanRunFn: record}},
		WithView(func() perception.Snapshot {
			return perception.Snapshot{Seq: uint64(loads.Add(1))}
		}),
	)
	require.NoError(t, err)

	tick, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), tick.SnapshotSeq)
	require.Equal(t, []uint64{1, 1}, seen)
	require.Equal(t, int64(1), loads.Load())
}

func TestStepRunFailureKeepsBehaviorActive(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a")
	fs[0].want.Store(true)
	fs[0].runErr = errors.New("actuator unavailable")
	e, err := New(bs)
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	var be *BehaviorError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "a", be.Behavior)
	require.Equal(t, "run", be.Op)
	name, ok := e.Active()
	require.True(t, ok)
	require.Equal(t, "a", name)
}

func TestStepRecoversPanicsAsErrors(t *testing.T) {
	testlog.Start(t)
	e, err := New([]Behavior{Func{
		ID:       "panicky",
		CanRunFn: func(perception.Snapshot) bool { panic("bad sensor state") },
	}})
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	var be *BehaviorError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "can_run", be.Op)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "bad sensor state", pe.Value)
}

func TestPrecondition(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, Precondition(true, "unused"))
	err := Precondition(false, "left %v > max %v", 3.0, 2.0)
	require.True(t, IsPrecondition(err))
	require.Contains(t, err.Error(), "left 3 > max 2")
	require.True(t, IsPrecondition(&BehaviorError{Behavior: "x", Op: "run", Err: err}))
	require.False(t, IsPrecondition(errors.New("other")))
}

func TestRunCancelStopsActiveExactlyOnce(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a", "b")
	fs[1].want.Store(true)
	e, err := New(bs, WithInterval(time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return log.count("run:b") >= 3 }, 2*time.Second, time.Millisecond)
	e.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
	}
	require.Equal(t, 1, log.count("stop:b"))
	require.Zero(t, log.count("stop:a"))
	calls := log.take()
	require.Equal(t, "stop:b", calls[len(calls)-1], "stop must be the last call before Run returns")
	require.False(t, e.Running())
	_, ok := e.Active()
	require.False(t, ok)
}

func TestRunContextCancelStopsActive(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a")
	fs[0].want.Store(true)
	e, err := New(bs, WithInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return log.count("run:a") >= 1 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
	}
	require.Equal(t, 1, log.count("stop:a"))
}

func TestRunFailureStopsActiveAndReturnsError(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	var calls atomic.Int64
	b := Func{
		ID:       "turn",
		CanRunFn: func(perception.Snapshot) bool { return true },
		RunFn: func(context.Context, perception.Snapshot) error {
			log.add("run:turn")
			if calls.Add(1) == 3 {
				return Precondition(false, "sum exceeds max")
			}
			return nil
		},
		StopFn: func(context.Context) error {
			log.add("stop:turn")
			return nil
		},
	}
	obs := &recordingObserver{}
	e, err := New([]Behavior{b}, WithInterval(time.Millisecond), WithObserver(obs))
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	require.True(t, IsPrecondition(err))
	require.Equal(t, []string{"run:turn", "run:turn", "run:turn", "stop:turn"}, log.take())
	require.Equal(t, int64(1), obs.failures.Load())
}

func TestRunFailureJoinsStopError(t *testing.T) {
	testlog.Start(t)
	runErr := errors.New("run broke")
	stopErr := errors.New("stop broke")
	e, err := New([]Behavior{Func{
		ID:       "a",
		CanRunFn: func(perception.Snapshot) bool { return true },
		RunFn:    func(context.Context, perception.Snapshot) error { return runErr },
		StopFn:   func(context.Context) error { return stopErr },
	}}, WithInterval(time.Millisecond))
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, runErr)
	require.ErrorIs(t, err, stopErr)
}

func TestRunTwiceConcurrently(t *testing.T) {
	testlog.Start(t)
	e, err := New([]Behavior{Func{ID: "a"}}, WithInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, e.Running, 2*time.Second, time.Millisecond)

	require.ErrorIs(t, e.Run(ctx), ErrAlreadyRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestCancelBeforeRun(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a")
	fs[0].want.Store(true)
	e, err := New(bs)
	require.NoError(t, err)

	e.Cancel()
	e.Cancel()
	require.NoError(t, e.Run(context.Background()))
	require.Empty(t, log.take())
}

type recordingObserver struct {
	ticks       atomic.Int64
	runs        atomic.Int64
	suppressed  atomic.Int64
	failures    atomic.Int64
	lastFailure atomic.Value
}

func (o *recordingObserver) OnTick(Tick) { o.ticks.Add(1) }

func (o *recordingObserver) OnRun(string, time.Duration, error) { o.runs.Add(1) }

func (o *recordingObserver) OnSuppress(string) { o.suppressed.Add(1) }

func (o *recordingObserver) OnFailure(err error) {
	o.failures.Add(1)
	o.lastFailure.Store(fmt.Sprint(err))
}

func TestObserverSeesEvents(t *testing.T) {
	testlog.Start(t)
	log := &callLog{}
	fs, bs := fakes(log, "a", "b")
	obs := &recordingObserver{}
	e, err := New(bs, WithObserver(obs))
	require.NoError(t, err)

	fs[0].want.Store(true)
	_, err = e.Step(context.Background())
	require.NoError(t, err)
	fs[0].want.Store(false)
	fs[1].want.Store(true)
	_, err = e.Step(context.Background())
	require.NoError(t, err)
	fs[1].want.Store(false)
	_, err = e.Step(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(3), obs.ticks.Load())
	require.Equal(t, int64(2), obs.runs.Load())
	require.Equal(t, int64(2), obs.suppressed.Load())
}
