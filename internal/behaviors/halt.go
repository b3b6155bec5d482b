package behaviors

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/rs/zerolog"
)

// StaleHalt stops the base when the newest scan is older than a limit. It
// publishes one halt per activation and stays quiet while it keeps winning.
type StaleHalt struct {
	sink   actuator.Sink
	after  time.Duration
	now    func() time.Time
	logger zerolog.Logger

	halted atomic.Bool
}

func NewStaleHalt(sink actuator.Sink, after time.Duration) *StaleHalt {
	return &StaleHalt{
		sink:   sink,
		after:  after,
		now:    time.Now,
		logger: logging.Component("behaviors").With().Str("behavior", "stale_halt").Logger(),
	}
}

func (h *StaleHalt) Name() string {
	return "stale_halt"
}

func (h *StaleHalt) CanRun(view perception.Snapshot) bool {
	if h.after <= 0 || !view.Valid() {
		return false
	}
	return view.Age(h.now()) > h.after
}

func (h *StaleHalt) Run(_ context.Context, view perception.Snapshot) error {
	if h.halted.Load() {
		return nil
	}
	h.logger.Warn().
		Dur("age", view.Age(h.now())).
		Uint64("snapshot_seq", view.Seq).
		Msg("behaviors.StaleHalt.Run scan stale, halting")
	if err := h.sink.Publish(actuator.Halt()); err != nil {
		return err
	}
	h.halted.Store(true)
	return nil
}

func (h *StaleHalt) Stop(context.Context) error {
	h.halted.Store(false)
	return nil
}
