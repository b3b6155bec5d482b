package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/barc/reactivemover/internal/bus"
	"github.com/barc/reactivemover/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestTopicSinkPublishesOntoBus(t *testing.T) {
	testlog.Start(t)
	b := bus.New()
	defer b.Close()

	got := make(chan Twist, 1)
	_, err := b.Subscribe("cmd_vel", func(msg any) { got <- msg.(Twist) })
	require.NoError(t, err)

	sink := NewTopicSink(b, " cmd_vel ")
	require.Equal(t, "cmd_vel", sink.Topic())
	require.NoError(t, sink.Publish(Twist{Linear: 0.1, Angular: 0.45}))

	select {
	case tw := <-got:
		require.Equal(t, 0.1, tw.Linear)
		require.Equal(t, 0.45, tw.Angular)
		require.False(t, tw.Stamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatalf("twist not delivered")
	}
}

func TestTopicSinkClosedBus(t *testing.T) {
	testlog.Start(t)
	b := bus.New()
	b.Close()
	err := NewTopicSink(b, "cmd_vel").Publish(Halt())
	require.ErrorIs(t, err, ErrSinkClosed)
}

func TestRecorder(t *testing.T) {
	testlog.Start(t)
	r := NewRecorder()
	_, ok := r.Last()
	require.False(t, ok)

	require.NoError(t, r.Publish(Twist{Linear: 1}))
	require.NoError(t, r.Publish(Halt()))
	require.Equal(t, 2, r.Len())
	last, ok := r.Last()
	require.True(t, ok)
	require.True(t, last.IsZero())

	boom := errors.New("boom")
	r.FailWith(boom)
	require.ErrorIs(t, r.Publish(Twist{}), boom)
	require.Len(t, r.Commands(), 2)
}
