package transport

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/protocol/frame"
	"github.com/barc/reactivemover/internal/protocol/schema"
	"github.com/barc/reactivemover/internal/protocol/tlv"
	"github.com/barc/reactivemover/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func readBack(t *testing.T, raw []byte) frame.Frame {
	t.Helper()
	f, err := frame.ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	require.NoError(t, err)
	return f
}

func TestScanFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := perception.Scan{
		Seq:      7,
		Stamp:    time.UnixMilli(1700000000123),
		RangeMax: 10,
		Ranges:   []float64{1, 0, math.Inf(1), 9.5},
	}
	raw, err := EncodeScanFrame(11, in)
	require.NoError(t, err)

	f := readBack(t, raw)
	require.Equal(t, schema.MsgLaserScan, f.Header.MessageType)
	require.Equal(t, uint64(11), f.Header.MessageID)

	out, err := DecodeScanFrame(f)
	require.NoError(t, err)
	require.Equal(t, in.Seq, out.Seq)
	require.True(t, in.Stamp.Equal(out.Stamp))
	require.Equal(t, in.RangeMax, out.RangeMax)
	require.Equal(t, in.Ranges, out.Ranges)
}

func TestScanFrameZeroStamp(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeScanFrame(1, perception.Scan{RangeMax: 10, Ranges: []float64{1, 2}})
	require.NoError(t, err)
	out, err := DecodeScanFrame(readBack(t, raw))
	require.NoError(t, err)
	require.True(t, out.Stamp.IsZero())
}

func TestTwistFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := actuator.Twist{Linear: 0.1, Angular: -0.45, Stamp: time.UnixMilli(1700000000500)}
	raw, err := EncodeTwistFrame(3, in)
	require.NoError(t, err)
	out, err := DecodeTwistFrame(readBack(t, raw))
	require.NoError(t, err)
	require.Equal(t, in.Linear, out.Linear)
	require.Equal(t, in.Angular, out.Angular)
	require.True(t, in.Stamp.Equal(out.Stamp))
}

func TestHelloFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeHelloFrame(1, Hello{NodeID: "reactive_mover", RunID: "run-1"})
	require.NoError(t, err)
	out, err := DecodeHelloFrame(readBack(t, raw))
	require.NoError(t, err)
	require.Equal(t, Hello{NodeID: "reactive_mover", RunID: "run-1"}, out)
}

func TestHelloTokenTravelsInAuthSection(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeHelloFrame(1, Hello{NodeID: "reactive_mover", RunID: "run-1", Token: "s3cret"})
	require.NoError(t, err)
	f := readBack(t, raw)
	require.NotZero(t, f.Header.Flags&frame.FlagHasAuth)
	require.Equal(t, []byte("s3cret"), f.Auth)
	out, err := DecodeHelloFrame(f)
	require.NoError(t, err)
	require.Equal(t, "s3cret", out.Token)
}

func TestEncodeHelloRejectsMissingIdentity(t *testing.T) {
	testlog.Start(t)
	_, err := EncodeHelloFrame(1, Hello{NodeID: "reactive_mover"})
	require.Error(t, err)
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeTwistFrame(1, actuator.Twist{Linear: 0.1})
	require.NoError(t, err)
	_, err = DecodeScanFrame(readBack(t, raw))
	require.True(t, errors.Is(err, ErrUnexpectedMessage), "got %v", err)
}

func TestDecodeScanRejectsSchemaViolation(t *testing.T) {
	testlog.Start(t)
	f := frame.New(schema.MsgLaserScan, 1,
		tlv.U64Field(schema.FieldSeq, 1),
		tlv.U64Field(schema.FieldStampMS, 1),
		tlv.F64Field(schema.FieldRangeMax, 10),
	)
	_, err := DecodeScanFrame(f)
	var ve schema.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, schema.FieldRanges, ve.FieldID)
}

func TestDecodeScanRejectsRaggedRanges(t *testing.T) {
	testlog.Start(t)
	f := frame.New(schema.MsgLaserScan, 1,
		tlv.U64Field(schema.FieldSeq, 1),
		tlv.U64Field(schema.FieldStampMS, 1),
		tlv.F64Field(schema.FieldRangeMax, 10),
		tlv.Field{ID: schema.FieldRanges, Type: tlv.TypeF64List, Value: []byte{1, 2, 3}},
	)
	_, err := DecodeScanFrame(f)
	require.ErrorIs(t, err, tlv.ErrInvalidLength)
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	require.Equal(t, 250*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	require.Equal(t, 500*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	require.Equal(t, time.Second, NextBackoffDelay(cfg, 3, nil))
	require.Equal(t, 5*time.Second, NextBackoffDelay(cfg, 6, nil))
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoffConfig()
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 8; attempt++ {
		base := NextBackoffDelay(BackoffConfig{
			InitialDelay: cfg.InitialDelay,
			Multiplier:   cfg.Multiplier,
			MaxDelay:     cfg.MaxDelay,
		}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		require.GreaterOrEqual(t, got, base/2)
		require.Less(t, got, base+base/2)
	}
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	testlog.Start(t)
	require.Zero(t, NextBackoffDelay(BackoffConfig{Multiplier: 2}, 4, nil))
}
