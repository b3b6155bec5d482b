package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/bus"
	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/protocol/frame"
	"github.com/barc/reactivemover/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrConnectExhausted = errors.New("transport: connect attempts exhausted")

// BridgeStats is a point-in-time copy of the bridge counters.
type BridgeStats struct {
	Connected    bool   `json:"connected"`
	Connects     uint64 `json:"connects"`
	ScansIn      uint64 `json:"scans_in"`
	TwistsOut    uint64 `json:"twists_out"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// Bridge owns one base connection at a time.
type Bridge struct {
	cfg    BridgeConfig
	bus    *bus.Bus
	logger zerolog.Logger
	rng    *rand.Rand
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	nextID       atomic.Uint64
	connected    atomic.Bool
	connects     atomic.Uint64
	scansIn      atomic.Uint64
	twistsOut    atomic.Uint64
	decodeErrors atomic.Uint64
}

func NewBridge(cfg BridgeConfig, b *bus.Bus) (*Bridge, error) {
	if b == nil {
		return nil, fmt.Errorf("transport: bus required")
	}
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = frame.DefaultLimits()
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Bridge{
		cfg:    cfg,
		bus:    b,
		logger: logging.Component("transport").With().Str("address", cfg.Address).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		dial:   d.DialContext,
	}, nil
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Connected:    b.connected.Load(),
		Connects:     b.connects.Load(),
		ScansIn:      b.scansIn.Load(),
		TwistsOut:    b.twistsOut.Load(),
		DecodeErrors: b.decodeErrors.Load(),
	}
}

// Run keeps a session with the base until ctx is done. It returns nil on
// cancellation and ErrConnectExhausted when MaxConnectAttempts is set and the
// first connect never succeeds.
func (b *Bridge) Run(ctx context.Context) error {
	attempt := 0
	everConnected := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := b.dial(ctx, "tcp", b.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if !everConnected && b.cfg.MaxConnectAttempts > 0 && attempt >= b.cfg.MaxConnectAttempts {
				b.logger.Error().Err(err).Int("attempts", attempt).Msg("transport.Bridge.Run giving up")
				return fmt.Errorf("%w: %d attempts to %s: %v", ErrConnectExhausted, attempt, b.cfg.Address, err)
			}
			delay := NextBackoffDelay(b.cfg.Backoff, attempt, b.rng)
			b.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("transport.Bridge.Run dial failed")
			if !sleepContext(ctx, delay) {
				return nil
			}
			continue
		}

		everConnected = true
		attempt = 0
		b.connects.Add(1)
		err = b.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		attempt = 1
		delay := NextBackoffDelay(b.cfg.Backoff, attempt, b.rng)
		b.logger.Warn().Err(err).Dur("retry_in", delay).Msg("transport.Bridge.Run session lost")
		if !sleepContext(ctx, delay) {
			return nil
		}
	}
}

// serve runs one session: hello, then scans in on this goroutine and twists
// out on the twist-topic subscription goroutine. The first failure on either
// side ends the session.
func (b *Bridge) serve(ctx context.Context, conn net.Conn) error {
	var closeOnce sync.Once
	var writeErr error
	closeConn := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}
	defer closeConn()
	// Cancellation unblocks the reader only; the twist subscription still
	// drains its last command (usually a halt) before the connection closes.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	logger := b.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	hello, err := EncodeHelloFrame(b.nextID.Add(1), Hello{NodeID: b.cfg.NodeID, RunID: b.cfg.RunID, Token: b.cfg.AuthToken})
	if err != nil {
		return err
	}
	if err := b.write(conn, hello); err != nil {
		return fmt.Errorf("transport: hello: %w", err)
	}
	b.connected.Store(true)
	defer b.connected.Store(false)
	logger.Info().Str("node_id", b.cfg.NodeID).Msg("transport.Bridge.serve connected")

	var mu sync.Mutex
	sub, err := b.bus.Subscribe(b.cfg.TwistTopic, func(msg any) {
		cmd, ok := msg.(actuator.Twist)
		if !ok {
			logger.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("transport.Bridge.serve ignoring non-twist message")
			return
		}
		raw, err := EncodeTwistFrame(b.nextID.Add(1), cmd)
		if err == nil {
			err = b.write(conn, raw)
		}
		if err != nil {
			mu.Lock()
			if writeErr == nil {
				writeErr = err
			}
			mu.Unlock()
			closeConn()
			return
		}
		b.twistsOut.Add(1)
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	readErr := b.readLoop(conn, logger)
	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("transport: write twist: %w", writeErr)
	}
	return readErr
}

func (b *Bridge) readLoop(conn net.Conn, logger zerolog.Logger) error {
	for {
		f, err := frame.ReadFrame(conn, b.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("transport: base closed connection")
			}
			return err
		}
		if f.Header.MessageType != schema.MsgLaserScan {
			logger.Debug().Uint32("message_type", f.Header.MessageType).Msg("transport.Bridge.readLoop skipping message")
			continue
		}
		scan, err := DecodeScanFrame(f)
		if err != nil {
			b.decodeErrors.Add(1)
			logger.Warn().Err(err).Uint64("message_id", f.Header.MessageID).Msg("transport.Bridge.readLoop bad scan frame")
			continue
		}
		b.scansIn.Add(1)
		if _, err := b.bus.Publish(b.cfg.LaserTopic, scan); err != nil {
			return err
		}
	}
}

func (b *Bridge) write(conn net.Conn, raw []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(raw)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
