// Package node assembles one reactive controller: bus ingestion into the
// perception store, the behavior list in priority order, the arbitration
// engine, the command sink, and the optional base bridge and admin server.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/behaviors"
	"github.com/barc/reactivemover/internal/bus"
	"github.com/barc/reactivemover/internal/config"
	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/observability"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/subsumption"
	"github.com/barc/reactivemover/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyStarted = errors.New("node: already started")
	ErrNotStarted     = errors.New("node: not started")
)

const adminShutdownTimeout = 5 * time.Second

type Option func(*Node)

// WithBus attaches the node to an existing bus. The caller keeps ownership and
// closes it.
func WithBus(b *bus.Bus) Option {
	return func(n *Node) {
		n.bus = b
	}
}

// WithSink replaces the bus-backed twist sink.
func WithSink(s actuator.Sink) Option {
	return func(n *Node) {
		n.sink = s
	}
}

// WithBehaviors adds behaviors above the built-in ones, highest priority first.
func WithBehaviors(bs ...subsumption.Behavior) Option {
	return func(n *Node) {
		n.extra = append(n.extra, bs...)
	}
}

// Node is one controller instance. It runs once: Start, then Stop or Run.
type Node struct {
	cfg     config.Config
	runID   string
	logger  zerolog.Logger
	created time.Time

	bus     *bus.Bus
	ownsBus bool
	store   *perception.Store
	sink    actuator.Sink
	extra   []subsumption.Behavior
	metrics *observability.Metrics
	engine  *subsumption.Engine
	bridge  *transport.Bridge
	router  *gin.Engine

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	adminAddr string
	done      chan struct{}
	err       error
}

func New(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	n := &Node{
		cfg:     cfg,
		runID:   runID,
		logger:  logging.Component("node").With().Str("node_id", cfg.NodeID).Str("run_id", runID).Logger(),
		created: time.Now(),
		store:   perception.NewStore(),
		metrics: observability.NewMetrics(cfg.NodeID),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.bus == nil {
		n.bus = bus.New()
		n.ownsBus = true
	}
	if n.sink == nil {
		n.sink = actuator.NewTopicSink(n.bus, cfg.TwistTopic)
	}

	list, err := n.behaviorList()
	if err != nil {
		return nil, err
	}
	n.engine, err = subsumption.New(list,
		subsumption.WithView(n.store.Load),
		subsumption.WithInterval(cfg.TickInterval),
		subsumption.WithObserver(n.metrics),
		subsumption.WithLogger(n.logger.With().Str("component", "subsumption").Logger()),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Base.Address != "" {
		n.bridge, err = transport.NewBridge(cfg.Bridge(runID), n.bus)
		if err != nil {
			return nil, err
		}
	}
	n.router = n.newRouter()
	return n, nil
}

// behaviorList is the priority order: injected behaviors, the stale-data
// watchdog when enabled, then turn_left and turn_right.
func (n *Node) behaviorList() ([]subsumption.Behavior, error) {
	list := make([]subsumption.Behavior, 0, len(n.extra)+3)
	list = append(list, n.extra...)
	if n.cfg.StaleAfter > 0 {
		list = append(list, behaviors.NewStaleHalt(n.sink, n.cfg.StaleAfter))
	}
	for _, side := range []perception.Direction{perception.DirectionLeft, perception.DirectionRight} {
		t, err := behaviors.NewTurn(side, n.sink, n.cfg.Turn())
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

func (n *Node) NodeID() string {
	return n.cfg.NodeID
}

func (n *Node) Kind() string {
	return "reactive_mover"
}

func (n *Node) RunID() string {
	return n.runID
}

func (n *Node) Bus() *bus.Bus {
	return n.bus
}

func (n *Node) Engine() *subsumption.Engine {
	return n.engine
}

func (n *Node) Snapshot() perception.Snapshot {
	return n.store.Load()
}

func (n *Node) Metrics() *observability.Metrics {
	return n.metrics
}

func (n *Node) HTTPRouter() *gin.Engine {
	return n.router
}

// AdminAddr is the bound admin address, empty until Start or when disabled.
func (n *Node) AdminAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adminAddr
}

// Start subscribes ingestion and launches the engine, bridge, and admin
// server. It returns once everything is running; failures surface from Wait.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}

	sub, err := n.bus.Subscribe(n.cfg.LaserTopic, n.ingest)
	if err != nil {
		return fmt.Errorf("node: subscribe %s: %w", n.cfg.LaserTopic, err)
	}

	var adminLn net.Listener
	if n.cfg.AdminListen != "" {
		adminLn, err = net.Listen("tcp", n.cfg.AdminListen)
		if err != nil {
			sub.Close()
			return fmt.Errorf("node: admin listen %s: %w", n.cfg.AdminListen, err)
		}
		n.adminAddr = adminLn.Addr().String()
	}
	n.started = true

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)

	// The bridge outlives the engine so the final halt reaches the base.
	bridgeCtx, stopBridge := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		defer stopBridge()
		err := n.engine.Run(gctx)
		if err != nil {
			n.haltOnFailure()
		}
		return err
	})
	if n.bridge != nil {
		g.Go(func() error {
			if err := n.bridge.Run(bridgeCtx); err != nil {
				n.logger.Error().Err(err).Msg("node.Node.bridge stopped")
			}
			return nil
		})
	}
	if adminLn != nil {
		srv := &http.Server{Handler: n.router, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("node: admin serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	go func() {
		err := g.Wait()
		stopBridge()
		cancel()
		sub.Close()
		if n.ownsBus {
			n.bus.Close()
		}
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		if err != nil {
			n.logger.Error().Err(err).Msg("node.Node stopped with error")
		} else {
			n.logger.Info().Msg("node.Node stopped")
		}
		close(n.done)
	}()

	n.logger.Info().
		Strs("priority", n.engine.Names()).
		Str("laser_topic", n.cfg.LaserTopic).
		Str("twist_topic", n.cfg.TwistTopic).
		Str("admin", n.adminAddr).
		Str("base", n.cfg.Base.Address).
		Msg("node.Node.Start")
	return nil
}

// haltOnFailure leaves the base stationary after the control loop died. The
// engine already stopped the active behavior, which only halts if it had a
// command in effect.
func (n *Node) haltOnFailure() {
	if err := n.sink.Publish(actuator.Halt()); err != nil {
		n.logger.Error().Err(err).Msg("node.Node.haltOnFailure publish failed")
	}
}

// Stop cancels the engine and every node goroutine. It does not wait; call
// Wait for that. Repeated calls are no-ops.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	n.engine.Cancel()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the node has fully stopped and returns the first failure,
// typically the engine's fatal tick error.
func (n *Node) Wait() error {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-n.done
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Done is closed once the node has fully stopped.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Run starts the node and blocks until ctx is cancelled or a component fails.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	n.Stop()
	return n.Wait()
}
