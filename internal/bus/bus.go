// Package bus is the in-process topic layer between sensor sources, the
// controller, and actuator outputs.
//
// Delivery is latest-value: each subscription keeps one pending slot that a
// newer message overwrites, and one goroutine drains it into the handler.
// Publish never blocks.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/barc/reactivemover/internal/logging"
)

var (
	ErrClosed     = errors.New("bus: closed")
	ErrEmptyTopic = errors.New("bus: empty topic")
	ErrNilHandler = errors.New("bus: nil handler")
)

type Handler func(msg any)

type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Publish offers msg to every current subscriber of topic and returns how many
// subscriptions it reached. Messages are not retained for later subscribers.
func (b *Bus) Publish(topic string, msg any) (int, error) {
	key := strings.TrimSpace(topic)
	if key == "" {
		return 0, ErrEmptyTopic
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	subs := b.subs[key]
	for _, s := range subs {
		s.offer(msg)
	}
	return len(subs), nil
}

func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	key := strings.TrimSpace(topic)
	if key == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	s := &Subscription{
		topic:   key,
		bus:     b,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[key] = append(b.subs[key], s)
	b.mu.Unlock()

	go s.loop()
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[strings.TrimSpace(topic)])
}

// Close detaches and stops every subscription. Later calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := make([]*Subscription, 0)
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.shutdown()
	}
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[target.topic]
	for i, s := range subs {
		if s == target {
			b.subs[target.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.topic]) == 0 {
		delete(b.subs, target.topic)
	}
}

// Subscription is one handler attached to a topic.
type Subscription struct {
	topic   string
	bus     *Bus
	handler Handler

	mu         sync.Mutex
	pending    any
	hasPending bool

	wake      chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Delivered counts messages handed to the handler.
func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// Dropped counts messages overwritten before the handler saw them.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription, hands a still-pending message to the
// handler, and waits for that call to return. It must not be called from
// inside the handler.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.exited
}

func (s *Subscription) offer(msg any) {
	s.mu.Lock()
	if s.hasPending {
		s.dropped.Add(1)
	}
	s.pending = msg
	s.hasPending = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.pending, s.hasPending
	s.pending = nil
	s.hasPending = false
	return msg, ok
}

func (s *Subscription) loop() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			s.deliverPending()
			return
		case <-s.wake:
		}
		s.deliverPending()
	}
}

func (s *Subscription) deliverPending() {
	msg, ok := s.take()
	if !ok {
		return
	}
	if err := s.dispatch(msg); err != nil {
		s.panics.Add(1)
		logger := logging.Component("bus")
		logger.Error().Err(err).Str("topic", s.topic).Msg("bus.Subscription.loop handler failed")
		return
	}
	s.delivered.Add(1)
}

func (s *Subscription) dispatch(msg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic on %q: %v", s.topic, r)
		}
	}()
	s.handler(msg)
	return nil
}
