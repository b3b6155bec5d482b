package actuator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/barc/reactivemover/internal/bus"
)

var ErrSinkClosed = errors.New("actuator: sink closed")

// Twist is a velocity command: forward speed and turn rate. A positive
// Angular turns toward the right-hand side.
type Twist struct {
	Linear  float64   `json:"linear"`
	Angular float64   `json:"angular"`
	Stamp   time.Time `json:"stamp"`
}

// Halt is the neutral command that leaves the base stationary.
func Halt() Twist {
	return Twist{Stamp: time.Now()}
}

func (t Twist) IsZero() bool {
	return t.Linear == 0 && t.Angular == 0
}

func (t Twist) String() string {
	return fmt.Sprintf("twist{linear=%.4f angular=%.4f}", t.Linear, t.Angular)
}

// Sink is the output boundary written by the winning behavior. Publish must
// return promptly; a blocking sink stalls the control loop.
type Sink interface {
	Publish(cmd Twist) error
}

// TopicSink publishes commands onto a bus topic.
type TopicSink struct {
	bus   *bus.Bus
	topic string
}

func NewTopicSink(b *bus.Bus, topic string) *TopicSink {
	return &TopicSink{bus: b, topic: strings.TrimSpace(topic)}
}

func (s *TopicSink) Topic() string {
	return s.topic
}

func (s *TopicSink) Publish(cmd Twist) error {
	if cmd.Stamp.IsZero() {
		cmd.Stamp = time.Now()
	}
	if _, err := s.bus.Publish(s.topic, cmd); err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return ErrSinkClosed
		}
		return err
	}
	return nil
}

// Recorder is an in-memory Sink that keeps every published command.
type Recorder struct {
	mu   sync.Mutex
	cmds []Twist
	err  error
}

func NewRecorder() *Recorder {
	return &Recorder{cmds: make([]Twist, 0)}
}

// FailWith makes later Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Publish(cmd Twist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *Recorder) Commands() []Twist {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Twist, len(r.cmds))
	copy(out, r.cmds)
	return out
}

func (r *Recorder) Last() (Twist, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cmds) == 0 {
		return Twist{}, false
	}
	return r.cmds[len(r.cmds)-1], true
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}
