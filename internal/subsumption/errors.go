package subsumption

import (
	"errors"
	"fmt"
)

var (
	ErrNoBehaviors     = errors.New("subsumption: no behaviors")
	ErrNilBehavior     = errors.New("subsumption: nil behavior")
	ErrInvalidInterval = errors.New("subsumption: invalid tick interval")
	ErrAlreadyRunning  = errors.New("subsumption: engine already running")
)

// PreconditionError reports a broken internal invariant inside a behavior.
// It is fatal to the arbitration loop.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return "subsumption: precondition violated: " + e.Message
}

// Precondition returns a *PreconditionError when ok is false, nil otherwise.
func Precondition(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// BehaviorError ties a failure to the behavior and lifecycle call that raised it.
type BehaviorError struct {
	Behavior string
	Op       string
	Err      error
}

func (e *BehaviorError) Error() string {
	return fmt.Sprintf("subsumption: behavior %q %s: %v", e.Behavior, e.Op, e.Err)
}

func (e *BehaviorError) Unwrap() error {
	return e.Err
}

// IsPrecondition reports whether err carries a *PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// PanicError is a recovered panic from a behavior call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func recoverInto(errp *error, behavior, op string) {
	r := recover()
	if r == nil {
		return
	}
	var inner error = &PanicError{Value: r}
	if err, ok := r.(error); ok && IsPrecondition(err) {
		inner = err
	}
	*errp = &BehaviorError{Behavior: behavior, Op: op, Err: inner}
}
