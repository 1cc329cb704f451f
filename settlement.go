package mqttest

import (
	"context"
	"sync"
	"sync/atomic"
)

type State int32

const (
	Pending State = iota
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// Settlement is the observable outcome of work in flight. It leaves Pending
// exactly once and its state can be read at any time without blocking.
type Settlement[T any] struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newSettlement[T any]() *Settlement[T] {
	return &Settlement[T]{done: make(chan struct{})}
}

// Observe runs fn in its own goroutine and returns its settlement.
func Observe[T any](ctx context.Context, fn func(context.Context) (T, error)) *Settlement[T] {
	s := newSettlement[T]()
	go func() {
		v, err := fn(ctx)
		s.settle(v, err)
	}()
	return s
}

// settle records the outcome; only the first call has any effect.
func (s *Settlement[T]) settle(v T, err error) {
	s.once.Do(func() {
		s.value, s.err = v, err
		if err != nil {
			s.state.Store(int32(Rejected))
		} else {
			s.state.Store(int32(Resolved))
		}
		close(s.done)
	})
}

func (s *Settlement[T]) State() State {
	return State(s.state.Load())
}

func (s *Settlement[T]) IsPending() bool  { return s.State() == Pending }
func (s *Settlement[T]) IsResolved() bool { return s.State() == Resolved }
func (s *Settlement[T]) IsRejected() bool { return s.State() == Rejected }

// Done is closed once the settlement leaves Pending.
func (s *Settlement[T]) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the work settles or ctx is done.
func (s *Settlement[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
