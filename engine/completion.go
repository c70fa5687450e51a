package engine

import (
	"context"
	"sync/atomic"
)

// Completion is a one-shot slot connecting a native callback (producer) to a
// waiting caller (consumer). It moves from pending to resolved exactly once.
type Completion[T any] struct {
	resolved atomic.Bool
	done     chan struct{}
	value    T
}

func NewCompletion[T any]() *Completion[T] {
	return &Completion[T]{done: make(chan struct{})}
}

// Resolve delivers v. Only the first call wins; later calls return false and
// have no effect. It never blocks, so it is safe to call after the consumer
// went away.
func (c *Completion[T]) Resolve(v T) bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.value = v
	close(c.done)
	return true
}

// Wait suspends until the completion resolves or ctx is done.
func (c *Completion[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, nil
	default:
	}
	select {
	case <-c.done:
		return c.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved reports whether a value has been delivered.
func (c *Completion[T]) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the completion resolves.
func (c *Completion[T]) Done() <-chan struct{} { return c.done }

// Result pairs a native callback's payload with its error.
type Result[T any] struct {
	Value T
	Err   error
}

// Deliver returns a callback that publishes its arguments into c.
func Deliver[T any](c *Completion[Result[T]]) func(T, error) {
	return func(v T, err error) {
		c.Resolve(Result[T]{Value: v, Err: err})
	}
}
