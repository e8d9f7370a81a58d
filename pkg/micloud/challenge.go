package micloud

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is what a pending challenge resolves to.
type Outcome[T any] struct {
	Solved    bool
	Value     T
	Cancelled bool
}

// Coordinator is a reusable single-slot rendezvous (spec.md §4.3),
// parameterized over the solution type T. At most one challenge may be
// pending at a time; issuing a new one cancels whichever was pending.
//
// Ported from the original Rust async_challenge.rs/captcha.rs, which used
// an Arc<Mutex<Option<oneshot::Sender>>>; a buffered Go channel plays the
// role of the oneshot sender/receiver pair.
type Coordinator[T any] struct {
	mu      sync.Mutex
	pending chan Outcome[T]
}

// RequestSolve cancels any challenge already pending on this slot,
// installs a fresh receiver, invokes publish with prompt (the side
// channel to the driver), then blocks until Solve or Cancel is called.
// publish runs after the receiver is installed so a driver that answers
// synchronously cannot race the wake-up.
func (c *Coordinator[T]) RequestSolve(ctx context.Context, prompt string, publish func(string)) (Outcome[T], error) {
	c.Cancel()

	ch := make(chan Outcome[T], 1)
	c.mu.Lock()
	c.pending = ch
	c.mu.Unlock()

	publish(prompt)

	select {
	case outcome, ok := <-ch:
		if !ok {
			return Outcome[T]{}, fmt.Errorf("micloud: challenge channel closed: %w", ErrProtocolViolation)
		}
		return outcome, nil
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}
}

// Solve delivers a solved outcome to the pending waiter, if any. No-op on
// an empty slot.
func (c *Coordinator[T]) Solve(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return
	}
	c.pending <- Outcome[T]{Solved: true, Value: value}
	c.pending = nil
}

// Cancel delivers a cancelled outcome to the pending waiter, if any.
// No-op on an empty slot.
func (c *Coordinator[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Coordinator[T]) cancelLocked() {
	if c.pending == nil {
		return
	}
	c.pending <- Outcome[T]{Cancelled: true}
	c.pending = nil
}
