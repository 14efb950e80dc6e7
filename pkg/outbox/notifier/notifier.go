// Package notifier carries "work available" hints from outbox writers to the
// single publisher loop. A hint never carries event data; the publisher always
// re-reads the store.
package notifier

import (
	"context"
	"time"
)

// Wake reports why WaitForSignal returned.
type Wake int

const (
	WakeSignal Wake = iota + 1
	WakeTimeout
)

func (w Wake) String() string {
	switch w {
	case WakeSignal:
		return "signal"
	case WakeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Notifier is a coalescing many-producer, single-consumer signal. Any number
// of Notify calls between two waits collapse into one pending token.
type Notifier struct {
	ch chan struct{}
}

func New() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// WaitForSignal blocks until a token arrives, the timeout elapses or ctx is
// done. A non-positive timeout waits for a token or ctx only.
func (n *Notifier) WaitForSignal(ctx context.Context, timeout time.Duration) (Wake, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-n.ch:
		return WakeSignal, nil
	case <-timeoutC:
		return WakeTimeout, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Multi fans a Notify out to several signalers, for example the local
// notifier and a cross-process relay.
type Multi []interface{ Notify() }

func (m Multi) Notify() {
	for _, s := range m {
		if s != nil {
			s.Notify()
		}
	}
}

// Discard drops every hint. Writers running without a publisher use it and
// rely on the publisher's fallback poll elsewhere.
type Discard struct{}

func (Discard) Notify() {}
