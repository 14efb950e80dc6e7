package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNotifyWakesWaiter(t *testing.T) {
	n := New()
	n.Notify()

	wake, err := n.WaitForSignal(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wake != WakeSignal {
		t.Fatalf("expected signal wake, got %s", wake)
	}
}

func TestNotifyCoalesces(t *testing.T) {
	n := New()
	for i := 0; i < 100; i++ {
		n.Notify()
	}

	if wake, _ := n.WaitForSignal(context.Background(), time.Second); wake != WakeSignal {
		t.Fatalf("expected first wait to see the token, got %s", wake)
	}
	if wake, _ := n.WaitForSignal(context.Background(), 20*time.Millisecond); wake != WakeTimeout {
		t.Fatalf("expected coalesced tokens to leave nothing behind, got %s", wake)
	}
}

func TestNotifyNeverBlocksConcurrentProducers(t *testing.T) {
	n := New()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				n.Notify()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producers blocked with no consumer")
	}
}

func TestWaitForSignalTimeout(t *testing.T) {
	n := New()
	start := time.Now()
	wake, err := n.WaitForSignal(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wake != WakeTimeout {
		t.Fatalf("expected timeout wake, got %s", wake)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("returned before timeout: %v", elapsed)
	}
}

func TestWaitForSignalCanceled(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := n.WaitForSignal(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

type countingSignaler struct{ calls int }

func (c *countingSignaler) Notify() { c.calls++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSignaler{}, &countingSignaler{}
	Multi{a, nil, b}.Notify()
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected one call each, got %d and %d", a.calls, b.calls)
	}
	Discard{}.Notify()
}
