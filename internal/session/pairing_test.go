package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPairingChannelPublishAndSnapshot(t *testing.T) {
	c := NewPairingChannel()

	if _, version, ok := c.Snapshot(); ok || version != 0 {
		t.Fatalf("empty channel: ok=%v version=%d", ok, version)
	}

	if v := c.Publish("1@2,ABC=="); v != 1 {
		t.Errorf("first publish version = %d, want 1", v)
	}
	if v := c.Publish("1@2,DEF=="); v != 2 {
		t.Errorf("second publish version = %d, want 2", v)
	}

	payload, version, ok := c.Snapshot()
	if !ok || payload != "1@2,DEF==" || version != 2 {
		t.Errorf("Snapshot = %q, %d, %v", payload, version, ok)
	}

	c.Clear()
	if _, version, ok := c.Snapshot(); ok || version != 2 {
		t.Errorf("after Clear: ok=%v version=%d, want empty at version 2", ok, version)
	}
}

func TestPairingChannelAwaitReturnsExistingNewerPayload(t *testing.T) {
	c := NewPairingChannel()
	c.Publish("first")

	payload, version, err := c.AwaitNext(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("AwaitNext: %v", err)
	}
	if payload != "first" || version != 1 {
		t.Errorf("got %q v%d", payload, version)
	}
	if c.Waiters() != 0 {
		t.Errorf("waiters = %d, want 0", c.Waiters())
	}
}

func TestPairingChannelAwaitWakesOnPublish(t *testing.T) {
	c := NewPairingChannel()
	c.Publish("stale")

	type result struct {
		payload string
		version uint64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, v, err := c.AwaitNext(context.Background(), 1, 5*time.Second)
		done <- result{p, v, err}
	}()

	waitForWaiters(t, c, 1)
	c.Publish("fresh")

	select {
	case r := <-done:
		if r.err != nil || r.payload != "fresh" || r.version != 2 {
			t.Errorf("got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by publish")
	}
}

func TestPairingChannelAwaitTimeout(t *testing.T) {
	c := NewPairingChannel()

	start := time.Now()
	_, _, err := c.AwaitNext(context.Background(), 0, 20*time.Millisecond)
	if !errors.Is(err, ErrPairingTimeout) {
		t.Fatalf("err = %v, want ErrPairingTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the timeout")
	}
	if c.Waiters() != 0 {
		t.Errorf("waiter leaked: %d", c.Waiters())
	}
}

func TestPairingChannelAwaitNonPositiveTimeout(t *testing.T) {
	c := NewPairingChannel()
	if _, _, err := c.AwaitNext(context.Background(), 0, 0); !errors.Is(err, ErrPairingTimeout) {
		t.Errorf("err = %v, want ErrPairingTimeout", err)
	}
}

func TestPairingChannelAwaitCancelled(t *testing.T) {
	c := NewPairingChannel()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := c.AwaitNext(ctx, 0, time.Minute)
		done <- err
	}()

	waitForWaiters(t, c, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by cancellation")
	}
	if c.Waiters() != 0 {
		t.Errorf("waiter leaked: %d", c.Waiters())
	}
}

func TestPairingChannelCloseResolvesWaiters(t *testing.T) {
	c := NewPairingChannel()

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, err := c.AwaitNext(context.Background(), 0, time.Minute)
			errs <- err
		}()
	}

	waitForWaiters(t, c, n)
	c.Close()
	c.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrPairingClosed) {
				t.Errorf("waiter %d err = %v, want ErrPairingClosed", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not resolved by Close")
		}
	}

	if v := c.Publish("late"); v != 0 {
		t.Errorf("publish after close bumped version to %d", v)
	}
	if _, _, err := c.AwaitNext(context.Background(), 0, time.Second); !errors.Is(err, ErrPairingClosed) {
		t.Errorf("await after close err = %v", err)
	}
}

// Timeouts racing publishes must still resolve every call exactly once:
// either with the payload or with a timeout, never both and never neither.
func TestPairingChannelTimeoutRacingPublish(t *testing.T) {
	for round := 0; round < 50; round++ {
		c := NewPairingChannel()

		const n = 20
		var wg sync.WaitGroup
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := c.AwaitNext(context.Background(), 0, time.Millisecond)
				results <- err
			}()
		}

		time.Sleep(time.Millisecond)
		c.Publish("racing")
		wg.Wait()
		close(results)

		count := 0
		for err := range results {
			count++
			if err != nil && !errors.Is(err, ErrPairingTimeout) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if count != n {
			t.Fatalf("round %d: %d results, want %d", round, count, n)
		}
		if c.Waiters() != 0 {
			t.Fatalf("round %d: %d waiters leaked", round, c.Waiters())
		}
	}
}

func waitForWaiters(t *testing.T, c *PairingChannel, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waiters = %d, want %d", c.Waiters(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
