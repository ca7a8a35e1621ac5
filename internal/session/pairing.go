package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPairingTimeout is returned by AwaitNext when no newer payload is
	// published before the timeout.
	ErrPairingTimeout = errors.New("pairing wait timed out")

	// ErrPairingClosed is returned by AwaitNext when the channel is closed
	// because the session ended.
	ErrPairingClosed = errors.New("pairing channel closed")
)

// PairingChannel holds the latest pairing payload for one tenant.
//
// It is a single-slot mailbox: Publish overwrites the slot and bumps the
// version, Clear empties the slot and keeps the version. Readers either take
// a non-blocking Snapshot or wait for a newer payload with AwaitNext.
//
// Every AwaitNext call owns a private waiter with a one-element buffer. A
// waiter is resolved by whichever of publish, close, timeout or cancellation
// removes it from the waiter set first; the others find it gone. That makes
// each call resolve exactly once.
type PairingChannel struct {
	mu      sync.Mutex
	payload string
	version uint64
	closed  bool

	waiters    map[uint64]chan pairingResult
	nextWaiter uint64
}

type pairingResult struct {
	payload string
	version uint64
	closed  bool
}

// NewPairingChannel returns an empty channel at version 0.
func NewPairingChannel() *PairingChannel {
	return &PairingChannel{
		waiters: make(map[uint64]chan pairingResult),
	}
}

// Publish stores payload, bumps the version and wakes every waiter.
// Publishing on a closed channel is ignored and returns the current version.
func (c *PairingChannel) Publish(payload string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.version
	}

	c.version++
	c.payload = payload

	for id, ch := range c.waiters {
		delete(c.waiters, id)
		ch <- pairingResult{payload: payload, version: c.version}
	}
	return c.version
}

// Snapshot returns the current payload and version without blocking.
// ok is false when the slot is empty.
func (c *PairingChannel) Snapshot() (payload string, version uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, c.version, c.payload != ""
}

// Version returns the number of payloads published so far.
func (c *PairingChannel) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Clear empties the slot. The version is kept so waiters that pass it as
// afterVersion only wake for a genuinely new payload.
func (c *PairingChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = ""
}

// Close empties the slot, resolves every waiter with ErrPairingClosed and
// rejects later publishes. Close is idempotent.
func (c *PairingChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.payload = ""

	for id, ch := range c.waiters {
		delete(c.waiters, id)
		ch <- pairingResult{version: c.version, closed: true}
	}
}

// Waiters returns the number of pending AwaitNext calls.
func (c *PairingChannel) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// AwaitNext waits for a payload newer than afterVersion.
//
// If the slot already holds a payload newer than afterVersion it is returned
// immediately. Otherwise the call blocks until a publish (returns the new
// payload), the timeout (ErrPairingTimeout), ctx cancellation (ctx.Err()) or
// Close (ErrPairingClosed). A non-positive timeout only checks the slot.
func (c *PairingChannel) AwaitNext(ctx context.Context, afterVersion uint64, timeout time.Duration) (string, uint64, error) {
	c.mu.Lock()
	if c.closed {
		version := c.version
		c.mu.Unlock()
		return "", version, ErrPairingClosed
	}
	if c.payload != "" && c.version > afterVersion {
		payload, version := c.payload, c.version
		c.mu.Unlock()
		return payload, version, nil
	}
	if timeout <= 0 {
		version := c.version
		c.mu.Unlock()
		return "", version, ErrPairingTimeout
	}

	id := c.nextWaiter
	c.nextWaiter++
	ch := make(chan pairingResult, 1)
	c.waiters[id] = ch
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var giveUp error
	select {
	case r := <-ch:
		return resolve(r)
	case <-timer.C:
		giveUp = ErrPairingTimeout
	case <-ctx.Done():
		giveUp = ctx.Err()
	}

	// The timer or ctx fired. If the waiter is still registered we own the
	// resolution; otherwise a publish or close already sent to ch and that
	// result wins.
	if c.deregister(id) {
		return "", c.Version(), giveUp
	}
	return resolve(<-ch)
}

func (c *PairingChannel) deregister(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[id]; !ok {
		return false
	}
	delete(c.waiters, id)
	return true
}

func resolve(r pairingResult) (string, uint64, error) {
	if r.closed {
		return "", r.version, ErrPairingClosed
	}
	return r.payload, r.version, nil
}
