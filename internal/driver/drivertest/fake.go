// Package drivertest provides a scriptable in-memory driver for tests.
package drivertest

import (
	"context"
	"errors"
	"sync"

	"github.com/pseudocoder/pairgate/internal/driver"
)

// ErrClosed is returned by operations on a released fake driver.
var ErrClosed = errors.New("fake driver closed")

// Message is an outbound message recorded by SendMessage.
type Message struct {
	To   string
	Body string
}

// Driver is a driver.Driver whose events are pushed by the test.
type Driver struct {
	Config driver.Config

	// InitErr is returned from Initialize when set.
	InitErr error

	// LogoutErr is returned from Logout when set.
	LogoutErr error

	// InitBlock, when non-nil, makes Initialize wait until it is closed.
	InitBlock chan struct{}

	events chan driver.Event

	mu          sync.Mutex
	closed      bool
	closeCalls  int
	initCalls   int
	logoutCalls int
	sent        []Message
	initialized chan struct{}
	released    chan struct{}
}

// New returns a fake driver with a buffered event channel.
func New(cfg driver.Config) *Driver {
	return &Driver{
		Config:      cfg,
		events:      make(chan driver.Event, 64),
		initialized: make(chan struct{}),
		released:    make(chan struct{}),
	}
}

// Events implements driver.Driver.
func (d *Driver) Events() <-chan driver.Event {
	return d.events
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	d.initCalls++
	if d.initCalls == 1 {
		close(d.initialized)
	}
	block := d.InitBlock
	err := d.InitErr
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Logout implements driver.Driver.
func (d *Driver) Logout(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logoutCalls++
	if d.closed {
		return ErrClosed
	}
	return d.LogoutErr
}

// SendMessage implements driver.Driver.
func (d *Driver) SendMessage(ctx context.Context, to, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.sent = append(d.sent, Message{To: to, Body: body})
	return nil
}

// Close implements driver.Driver. The event channel is closed on the first
// call so a consumer sees the end of the stream.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.events)
	close(d.released)
	return nil
}

// Emit delivers ev to the consumer. Emitting on a closed driver is a no-op.
func (d *Driver) Emit(ev driver.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// Crash ends the event stream without a terminal event, as a helper process
// that died would.
func (d *Driver) Crash() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.events)
	close(d.released)
}

// Initialized is closed after the first Initialize call starts.
func (d *Driver) Initialized() <-chan struct{} {
	return d.initialized
}

// Released is closed once the driver has been closed or crashed.
func (d *Driver) Released() <-chan struct{} {
	return d.released
}

// CloseCalls returns how many times Close was called.
func (d *Driver) CloseCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCalls
}

// LogoutCalls returns how many times Logout was called.
func (d *Driver) LogoutCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logoutCalls
}

// Sent returns a copy of the messages accepted by SendMessage.
func (d *Driver) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Message, len(d.sent))
	copy(out, d.sent)
	return out
}

// Factory records every driver it constructs.
type Factory struct {
	// Err, when set, is returned instead of constructing a driver.
	Err error

	// Configure, when set, is applied to each new driver before it is
	// returned to the caller.
	Configure func(*Driver)

	mu      sync.Mutex
	drivers []*Driver
	created chan *Driver
}

// NewFactory returns an empty recording factory.
func NewFactory() *Factory {
	return &Factory{created: make(chan *Driver, 64)}
}

// New implements driver.Factory.
func (f *Factory) New(cfg driver.Config) (driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	d := New(cfg)
	if f.Configure != nil {
		f.Configure(d)
	}
	f.drivers = append(f.drivers, d)
	f.created <- d
	return d, nil
}

// Count returns how many drivers were constructed.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

// Drivers returns the constructed drivers in creation order.
func (f *Factory) Drivers() []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Driver, len(f.drivers))
	copy(out, f.drivers)
	return out
}

// Created delivers each driver as it is constructed.
func (f *Factory) Created() <-chan *Driver {
	return f.created
}
