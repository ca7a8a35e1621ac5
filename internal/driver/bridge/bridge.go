// Package bridge implements a driver that delegates each tenant's client to
// a remote driver service over a WebSocket.
//
// One connection carries one tenant. The gateway dials
// <url>?tenant=<id> and then exchanges the same JSON messages the exec
// driver uses with its helper: driver.Command frames out, driver.Reply and
// event frames in. The connection closing ends the event stream.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/pseudocoder/pairgate/internal/driver"
)

const (
	// DefaultHandshakeTimeout bounds each dial attempt.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultDialRetries is how many times a failed dial is retried.
	DefaultDialRetries = 5

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
)

// ErrClosed is returned by operations on a closed or disconnected driver.
var ErrClosed = errors.New("bridge connection closed")

// Config describes the remote driver service.
type Config struct {
	// URL is the service's WebSocket endpoint (ws:// or wss://).
	URL string

	// Token, when set, is sent as a bearer token on every dial.
	Token string

	// HandshakeTimeout bounds each dial attempt.
	// Default: DefaultHandshakeTimeout
	HandshakeTimeout time.Duration

	// DialRetries bounds retries of a failed dial with exponential backoff.
	// Default: DefaultDialRetries
	DialRetries int

	// InitialBackoff is the first retry interval. Zero uses the backoff
	// library default.
	InitialBackoff time.Duration

	// WriteTimeout bounds a single frame write.
	// Default: DefaultWriteTimeout
	WriteTimeout time.Duration
}

// NewFactory returns a driver.Factory for bridge-backed drivers.
// Construction only validates the URL; dialing happens in Initialize.
func NewFactory(cfg Config) driver.Factory {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = DefaultDialRetries
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return func(dcfg driver.Config) (driver.Driver, error) {
		target, err := tenantURL(cfg.URL, dcfg.TenantID)
		if err != nil {
			return nil, err
		}
		return &Driver{
			cfg:     cfg,
			tenant:  dcfg.TenantID,
			target:  target,
			events:  make(chan driver.Event, 16),
			calls:   driver.NewCalls(),
			closing: make(chan struct{}),
			done:    make(chan struct{}),
		}, nil
	}
}

// NormalizeURL converts http(s) URLs to their ws(s) equivalents.
func NormalizeURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid bridge url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func tenantURL(base, tenantID string) (string, error) {
	normalized, err := NormalizeURL(base)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(normalized)
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Driver is a driver.Driver backed by a WebSocket connection.
type Driver struct {
	cfg    Config
	tenant string
	target string

	events chan driver.Event
	calls  *driver.Calls

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{} // closed when the read loop ends
}

// Events implements driver.Driver.
func (d *Driver) Events() <-chan driver.Event {
	return d.events
}

// Initialize dials the service, retrying with exponential backoff, and
// sends the initialize command.
func (d *Driver) Initialize(ctx context.Context) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if d.conn != nil {
		d.mu.Unlock()
		conn.Close()
		return errors.New("bridge already connected")
	}
	d.conn = conn
	d.mu.Unlock()

	log.Printf("bridge: tenant %s connected to %s", d.tenant, d.target)
	go d.readLoop(conn)

	return d.call(ctx, driver.Command{Op: driver.OpInitialize})
}

func (d *Driver) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}

	exp := backoff.NewExponentialBackOff()
	if d.cfg.InitialBackoff > 0 {
		exp.InitialInterval = d.cfg.InitialBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.cfg.DialRetries)), ctx)

	var conn *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, resp, err := dialer.DialContext(ctx, d.target, header)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			log.Printf("bridge: tenant %s dial attempt %d failed: %v", d.tenant, attempt, err)
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dial bridge after %d attempts: %w", attempt, err)
	}
	return conn, nil
}

func (d *Driver) readLoop(conn *websocket.Conn) {
	defer func() {
		d.calls.Close()
		conn.Close()
		close(d.done)
		close(d.events)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-d.closing:
			default:
				log.Printf("bridge: tenant %s connection lost: %v", d.tenant, err)
			}
			return
		}

		if rep, ok := driver.ParseReply(data); ok {
			if !d.calls.Resolve(rep) {
				log.Printf("bridge: tenant %s reply for unknown command %d", d.tenant, rep.ID)
			}
			continue
		}

		ev, err := driver.ParseEvent(data)
		if err != nil {
			log.Printf("bridge: tenant %s ignoring frame: %v", d.tenant, err)
			continue
		}

		select {
		case d.events <- ev:
		case <-d.closing:
			return
		}
	}
}

// Logout implements driver.Driver.
func (d *Driver) Logout(ctx context.Context) error {
	return d.call(ctx, driver.Command{Op: driver.OpLogout})
}

// SendMessage implements driver.Driver.
func (d *Driver) SendMessage(ctx context.Context, to, body string) error {
	return d.call(ctx, driver.Command{Op: driver.OpSend, To: to, Body: body})
}

func (d *Driver) call(ctx context.Context, cmd driver.Command) error {
	result, err := d.calls.Begin(&cmd)
	if err != nil {
		return ErrClosed
	}

	if err := d.write(cmd); err != nil {
		d.calls.Forget(cmd.ID)
		return err
	}

	select {
	case err := <-result:
		if errors.Is(err, driver.ErrCallsClosed) {
			return ErrClosed
		}
		if err != nil {
			return fmt.Errorf("bridge %s failed: %w", cmd.Op, err)
		}
		return nil
	case <-ctx.Done():
		d.calls.Forget(cmd.ID)
		return ctx.Err()
	}
}

func (d *Driver) write(cmd driver.Command) error {
	d.mu.Lock()
	conn, closed := d.conn, d.closed
	d.mu.Unlock()
	if conn == nil || closed {
		return ErrClosed
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Op, err)
	}
	return nil
}

// Close sends a shutdown command, closes the connection and waits for the
// read loop to finish. Close is idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		conn := d.conn
		d.mu.Unlock()
		close(d.closing)

		if conn == nil {
			d.calls.Close()
			close(d.done)
			close(d.events)
			return
		}

		d.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteJSON(driver.Command{Op: driver.OpShutdown})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		d.writeMu.Unlock()
		conn.Close()
		<-d.done
	})
	return nil
}
