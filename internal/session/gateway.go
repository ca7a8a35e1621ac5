// Package session implements the per-tenant session core of the gateway:
// the pairing channel, the handle registry, the lifecycle controller and
// the Gateway operations built on them.
//
// Start reserves a handle and returns immediately; the driver is built and
// initialized in the background and every later change arrives as a driver
// event. Status and pairing reads never touch the driver.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pseudocoder/pairgate/internal/driver"
	apperrors "github.com/pseudocoder/pairgate/internal/errors"
	"github.com/pseudocoder/pairgate/internal/tenant"
)

// StartStatus is the informational result of Start.
type StartStatus string

const (
	// StartStarting means a new handle was created and the driver is
	// initializing in the background.
	StartStarting StartStatus = "starting"

	// StartAlreadyActive means the tenant already had a live handle.
	StartAlreadyActive StartStatus = "already-active"
)

// StartResult is returned by Start.
type StartResult struct {
	Status     StartStatus `json:"status"`
	State      State       `json:"state"`
	Generation string      `json:"generation"`
}

// Config configures a Gateway.
type Config struct {
	// Factory builds a driver for each new handle. Required.
	Factory driver.Factory

	// CredentialRoot is the directory under which each tenant's driver
	// persists credentials. Required.
	CredentialRoot string

	// MaxSessions limits live handles. 0 selects DefaultMaxSessions.
	MaxSessions int

	// Recorder receives every applied transition. Optional.
	Recorder TransitionRecorder

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Gateway exposes the session operations used by the HTTP layer and CLI.
type Gateway struct {
	config   Config
	registry *Registry

	baseCtx    context.Context
	cancelBase context.CancelFunc
	closing    atomic.Bool
	wg         sync.WaitGroup

	// startMu orders Start's wg.Add against Shutdown's wg.Wait.
	startMu sync.RWMutex
}

// NewGateway creates a Gateway with an empty registry.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Factory == nil {
		return nil, errors.New("driver factory required")
	}
	if cfg.CredentialRoot == "" {
		return nil, errors.New("credential root required")
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}

	registry := NewRegistry(cfg.MaxSessions)
	registry.timeNow = cfg.TimeNow

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:     cfg,
		registry:   registry,
		baseCtx:    ctx,
		cancelBase: cancel,
	}, nil
}

// Registry returns the gateway's registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Start ensures the tenant has a live session. A new handle starts in
// INITIALIZING and its driver is built and initialized asynchronously;
// failures surface later through Status, never through Start.
func (g *Gateway) Start(ctx context.Context, tenantID string) (StartResult, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return StartResult{}, err
	}
	g.startMu.RLock()
	defer g.startMu.RUnlock()
	if g.closing.Load() {
		return StartResult{}, apperrors.ShuttingDown()
	}

	h, created, err := g.registry.CreateIfAbsent(tenantID)
	if err != nil {
		if errors.Is(err, ErrMaxSessionsReached) {
			return StartResult{}, apperrors.New(apperrors.CodeSessionLimitReached,
				fmt.Sprintf("session limit of %d reached", g.registry.MaxSessions()))
		}
		return StartResult{}, apperrors.Internal("reserve session", err)
	}

	if !created {
		snap := h.Snapshot()
		return StartResult{Status: StartAlreadyActive, State: snap.State, Generation: snap.Generation}, nil
	}

	log.Printf("session: tenant %s starting (generation %s)", tenantID, h.Generation)
	g.record(h, "", StateInitializing, "start", "")

	g.wg.Add(1)
	go g.launch(h)

	return StartResult{Status: StartStarting, State: StateInitializing, Generation: h.Generation}, nil
}

// launch builds the driver, starts its controller and runs Initialize.
func (g *Gateway) launch(h *Handle) {
	defer g.wg.Done()

	fail := func(cause error) {
		c := newController(h, nil, g.registry, g.config.Recorder, g.config.TimeNow)
		c.terminate(StateFailed, string(driver.EventInitError), cause.Error())
	}

	credDir, err := tenant.CredentialDir(g.config.CredentialRoot, h.TenantID)
	if err != nil {
		fail(err)
		return
	}

	drv, err := g.config.Factory(driver.Config{TenantID: h.TenantID, CredentialDir: credDir})
	if err != nil {
		log.Printf("session: tenant %s driver construction failed: %v", h.TenantID, err)
		fail(err)
		return
	}

	ctx, cancel := context.WithCancel(g.baseCtx)
	c := newController(h, drv, g.registry, g.config.Recorder, g.config.TimeNow)
	if !h.attach(drv, c, cancel) {
		cancel()
		drv.Close()
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		c.run()
	}()

	if g.closing.Load() {
		c.submit(context.Background(), controlEvent{kind: controlShutdown, reason: eventShutdown})
		return
	}

	if err := drv.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			// The handle already ended and cancelled initialization.
			return
		}
		log.Printf("session: tenant %s driver initialization failed: %v", h.TenantID, err)
		c.submit(context.Background(), controlEvent{kind: controlInitError, reason: err.Error()})
	}
}

// Status returns the tenant's current state. A tenant without a live handle
// reports the terminal state its last session ended in, or NOT_INITIALIZED
// if it never had one.
func (g *Gateway) Status(tenantID string) (Snapshot, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return Snapshot{}, err
	}
	if h, ok := g.registry.Get(tenantID); ok {
		return h.Snapshot(), nil
	}
	if snap, ok := g.registry.Ended(tenantID); ok {
		return snap, nil
	}
	return Snapshot{TenantID: tenantID, State: StateNotInitialized}, nil
}

// PairingPayload returns the current pairing payload without blocking.
// It fails with session.not_found if the tenant has no live handle and with
// pairing.not_available if the handle is not waiting for a scan.
func (g *Gateway) PairingPayload(tenantID string) (string, uint64, error) {
	h, err := g.live(tenantID)
	if err != nil {
		return "", 0, err
	}

	h.mu.Lock()
	state := h.state
	payload, version, ok := h.pairing.Snapshot()
	h.mu.Unlock()

	if state != StateQRPending || !ok {
		return "", version, apperrors.PairingNotAvailable(tenantID)
	}
	return payload, version, nil
}

// AwaitPairing blocks until a payload newer than afterVersion is published,
// the timeout expires or ctx is cancelled. It resolves exactly once.
func (g *Gateway) AwaitPairing(ctx context.Context, tenantID string, afterVersion uint64, timeout time.Duration) (string, uint64, error) {
	h, err := g.live(tenantID)
	if err != nil {
		return "", 0, err
	}

	payload, version, err := h.pairing.AwaitNext(ctx, afterVersion, timeout)
	switch {
	case err == nil:
		return payload, version, nil
	case errors.Is(err, ErrPairingTimeout):
		return "", version, apperrors.PairingTimeout(tenantID)
	case errors.Is(err, ErrPairingClosed):
		return "", version, apperrors.PairingClosed(tenantID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller stopped waiting; report it as a timeout.
		return "", version, apperrors.PairingTimeout(tenantID)
	default:
		return "", version, err
	}
}

// Logout logs an authenticated tenant out: it runs the driver's logout,
// then applies LOGGED_OUT, which releases the driver and removes the handle.
// It returns after the handle is gone.
func (g *Gateway) Logout(ctx context.Context, tenantID string) error {
	h, err := g.live(tenantID)
	if err != nil {
		return err
	}

	state, ok := h.beginLogout()
	if !ok {
		return apperrors.InvalidState(tenantID, string(state), "logout")
	}

	c := h.controller()
	drv := h.driver()
	if c == nil || drv == nil {
		return apperrors.InvalidState(tenantID, string(state), "logout")
	}

	reason := ""
	if err := drv.Logout(ctx); err != nil {
		log.Printf("session: tenant %s driver logout failed, releasing anyway: %v", tenantID, err)
		reason = apperrors.DriverLogoutFailed(tenantID, err).Error()
	}

	// The driver is already logged out; LOGGED_OUT must be applied even if
	// the caller has gone away.
	c.submit(context.Background(), controlEvent{kind: controlLogout, reason: reason})

	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send relays an outbound message through the tenant's driver. Only READY
// sessions accept messages.
func (g *Gateway) Send(ctx context.Context, tenantID, to, body string) error {
	h, err := g.live(tenantID)
	if err != nil {
		return err
	}
	if to == "" || body == "" {
		return apperrors.InvalidRequest("recipient and body are required")
	}

	if state := h.State(); state != StateReady {
		return apperrors.InvalidState(tenantID, string(state), "send messages for")
	}
	drv := h.driver()
	if drv == nil {
		return apperrors.InvalidState(tenantID, string(h.State()), "send messages for")
	}
	if err := drv.SendMessage(ctx, to, body); err != nil {
		return apperrors.DriverSendFailed(tenantID, err)
	}
	return nil
}

// List returns snapshots of all live sessions.
func (g *Gateway) List() []Snapshot {
	return g.registry.List()
}

// Shutdown ends every live session with DISCONNECTED("shutdown") and waits
// for all drivers to be released or ctx to expire. Start fails afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.startMu.Lock()
	first := g.closing.CompareAndSwap(false, true)
	g.startMu.Unlock()
	if !first {
		return nil
	}

	handles := g.registry.Handles()
	log.Printf("session: shutting down %d sessions", len(handles))

	for _, h := range handles {
		if c := h.controller(); c != nil {
			c.submit(ctx, controlEvent{kind: controlShutdown, reason: eventShutdown})
		}
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancelBase()
		return nil
	case <-ctx.Done():
		g.cancelBase()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (g *Gateway) live(tenantID string) (*Handle, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return nil, err
	}
	h, ok := g.registry.Get(tenantID)
	if !ok {
		return nil, apperrors.SessionNotFound(tenantID)
	}
	return h, nil
}

func (g *Gateway) record(h *Handle, from, to State, event, reason string) {
	if g.config.Recorder == nil {
		return
	}
	g.config.Recorder.RecordTransition(Transition{
		TenantID:   h.TenantID,
		Generation: h.Generation,
		From:       from,
		To:         to,
		Event:      event,
		Reason:     reason,
		At:         g.config.TimeNow(),
	})
}
