// Package execdriver runs one helper process per tenant and speaks a line
// protocol with it.
//
// The helper owns the actual headless client. Its stdout and stderr are
// attached to a PTY (headless browsers behave better with a terminal) and
// every output line that parses as a driver event is forwarded. Commands go
// to the helper's stdin as JSON lines:
//
//	{"id":1,"op":"initialize"}
//	{"id":2,"op":"send","to":"15551234567","body":"hi"}
//	{"id":3,"op":"logout"}
//	{"id":4,"op":"shutdown"}
//
// and the helper acknowledges each command except shutdown with
//
//	{"type":"result","id":1}                      success
//	{"type":"result","id":2,"error":"not ready"}  failure
//
// Event lines use the driver.ParseEvent format, for example
// {"type":"qr","data":"1@2,ABC=="}. Anything else is diagnostic output and
// only kept in a short tail for logging.
package execdriver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/pseudocoder/pairgate/internal/driver"
)

const (
	// DefaultTailLines is how many helper output lines are kept for logs.
	DefaultTailLines = 50

	// DefaultStopGrace is how long Close waits for a clean helper exit
	// before killing its process group.
	DefaultStopGrace = 5 * time.Second

	// maxLineBytes bounds a single helper output line.
	maxLineBytes = 1 << 20
)

// ErrClosed is returned by operations on a driver that has been closed or
// whose helper has exited.
var ErrClosed = errors.New("helper not running")

// Config describes the helper command shared by all tenants.
type Config struct {
	// Command is the helper executable.
	Command string

	// Args are passed to every helper.
	Args []string

	// Env is appended to the gateway's environment for every helper.
	Env []string

	// TailLines bounds the diagnostic output kept per helper.
	// Default: DefaultTailLines
	TailLines int

	// StopGrace bounds the clean shutdown wait in Close.
	// Default: DefaultStopGrace
	StopGrace time.Duration
}

// NewFactory returns a driver.Factory that builds helper-backed drivers.
// Construction only allocates; the helper starts in Initialize.
func NewFactory(cfg Config) driver.Factory {
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	return func(dcfg driver.Config) (driver.Driver, error) {
		if cfg.Command == "" {
			return nil, errors.New("helper command not configured")
		}
		return &Driver{
			cfg:     cfg,
			dcfg:    dcfg,
			events:  make(chan driver.Event, 16),
			tail:    newTail(cfg.TailLines),
			calls:   driver.NewCalls(),
			closing: make(chan struct{}),
			exited:  make(chan struct{}),
		}, nil
	}
}

// Driver is a driver.Driver backed by a helper process.
type Driver struct {
	cfg  Config
	dcfg driver.Config

	events chan driver.Event
	tail   *tail
	calls  *driver.Calls

	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	stdin   io.WriteCloser
	started bool
	closed  bool

	closeOnce sync.Once
	closing   chan struct{} // closed when Close begins
	exited    chan struct{} // closed after the helper exited and output drained
}

// Events implements driver.Driver. The channel is closed after the helper
// exits.
func (d *Driver) Events() <-chan driver.Event {
	return d.events
}

// Initialize starts the helper and waits for it to acknowledge the
// initialize command. Pairing and readiness arrive later as events.
func (d *Driver) Initialize(ctx context.Context) error {
	if err := d.start(); err != nil {
		return err
	}
	return d.call(ctx, driver.Command{Op: driver.OpInitialize})
}

// Logout asks the helper to log out of the platform.
func (d *Driver) Logout(ctx context.Context) error {
	return d.call(ctx, driver.Command{Op: driver.OpLogout})
}

// SendMessage asks the helper to send body to the recipient.
func (d *Driver) SendMessage(ctx context.Context, to, body string) error {
	return d.call(ctx, driver.Command{Op: driver.OpSend, To: to, Body: body})
}

func (d *Driver) start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.started {
		return errors.New("helper already started")
	}

	if d.dcfg.CredentialDir != "" {
		if err := os.MkdirAll(d.dcfg.CredentialDir, 0700); err != nil {
			return fmt.Errorf("create credential directory: %w", err)
		}
	}

	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	cmd.Env = append(os.Environ(), d.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"PAIRGATE_TENANT_ID="+d.dcfg.TenantID,
		"PAIRGATE_CREDENTIAL_DIR="+d.dcfg.CredentialDir,
	)
	if d.dcfg.CredentialDir != "" {
		cmd.Dir = d.dcfg.CredentialDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("helper stdin: %w", err)
	}

	// Stdin is already set, so the pty only takes stdout and stderr.
	ptmx, err := pty.StartWithAttrs(cmd, nil, sysProcAttr())
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to start helper: %w", err)
	}

	d.cmd = cmd
	d.ptmx = ptmx
	d.stdin = stdin
	d.started = true

	log.Printf("execdriver: tenant %s helper started (pid %d)", d.dcfg.TenantID, cmd.Process.Pid)

	outputDone := make(chan struct{})
	go d.readOutput(ptmx, outputDone)
	go d.waitForExit(outputDone)
	return nil
}

// readOutput forwards event lines and resolves command replies.
func (d *Driver) readOutput(r io.Reader, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		d.tail.Write(line)

		if !strings.HasPrefix(strings.TrimSpace(line), "{") {
			continue
		}

		if rep, ok := driver.ParseReply([]byte(line)); ok {
			if !d.calls.Resolve(rep) {
				log.Printf("execdriver: tenant %s reply for unknown command %d", d.dcfg.TenantID, rep.ID)
			}
			continue
		}

		ev, err := driver.ParseEvent([]byte(line))
		if err != nil {
			log.Printf("execdriver: tenant %s ignoring helper line: %v", d.dcfg.TenantID, err)
			continue
		}

		select {
		case d.events <- ev:
		case <-d.closing:
			return
		}
	}
	// Reading a pty after the child exits reports EIO rather than EOF.
}

func (d *Driver) waitForExit(outputDone <-chan struct{}) {
	err := d.cmd.Wait()

	// Closing the master ends readOutput if the helper left children
	// holding the pty open.
	d.ptmx.Close()
	<-outputDone

	d.calls.Close()

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()

	if !closed {
		log.Printf("execdriver: tenant %s helper exited unexpectedly: %v", d.dcfg.TenantID, err)
		for _, line := range d.tail.Lines() {
			log.Printf("execdriver: tenant %s | %s", d.dcfg.TenantID, line)
		}
	}

	close(d.exited)
	close(d.events)
}

func (d *Driver) call(ctx context.Context, cmd driver.Command) error {
	d.mu.Lock()
	started, closed, stdin := d.started, d.closed, d.stdin
	d.mu.Unlock()
	if !started || closed {
		return ErrClosed
	}

	result, err := d.calls.Begin(&cmd)
	if err != nil {
		return ErrClosed
	}

	if err := writeCommand(stdin, cmd); err != nil {
		d.calls.Forget(cmd.ID)
		return err
	}

	select {
	case err := <-result:
		if errors.Is(err, driver.ErrCallsClosed) {
			return ErrClosed
		}
		if err != nil {
			return fmt.Errorf("helper %s failed: %w", cmd.Op, err)
		}
		return nil
	case <-ctx.Done():
		d.calls.Forget(cmd.ID)
		return ctx.Err()
	}
}

func writeCommand(w io.Writer, cmd driver.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Op, err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Op, err)
	}
	return nil
}

// Close stops the helper: it asks for a clean shutdown, waits up to
// StopGrace, then kills the helper's process group. Close is idempotent and
// returns after the helper has exited.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		started := d.started
		stdin := d.stdin
		cmd := d.cmd
		d.mu.Unlock()

		close(d.closing)

		if !started {
			close(d.exited)
			close(d.events)
			return
		}

		writeCommand(stdin, driver.Command{Op: driver.OpShutdown})
		stdin.Close()

		select {
		case <-d.exited:
			return
		case <-time.After(d.cfg.StopGrace):
		}

		log.Printf("execdriver: tenant %s helper did not exit, killing process group", d.dcfg.TenantID)
		if kerr := killGroup(cmd.Process); kerr != nil {
			err = fmt.Errorf("kill helper: %w", kerr)
		}
		<-d.exited
	})
	return err
}

// Tail returns the helper's most recent output lines, oldest first.
func (d *Driver) Tail() []string {
	return d.tail.Lines()
}
