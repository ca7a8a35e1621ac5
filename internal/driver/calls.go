package driver

import (
	"encoding/json"
	"errors"
	"sync"
)

// Command is a request from the gateway to a driver helper or bridge. Every
// command except shutdown is acknowledged with a Reply carrying the same ID.
type Command struct {
	ID   uint64 `json:"id,omitempty"`
	Op   string `json:"op"`
	To   string `json:"to,omitempty"`
	Body string `json:"body,omitempty"`
}

// Command operations.
const (
	OpInitialize = "initialize"
	OpSend       = "send"
	OpLogout     = "logout"
	OpShutdown   = "shutdown"
)

// Reply acknowledges a Command. A non-empty Error means the command failed.
type Reply struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id"`
	Error string `json:"error,omitempty"`
}

// replyType marks reply lines so they can share a stream with events.
const replyType = "result"

// ErrCallsClosed is returned for calls pending when the transport ended.
var ErrCallsClosed = errors.New("driver transport closed")

// ParseReply reports whether data is a command reply and decodes it.
func ParseReply(data []byte) (Reply, bool) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil || r.Type != replyType {
		return Reply{}, false
	}
	return r, true
}

// Calls tracks in-flight commands until their replies arrive.
type Calls struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan error
	closed  bool
}

// NewCalls returns an empty call table.
func NewCalls() *Calls {
	return &Calls{pending: make(map[uint64]chan error)}
}

// Begin assigns cmd an ID and registers it. The returned channel receives
// exactly one result.
func (c *Calls) Begin(cmd *Command) (<-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCallsClosed
	}
	c.nextID++
	cmd.ID = c.nextID
	ch := make(chan error, 1)
	c.pending[cmd.ID] = ch
	return ch, nil
}

// Resolve delivers r to its call. It reports false for unknown IDs.
func (c *Calls) Resolve(r Reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[r.ID]
	delete(c.pending, r.ID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	if r.Error != "" {
		ch <- errors.New(r.Error)
		return true
	}
	ch <- nil
	return true
}

// Forget drops a call whose caller gave up.
func (c *Calls) Forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Close fails every pending call with ErrCallsClosed and rejects new ones.
func (c *Calls) Close() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan error)
	c.closed = true
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrCallsClosed
	}
}
