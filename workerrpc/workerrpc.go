// Package workerrpc defines the message envelope used when a
// database is hosted in a child process and driven over a pipe or
// socket: each user call maps to one Request/Response pair keyed by
// ID, with unmatched responses older than the timeout synthesizing a
// WorkerTimeout error. Wiring an actual transport is outside this
// package; it defines the wire shapes and the timeout bookkeeping
// only.
package workerrpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the RPC call a Request carries.
type Type string

const (
	TypeInsert  Type = "insert"
	TypeUpdate  Type = "update"
	TypeRemove  Type = "remove"
	TypeFind    Type = "find"
	TypeClear   Type = "clear"
	TypeClean   Type = "clean"
	TypeDrop    Type = "drop"
	TypeCounter Type = "counter"
)

// Request is one outbound call to the worker process.
type Request struct {
	ID    string `json:"id"`
	Type  Type   `json:"type"`
	Name  string `json:"name"`
	Table bool   `json:"table,omitempty"`
	Arg   []any  `json:"arg,omitempty"`
	Data  string `json:"data,omitempty"` // stringified QueryBuilder
}

// Response is the worker's reply to a Request carrying the same ID.
type Response struct {
	Type       Type   `json:"type"`
	ID         string `json:"id"`
	Err        string `json:"err,omitempty"`
	Response   any    `json:"response,omitempty"`
	Count      int    `json:"count,omitempty"`
	Repository string `json:"repository,omitempty"`
}

// ErrWorkerTimeout is synthesized for a Request whose Response never
// arrived within the timeout window.
var ErrWorkerTimeout = fmt.Errorf("workerrpc: no response within timeout")

// DefaultTimeout is the 60-second ceiling a worker/RPC wrapper
// imposes on unmatched requests.
const DefaultTimeout = 60 * time.Second

// NewRequest returns a Request with a fresh ID.
func NewRequest(t Type, name string, table bool, arg []any, data string) Request {
	return Request{ID: uuid.NewString(), Type: t, Name: name, Table: table, Arg: arg, Data: data}
}

// PendingCallback receives the eventual Response for one Request, or
// a synthesized timeout Response if none arrives in time.
type PendingCallback func(Response)

// Tracker matches outbound Requests to inbound Responses by ID and
// synthesizes a WorkerTimeout Response for any Request whose answer
// doesn't arrive within timeout.
type Tracker struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]pendingCall
}

type pendingCall struct {
	req     Request
	cb      PendingCallback
	timer   *time.Timer
}

// NewTracker returns a Tracker using timeout (DefaultTimeout if
// zero).
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{timeout: timeout, pending: make(map[string]pendingCall)}
}

// Track registers req, invoking cb exactly once: either with the
// matching Response passed to Resolve, or with a synthesized timeout
// Response if Resolve isn't called in time.
func (t *Tracker) Track(req Request, cb PendingCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer := time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		call, ok := t.pending[req.ID]
		if ok {
			delete(t.pending, req.ID)
		}
		t.mu.Unlock()
		if ok {
			call.cb(Response{Type: req.Type, ID: req.ID, Err: ErrWorkerTimeout.Error()})
		}
	})
	t.pending[req.ID] = pendingCall{req: req, cb: cb, timer: timer}
}

// Resolve delivers resp to the Track call registered under resp.ID,
// if any is still pending. A late or duplicate Resolve is a no-op.
func (t *Tracker) Resolve(resp Response) {
	t.mu.Lock()
	call, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	call.timer.Stop()
	call.cb(resp)
}

// Pending reports how many requests are still awaiting a response.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
