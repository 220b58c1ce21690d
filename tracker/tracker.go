// Package tracker correlates outgoing requests with their replies.
//
// Each outstanding request is one entry keyed by its RequestID. An entry
// starts Pending and is resolved exactly once, by whichever comes first: a
// matching reply, its deadline, or a cancellation. Resolution removes the
// entry from the table before the outcome is delivered, so a late reply for
// the same id finds nothing and is dropped.
//
//	Register(id) ──► Pending ──Resolve(RESULT)────────► Fulfilled
//	                    │    ──Resolve(FAILURE|ERROR)─► Failed
//	                    │    ──deadline──────────────► TimedOut  + onCancel(id)
//	                    └──────Cancel / ctx done─────► Cancelled + onCancel(id)
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

type State int

const (
	Pending State = iota
	Fulfilled
	TimedOut
	Cancelled
	Failed
)

var stateNames = [...]string{"PENDING", "FULFILLED", "TIMED_OUT", "CANCELLED", "FAILED"}

func (s State) String() string {
	if s >= Pending && s <= Failed {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Outcome is the terminal result of one request.
type Outcome struct {
	State State
	Value any
	Err   error
}

type entry struct {
	id   message.RequestID
	done chan Outcome // buffered; receives exactly one Outcome

	mu       sync.Mutex
	timer    *time.Timer
	finished bool
}

func (e *entry) stop() {
	e.mu.Lock()
	e.finished = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// Tracker holds the table of pending requests. It is safe for concurrent use.
type Tracker struct {
	pending  sync.Map // map[message.RequestID]*entry
	onCancel func(message.RequestID)
}

// New creates a Tracker. onCancel, if non-nil, is called once for every
// request that times out or is cancelled while pending; the peer uses it to
// emit a best-effort CANCEL message.
func New(onCancel func(message.RequestID)) *Tracker {
	return &Tracker{onCancel: onCancel}
}

// Register starts tracking id. A timeout > 0 arms a deadline. Registering an
// id that is still pending fails with rpcerr.ErrDuplicateRequest.
func (t *Tracker) Register(id message.RequestID, timeout time.Duration) (*Call, error) {
	e := &entry{id: id, done: make(chan Outcome, 1)}
	if _, loaded := t.pending.LoadOrStore(id, e); loaded {
		return nil, errors.Wrapf(rpcerr.ErrDuplicateRequest, "%s", id)
	}

	if timeout > 0 {
		e.mu.Lock()
		if !e.finished {
			e.timer = time.AfterFunc(timeout, func() { t.expire(e, timeout) })
		}
		e.mu.Unlock()
	}
	return &Call{t: t, e: e}, nil
}

// finish resolves e if it is still the pending entry for its id.
func (t *Tracker) finish(e *entry, o Outcome) bool {
	if !t.pending.CompareAndDelete(e.id, e) {
		return false
	}
	e.stop()
	e.done <- o
	return true
}

func (t *Tracker) finishID(id message.RequestID, o Outcome) bool {
	v, ok := t.pending.Load(id)
	if !ok {
		return false
	}
	return t.finish(v.(*entry), o)
}

func (t *Tracker) emitCancel(id message.RequestID) {
	if t.onCancel != nil {
		t.onCancel(id)
	}
}

func (t *Tracker) expire(e *entry, timeout time.Duration) {
	err := errors.Wrapf(rpcerr.ErrTimeout, "%s: no reply after %s", e.id, timeout)
	if t.finish(e, Outcome{State: TimedOut, Err: err}) {
		t.emitCancel(e.id)
	}
}

// Resolve settles the pending request matching a RESULT, FAILURE or ERROR
// reply. It returns false when no request with that id is pending, or msg is
// not a reply; the caller drops such messages.
func (t *Tracker) Resolve(msg *message.RPCMessage) bool {
	var o Outcome
	switch msg.Type {
	case message.TypeResult:
		o = Outcome{State: Fulfilled, Value: msg.Body}
	case message.TypeFailure, message.TypeError:
		md, _ := msg.Metadata.(message.ErrorMetadata)
		o = Outcome{State: Failed, Err: &rpcerr.RemoteError{
			Kind:      int(msg.Type),
			Method:    msg.Method,
			Name:      md.Name,
			Traceback: md.Traceback,
		}}
	default:
		return false
	}
	return t.finishID(msg.ID(), o)
}

// Cancel abandons a pending request and emits its cancellation.
func (t *Tracker) Cancel(id message.RequestID) bool {
	err := errors.Wrapf(rpcerr.ErrCancelled, "%s", id)
	if t.finishID(id, Outcome{State: Cancelled, Err: err}) {
		t.emitCancel(id)
		return true
	}
	return false
}

// Fail resolves a pending request with err without emitting a cancellation,
// e.g. when the request could not be sent at all.
func (t *Tracker) Fail(id message.RequestID, err error) bool {
	return t.finishID(id, Outcome{State: Failed, Err: err})
}

// FailAll resolves every pending request with err.
func (t *Tracker) FailAll(err error) int {
	n := 0
	t.pending.Range(func(_, v any) bool {
		if t.finish(v.(*entry), Outcome{State: Failed, Err: err}) {
			n++
		}
		return true
	})
	return n
}

// Pending reports whether id is awaiting resolution.
func (t *Tracker) Pending(id message.RequestID) bool {
	_, ok := t.pending.Load(id)
	return ok
}

// Len returns the number of pending requests.
func (t *Tracker) Len() int {
	n := 0
	t.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Call is the caller's handle on one pending request.
type Call struct {
	t *Tracker
	e *entry
}

func (c *Call) ID() message.RequestID { return c.e.id }

// Outcome waits for the request to resolve. If ctx ends first the request is
// resolved as TimedOut (deadline) or Cancelled and a cancellation is emitted;
// a reply that wins the race is still returned.
func (c *Call) Outcome(ctx context.Context) Outcome {
	select {
	case o := <-c.e.done:
		return o
	case <-ctx.Done():
	}

	o := Outcome{State: Cancelled, Err: errors.Wrapf(rpcerr.ErrCancelled, "%s: %v", c.e.id, ctx.Err())}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o = Outcome{State: TimedOut, Err: errors.Wrapf(rpcerr.ErrTimeout, "%s: %v", c.e.id, ctx.Err())}
	}
	if c.t.finish(c.e, o) {
		c.t.emitCancel(c.e.id)
	}
	return <-c.e.done
}

// Wait is Outcome reduced to the decoded value or the error.
func (c *Call) Wait(ctx context.Context) (any, error) {
	o := c.Outcome(ctx)
	return o.Value, o.Err
}
