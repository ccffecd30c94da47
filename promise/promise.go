// Package promise provides one-shot broadcast deferred results.
//
// A Deferred is a settlement cell that can be resolved or rejected strictly
// once, usable before its settlement logic is known. Remote-call completion
// is learned asynchronously, so the caller must receive an awaitable value
// before the network round trip finishes; the Deferred is that value.
//
// Any number of goroutines may wait on the same Deferred, before or after
// settlement, and all observe the same terminal outcome. Settlement is
// broadcast through a closed channel, so waiters can also select on Done()
// to race a Deferred against timeouts or other events.
package promise

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCanceled is the terminal failure of a canceled Deferred.
	ErrCanceled = errors.New("deferred canceled")
	// ErrPending is returned by Result when the Deferred is not yet settled.
	ErrPending = errors.New("deferred still pending")

	// errNoCause substitutes for a nil rejection error so waiters always
	// receive a non-nil failure.
	errNoCause = errors.New("deferred rejected with no details")
)

// State is the settlement state of a Deferred.
type State int

const (
	// Pending means the Deferred has not been settled.
	Pending State = iota
	// Resolved means the Deferred settled with a value.
	Resolved
	// Rejected means the Deferred settled with an error.
	Rejected
	// Canceled means the Deferred was force-settled with ErrCanceled.
	Canceled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Resolved:
		return "Resolved"
	case Rejected:
		return "Rejected"
	case Canceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Deferred is a one-shot broadcast settlement cell. The zero value is not
// usable; call NewDeferred.
type Deferred struct {
	mu    sync.Mutex
	state State
	value any
	err   error
	done  chan struct{}
}

// NewDeferred creates a pending Deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// settle performs the one-way Pending transition. Calls after the first are
// no-ops.
func (d *Deferred) settle(state State, value any, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Pending {
		return
	}
	d.state = state
	d.value = value
	d.err = err
	close(d.done)
}

// Resolve settles the Deferred with a value. Ignored after settlement.
func (d *Deferred) Resolve(value any) {
	d.settle(Resolved, value, nil)
}

// Reject settles the Deferred with an error. Ignored after settlement.
func (d *Deferred) Reject(err error) {
	if err == nil {
		err = errNoCause
	}
	d.settle(Rejected, nil, err)
}

// Cancel force-settles the Deferred with ErrCanceled. Ignored after
// settlement.
func (d *Deferred) Cancel() {
	d.settle(Canceled, nil, ErrCanceled)
}

// CancelWith force-settles the Deferred with a failure that wraps both
// ErrCanceled and cause, so waiters can match either with errors.Is. The
// state is Canceled. A nil cause behaves like Cancel. Ignored after
// settlement.
func (d *Deferred) CancelWith(cause error) {
	if cause == nil {
		d.Cancel()
		return
	}
	d.settle(Canceled, nil, fmt.Errorf("%w: %w", ErrCanceled, cause))
}

// Done returns a channel that is closed when the Deferred settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// State returns the current settlement state.
func (d *Deferred) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Result returns the terminal outcome. Before settlement it returns
// ErrPending; prefer Wait or Done unless settlement is already known.
func (d *Deferred) Result() (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Pending {
		return nil, ErrPending
	}
	return d.value, d.err
}

// Wait blocks until the Deferred settles or ctx is done, and returns the
// terminal outcome. A canceled Deferred yields ErrCanceled.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
