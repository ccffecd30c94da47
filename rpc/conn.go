// Package rpc implements the bidirectional proxy RPC protocol core.
//
// A Conn is one side of a two-party session. It owns the actor table, the
// proxy cache, and the outstanding-call table, and drives the request/reply
// state machine over an abstract MessageChannel. Protocol logic is
// transport-neutral: the Conn never performs I/O beyond handing batches to
// the channel.
//
// # Call lifecycle
//
// A proxy call allocates a strictly increasing call id, registers a pending
// deferred result, and hands an encoded request to the outbound multiplexer,
// which coalesces it with every other message produced in the same burst
// into a single channel send. The peer resolves the actor and method,
// invokes the handler, and sends back exactly one reply (ok or error)
// correlated by the call id. The originating Conn settles the deferred by
// id. Two in-flight calls are independent and may settle in any order.
//
// # Disposal
//
// Dispose force-settles every outstanding deferred with a cancellation
// failure and short-circuits all entry points: subsequent calls fail
// immediately with cancellation and nothing is transmitted. Stray replies
// for unknown call ids and messages with unknown discriminants are dropped,
// never fatal.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/jckouame/proxyrpc/ident"
	"github.com/jckouame/proxyrpc/mux"
	"github.com/jckouame/proxyrpc/promise"
	"github.com/jckouame/proxyrpc/wire"
)

var (
	// ErrDisposed is wrapped into the cancellation failure of every call
	// settled by disposal, and of any call attempted afterwards. Waiters
	// match it with errors.Is alongside promise.ErrCanceled.
	ErrDisposed = errors.New("rpc connection disposed")
	// ErrNoDetails rejects a call whose error reply carried no structured
	// details (an explicit null err on the wire).
	ErrNoDetails = errors.New("remote call failed with no details")
)

// MessageChannel is the abstract transport the core consumes: an ordered,
// reliable, bidirectional carrier of message batches. The core never assumes
// how a batch reaches the peer.
type MessageChannel interface {
	// Send transmits one batch of raw messages to the peer.
	Send(batch [][]byte) error
	// SetReceiver registers the callback fired with each inbound batch.
	SetReceiver(fn func(batch [][]byte))
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithScheduler overrides the outbound flush scheduler. Tests and explicit
// processing loops use this for deterministic batching.
func WithScheduler(s mux.Scheduler) Option {
	return func(c *Conn) { c.sched = s }
}

// Conn is one side of a proxy RPC session. All state is private per
// instance; nothing is shared across connections.
type Conn struct {
	id     uuid.UUID
	logger *slog.Logger
	sched  mux.Scheduler
	out    *mux.Mux

	mu         sync.Mutex
	disposed   bool
	nextCallID uint64
	actors     map[string]Actor
	proxies    map[string]*Proxy
	pending    map[string]*promise.Deferred
	inflight   map[string]context.CancelFunc
}

// New creates a Conn bound to the given channel and starts receiving.
func New(ch MessageChannel, opts ...Option) *Conn {
	c := &Conn{
		id:       uuid.New(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		actors:   make(map[string]Actor),
		proxies:  make(map[string]*Proxy),
		pending:  make(map[string]*promise.Deferred),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn", c.id)

	muxOpts := []mux.Option{mux.WithLogger(c.logger)}
	if c.sched != nil {
		muxOpts = append(muxOpts, mux.WithScheduler(c.sched))
	}
	c.out = mux.New(ch.Send, muxOpts...)
	ch.SetReceiver(c.receiveBatch)
	return c
}

// ID returns the session id used in log records.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// RegisterActor exposes an actor to the peer under the given identifier.
// Entries live for the lifetime of the session.
func (c *Conn) RegisterActor(id ident.Identifier, a Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actors[id.String()] = a
}

// GetProxy returns the proxy for an identifier, synthesizing it on first
// request. One proxy exists per identifier per session.
func (c *Conn) GetProxy(id ident.Identifier) *Proxy {
	key := id.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.proxies[key]; ok {
		return p
	}
	p := &Proxy{conn: c, id: id}
	c.proxies[key] = p
	return p
}

// Disposed reports whether the connection has been disposed.
func (c *Conn) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose cancels every outstanding call, interrupts in-flight handlers,
// invalidates the proxy cache, and short-circuits all future entry points.
// It is idempotent and never transmits.
func (c *Conn) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	inflight := c.inflight
	c.pending = make(map[string]*promise.Deferred)
	c.inflight = make(map[string]context.CancelFunc)
	c.proxies = make(map[string]*Proxy)
	c.mu.Unlock()

	c.out.Close()
	for _, d := range pending {
		d.CancelWith(ErrDisposed)
	}
	for _, cancel := range inflight {
		cancel()
	}
	c.logger.Debug("disposed", "canceled_calls", len(pending))
}

// call is the single path every proxy method routes through. It returns the
// deferred result; a disposed connection yields an already-canceled deferred
// without registering or transmitting anything.
func (c *Conn) call(proxyID, method string, args []any) *promise.Deferred {
	d := promise.NewDeferred()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		d.CancelWith(ErrDisposed)
		return d
	}
	c.nextCallID++
	callID := strconv.FormatUint(c.nextCallID, 10)
	c.pending[callID] = d
	c.mu.Unlock()

	data, err := wire.EncodeRequest(callID, proxyID, method, args)
	if err != nil {
		c.unregister(callID)
		d.Reject(fmt.Errorf("encode request: %w", err))
		return d
	}
	if err := c.out.Send(data); err != nil {
		c.unregister(callID)
		if errors.Is(err, mux.ErrClosed) {
			d.CancelWith(ErrDisposed)
		} else {
			d.Reject(fmt.Errorf("send request: %w", err))
		}
		return d
	}
	return d
}

// unregister removes a pending entry, if still present.
func (c *Conn) unregister(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, callID)
}

// takePending removes and returns the pending entry for a call id.
func (c *Conn) takePending(callID string) (*promise.Deferred, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	return d, ok
}

func (c *Conn) receiveBatch(batch [][]byte) {
	for _, data := range batch {
		c.receive(data)
	}
}

func (c *Conn) receive(data []byte) {
	if c.Disposed() {
		return
	}

	m, err := wire.Decode(data)
	if err != nil {
		// Unknown discriminants signal version skew, malformed payloads a
		// broken peer; neither fails the session.
		c.logger.Debug("dropping undecodable message", "err", err)
		return
	}

	switch m.Kind {
	case wire.KindRequest:
		c.handleRequest(m)
	case wire.KindReply:
		c.handleReply(m)
	case wire.KindReplyErr:
		c.handleReplyErr(m)
	}
}

func (c *Conn) handleRequest(m *wire.Message) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	actor, ok := c.actors[m.ProxyID]
	if !ok {
		c.mu.Unlock()
		c.sendReplyErr(m.ID, &wire.RemoteError{
			Name:    "Error",
			Message: fmt.Sprintf("Unknown actor %s", m.ProxyID),
		})
		return
	}
	handler, ok := actor.LookupMethod(m.Method)
	if !ok {
		c.mu.Unlock()
		c.sendReplyErr(m.ID, &wire.RemoteError{
			Name:    "Error",
			Message: fmt.Sprintf("Unknown method %s on actor %s", m.Method, m.ProxyID),
		})
		return
	}

	if _, exists := c.inflight[m.ID]; exists {
		// A duplicate of an in-flight call id would orphan the first
		// invocation's bookkeeping; the original still gets its one reply.
		c.mu.Unlock()
		c.logger.Debug("dropping request reusing in-flight call id", "call", m.ID)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.inflight[m.ID] = cancel
	c.mu.Unlock()

	go c.invoke(ctx, m.ID, handler, m.Args)
}

// invoke runs a handler and sends back exactly one reply. Panics are
// recovered and normalized into the same failure path as returned errors, so
// callers cannot distinguish a synchronous throw from an asynchronous one.
func (c *Conn) invoke(ctx context.Context, callID string, handler Handler, args []any) {
	defer func() {
		c.mu.Lock()
		cancel, ok := c.inflight[callID]
		if ok {
			delete(c.inflight, callID)
		}
		c.mu.Unlock()
		if ok {
			cancel()
		}
	}()

	var result any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &wire.RemoteError{
					Name:    "Error",
					Message: fmt.Sprint(r),
					Stack:   string(debug.Stack()),
				}
			}
		}()
		result, err = handler(ctx, args)
	}()

	if err != nil {
		c.sendReplyErr(callID, err)
		return
	}
	c.sendReply(callID, result)
}

func (c *Conn) sendReply(callID string, result any) {
	data, err := wire.EncodeReply(callID, result, result != nil)
	if err != nil {
		// The handler produced a non-serializable value; report that to the
		// caller instead of leaving the call unanswered.
		c.sendReplyErr(callID, fmt.Errorf("encode result: %w", err))
		return
	}
	if err := c.out.Send(data); err != nil {
		c.logger.Debug("dropping reply", "call", callID, "err", err)
	}
}

func (c *Conn) sendReplyErr(callID string, callErr error) {
	data, err := wire.EncodeReplyErr(callID, callErr)
	if err != nil {
		c.logger.Error("encode reply-err failed", "call", callID, "err", err)
		return
	}
	if err := c.out.Send(data); err != nil {
		c.logger.Debug("dropping reply-err", "call", callID, "err", err)
	}
}

func (c *Conn) handleReply(m *wire.Message) {
	d, ok := c.takePending(m.ID)
	if !ok {
		// Stray or duplicate reply, possibly delivered after disposal.
		c.logger.Debug("dropping reply for unknown call", "call", m.ID)
		return
	}
	if m.HasResult {
		d.Resolve(m.Result)
		return
	}
	d.Resolve(nil)
}

func (c *Conn) handleReplyErr(m *wire.Message) {
	d, ok := c.takePending(m.ID)
	if !ok {
		c.logger.Debug("dropping error reply for unknown call", "call", m.ID)
		return
	}
	if m.Err == nil {
		d.Reject(ErrNoDetails)
		return
	}
	d.Reject(m.Err)
}
