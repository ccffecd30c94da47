// Package channel provides concrete message channels for the RPC core.
//
// The protocol core consumes an abstract batch-oriented channel and never
// performs I/O itself. This package supplies the reference implementations:
//
//   - Pair: an in-process endpoint pair, used by tests and same-process
//     wiring
//   - Stream: JSON-framed batches over any io.ReadWriter (pipes, domain
//     sockets, TCP)
//   - WebSocket: one text frame per batch over a gorilla/websocket
//     connection
//
// All channels deliver batches to the registered receiver in send order.
// Batches arriving before a receiver is registered are buffered and drained
// once one is set, so a channel can be constructed before the protocol core
// that consumes it. Delivery runs on a goroutine owned by the channel; it
// starts when the first receiver is registered and stops only at Close, so
// every channel must be closed to release it.
package channel

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("channel closed")

// Option configures a channel constructor.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for read-loop and framing failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) config {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// inbox buffers inbound batches and delivers them, in order, on a dedicated
// goroutine. The goroutine starts lazily with the first receiver, so an
// inbox that never gets one costs nothing, and exits at close.
type inbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	batches [][][]byte
	recv    func([][]byte)
	started bool
	closed  bool
}

func newInbox() *inbox {
	in := &inbox{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

func (in *inbox) put(batch [][]byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.batches = append(in.batches, batch)
	in.cond.Signal()
}

func (in *inbox) setReceiver(fn func([][]byte)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.recv = fn
	if !in.started && !in.closed {
		in.started = true
		go in.loop()
	}
	in.cond.Signal()
}

func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.batches = nil
	in.cond.Broadcast()
}

func (in *inbox) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

func (in *inbox) loop() {
	in.mu.Lock()
	for {
		for !in.closed && (len(in.batches) == 0 || in.recv == nil) {
			in.cond.Wait()
		}
		if in.closed {
			in.mu.Unlock()
			return
		}
		batch := in.batches[0]
		in.batches = in.batches[1:]
		fn := in.recv
		in.mu.Unlock()

		fn(batch)

		in.mu.Lock()
	}
}

// Endpoint is one end of an in-process channel pair.
type Endpoint struct {
	peer *Endpoint
	in   *inbox
}

// Pair creates two linked in-process endpoints. Batches sent on one end are
// delivered to the other in order.
func Pair() (*Endpoint, *Endpoint) {
	a := &Endpoint{in: newInbox()}
	b := &Endpoint{in: newInbox()}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers a batch to the peer endpoint.
func (e *Endpoint) Send(batch [][]byte) error {
	if e.in.isClosed() || e.peer.in.isClosed() {
		return ErrClosed
	}
	e.peer.in.put(batch)
	return nil
}

// SetReceiver registers the inbound batch callback.
func (e *Endpoint) SetReceiver(fn func(batch [][]byte)) {
	e.in.setReceiver(fn)
}

// Close shuts down this end. Sends from either end fail afterwards.
func (e *Endpoint) Close() error {
	e.in.close()
	return nil
}
