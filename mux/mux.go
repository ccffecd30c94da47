// Package mux batches outbound RPC messages and fans inbound batches out.
//
// Per-message transport writes are prohibitively chatty under high call
// volume, for example when many small notifications fire in one event tick.
// The Mux amortizes transport overhead by coalescing every message produced
// within one synchronous burst into a single batched send, while preserving
// per-message ordering: messages within a batch arrive in program order, and
// batches sent in sequence arrive in sequence on an ordered transport.
//
// A flush is never synchronous with Send. When the outbound queue
// transitions from empty to non-empty, exactly one flush is scheduled
// through the configured Scheduler; it runs strictly after the current burst
// of sends. The default scheduler hands the flush to a fresh goroutine,
// which is the closest Go analog of a next-tick boundary. Tests and
// single-threaded processing loops can inject their own scheduler and drive
// Flush explicitly.
package mux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Send after the Mux is closed.
var ErrClosed = errors.New("multiplexer closed")

// Sender transmits one batch of encoded messages to the peer.
type Sender func(batch [][]byte) error

// Handler consumes one inbound message.
type Handler func(msg []byte)

// Scheduler defers a flush until after the current burst of synchronous
// sends. Implementations must run the flush exactly once per scheduling
// request and must not run it synchronously.
type Scheduler func(flush func())

// Option configures a Mux.
type Option func(*Mux)

// WithScheduler replaces the default goroutine scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Mux) { m.sched = s }
}

// WithLogger sets the logger used for dropped messages and flush failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.logger = l }
}

// Mux coalesces outbound messages into batched sends and delivers inbound
// batches message by message.
type Mux struct {
	send   Sender
	sched  Scheduler
	logger *slog.Logger

	mu        sync.Mutex
	queue     [][]byte
	scheduled bool
	closed    bool

	handler Handler
}

// New creates a Mux that transmits batches through send.
func New(send Sender, opts ...Option) *Mux {
	m := &Mux{
		send:   send,
		sched:  func(flush func()) { go flush() },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHandler sets the per-message callback for inbound delivery. Messages
// received while no handler is set are dropped.
func (m *Mux) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Send appends a message to the outbound queue. If the queue was empty, a
// flush is scheduled; it runs after the current synchronous burst, so all
// messages sent within the burst share one transport write.
func (m *Mux) Send(msg []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.queue = append(m.queue, msg)
	needFlush := !m.scheduled
	if needFlush {
		m.scheduled = true
	}
	m.mu.Unlock()

	if needFlush {
		m.sched(func() {
			if err := m.Flush(); err != nil {
				m.logger.Error("flush failed", "err", err)
			}
		})
	}
	return nil
}

// Flush transmits everything currently queued as a single batch. It is a
// no-op on an empty queue and safe to call at any time, which lets explicit
// processing loops flush at the end of a step instead of relying on the
// scheduler.
func (m *Mux) Flush() error {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	m.scheduled = false
	closed := m.closed
	m.mu.Unlock()

	if closed || len(batch) == 0 {
		return nil
	}
	if err := m.send(batch); err != nil {
		return fmt.Errorf("send batch of %d: %w", len(batch), err)
	}
	return nil
}

// Receive delivers each message of an inbound batch, in order, synchronously
// within this call.
func (m *Mux) Receive(batch [][]byte) {
	m.mu.Lock()
	h := m.handler
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}
	if h == nil {
		m.logger.Debug("dropping inbound batch, no handler set", "messages", len(batch))
		return
	}
	for _, msg := range batch {
		h(msg)
	}
}

// Close drops the outbound queue and rejects further sends. Close is
// idempotent.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}
