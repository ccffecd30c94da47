package mux

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// manualScheduler queues flush callbacks so tests control exactly when the
// "next scheduling turn" happens.
type manualScheduler struct {
	mu      sync.Mutex
	flushes []func()
}

func (s *manualScheduler) schedule(flush func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, flush)
}

// run executes all queued flushes and reports how many ran.
func (s *manualScheduler) run() int {
	s.mu.Lock()
	flushes := s.flushes
	s.flushes = nil
	s.mu.Unlock()
	for _, f := range flushes {
		f()
	}
	return len(flushes)
}

type captureSender struct {
	mu      sync.Mutex
	batches [][][]byte
}

func (c *captureSender) send(batch [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureSender) all() [][][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

// A synchronous burst of sends coalesces into exactly one transport write,
// in issuance order.
func TestBurstCoalescing(t *testing.T) {
	sched := &manualScheduler{}
	sender := &captureSender{}
	m := New(sender.send, WithScheduler(sched.schedule))

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, msg := range msgs {
		if err := m.Send(msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	if got := len(sender.all()); got != 0 {
		t.Fatalf("flush ran synchronously with Send: %d batches", got)
	}
	if ran := sched.run(); ran != 1 {
		t.Fatalf("scheduled %d flushes for one burst, want 1", ran)
	}

	batches := sender.all()
	if len(batches) != 1 {
		t.Fatalf("got %d transport sends, want 1", len(batches))
	}
	if len(batches[0]) != len(msgs) {
		t.Fatalf("batch carries %d messages, want %d", len(batches[0]), len(msgs))
	}
	for i, msg := range msgs {
		if !bytes.Equal(batches[0][i], msg) {
			t.Errorf("batch[%d] = %q, want %q", i, batches[0][i], msg)
		}
	}
}

// Two separate bursts produce two batches.
func TestSeparateBursts(t *testing.T) {
	sched := &manualScheduler{}
	sender := &captureSender{}
	m := New(sender.send, WithScheduler(sched.schedule))

	if err := m.Send([]byte("a")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sched.run()
	if err := m.Send([]byte("b")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sched.run()

	batches := sender.all()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if string(batches[0][0]) != "a" || string(batches[1][0]) != "b" {
		t.Errorf("batch contents out of order: %q, %q", batches[0][0], batches[1][0])
	}
}

func TestDefaultSchedulerFlushes(t *testing.T) {
	sender := &captureSender{}
	m := New(sender.send)

	if err := m.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sender.all()) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("default scheduler never flushed")
}

func TestFlushEmptyQueue(t *testing.T) {
	sender := &captureSender{}
	m := New(sender.send, WithScheduler(func(func()) {}))

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sender.all()) != 0 {
		t.Error("empty flush must not hit the transport")
	}
}

func TestFlushSendError(t *testing.T) {
	sendErr := errors.New("pipe broken")
	m := New(func([][]byte) error { return sendErr }, WithScheduler(func(func()) {}))

	if err := m.Send([]byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := m.Flush(); !errors.Is(err, sendErr) {
		t.Errorf("Flush error = %v, want %v", err, sendErr)
	}
}

func TestReceiveOrder(t *testing.T) {
	m := New(func([][]byte) error { return nil })

	var got []string
	m.SetHandler(func(msg []byte) { got = append(got, string(msg)) })

	m.Receive([][]byte{[]byte("1"), []byte("2"), []byte("3")})

	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReceiveWithoutHandler(t *testing.T) {
	m := New(func([][]byte) error { return nil })
	// Must not panic.
	m.Receive([][]byte{[]byte("orphan")})
}

func TestClose(t *testing.T) {
	sched := &manualScheduler{}
	sender := &captureSender{}
	m := New(sender.send, WithScheduler(sched.schedule))

	if err := m.Send([]byte("queued")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	m.Close()
	m.Close() // idempotent

	if err := m.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}

	sched.run()
	if len(sender.all()) != 0 {
		t.Error("closed mux must not transmit the dropped queue")
	}

	m.SetHandler(func([]byte) { t.Error("closed mux must not deliver") })
	m.Receive([][]byte{[]byte("x")})
}
