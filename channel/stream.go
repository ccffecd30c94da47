package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Stream carries message batches over any ordered byte stream. Each batch is
// framed as one JSON array of messages, newline-terminated, so the framing
// survives pipes, domain sockets, and TCP unchanged.
type Stream struct {
	rw     io.ReadWriter
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	in        *inbox
	closeOnce sync.Once
}

// NewStream creates a stream channel and starts its background read loop.
// The read loop runs until rw fails or the stream is closed.
func NewStream(rw io.ReadWriter, opts ...Option) *Stream {
	cfg := newConfig(opts)
	s := &Stream{
		rw:     rw,
		logger: cfg.logger,
		enc:    json.NewEncoder(rw),
		in:     newInbox(),
	}
	go s.readLoop()
	return s
}

// Send writes one batch as a single frame.
func (s *Stream) Send(batch [][]byte) error {
	if s.in.isClosed() {
		return ErrClosed
	}
	frame := make([]json.RawMessage, len(batch))
	for i, msg := range batch {
		frame[i] = json.RawMessage(msg)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SetReceiver registers the inbound batch callback.
func (s *Stream) SetReceiver(fn func(batch [][]byte)) {
	s.in.setReceiver(fn)
}

func (s *Stream) readLoop() {
	dec := json.NewDecoder(s.rw)
	for {
		var frame []json.RawMessage
		if err := dec.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Debug("stream read failed", "err", err)
			}
			s.in.close()
			return
		}
		batch := make([][]byte, len(frame))
		for i, msg := range frame {
			batch[i] = []byte(msg)
		}
		s.in.put(batch)
	}
}

// Close stops delivery and closes the underlying stream when it supports
// closing.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.in.close()
		if closer, ok := s.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}
