package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket carries message batches over a WebSocket connection, one text
// frame per batch. The frame payload is the same JSON array framing Stream
// uses, so the two ends of a session may mix channel kinds freely.
type WebSocket struct {
	conn   *websocket.Conn
	logger *slog.Logger

	// gorilla/websocket allows at most one concurrent writer.
	writeMu sync.Mutex

	in        *inbox
	closeOnce sync.Once
}

// NewWebSocket wraps an established WebSocket connection and starts its
// background read loop. The caller keeps ownership of dialing/upgrading.
func NewWebSocket(conn *websocket.Conn, opts ...Option) *WebSocket {
	cfg := newConfig(opts)
	ws := &WebSocket{
		conn:   conn,
		logger: cfg.logger,
		in:     newInbox(),
	}
	go ws.readLoop()
	return ws
}

// Send writes one batch as a single text frame.
func (ws *WebSocket) Send(batch [][]byte) error {
	if ws.in.isClosed() {
		return ErrClosed
	}
	frame := make([]json.RawMessage, len(batch))
	for i, msg := range batch {
		frame[i] = json.RawMessage(msg)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SetReceiver registers the inbound batch callback.
func (ws *WebSocket) SetReceiver(fn func(batch [][]byte)) {
	ws.in.setReceiver(fn)
}

func (ws *WebSocket) readLoop() {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("websocket read failed", "err", err)
			}
			ws.in.close()
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			// A malformed frame indicates a broken peer, not a call failure.
			ws.logger.Debug("dropping malformed frame", "err", err)
			continue
		}
		batch := make([][]byte, len(frame))
		for i, msg := range frame {
			batch[i] = []byte(msg)
		}
		ws.in.put(batch)
	}
}

// Close stops delivery and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.in.close()
		err = ws.conn.Close()
	})
	return err
}
