package aasb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 100
)

// WebSocketTransport exchanges AASB messages with an engine bridge over a
// websocket. Messages published while disconnected are buffered, up to
// sendBuffer, and flushed by the next Run.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn

	logger *zap.Logger
}

// NewWebSocketTransport creates a transport for the bridge at url (ws:// or wss://).
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logging.Named("WebSocketTransport"),
	}
}

// Publish queues msg for the write pump. A full queue drops msg.
func (t *WebSocketTransport) Publish(ctx context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	default:
		t.logger.Warn("send buffer full, dropping message",
			zap.String("action", msg.Action()), zap.String("id", msg.ID()))
		return ErrSendBufferFull
	}
}

// Run dials the bridge and pumps messages until the connection drops, ctx is
// done or the transport is closed.
func (t *WebSocketTransport) Run(ctx context.Context, handle func(Message)) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", t.url, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.logger.Info("connected", zap.String("url", t.url))

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := t.writePump(conn, stop); err != nil {
			t.logger.Warn("write error", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-t.done:
		case <-writerDone:
		case <-stop:
		}
		conn.Close()
	}()

	err = t.readPump(conn, handle)
	close(stop)
	<-writerDone

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case t.isClosed():
		return ErrTransportClosed
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn, handle func(Message)) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("read error", zap.Error(err))
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := Decode(data)
		if err != nil {
			t.logger.Warn("dropping message", zap.Error(err))
			continue
		}
		handle(msg)
	}
}

func (t *WebSocketTransport) writePump(conn *websocket.Conn, stop <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case data := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (t *WebSocketTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame on the live connection and stops Run.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		werr := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			t.logger.Debug("close frame not sent", zap.Error(werr))
		}
	})
	return nil
}
