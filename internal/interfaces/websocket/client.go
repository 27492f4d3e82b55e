package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/domain/event"
)

// client serves one connection. The read loop runs on the handler goroutine
// and the write loop on its own; only the write loop writes data frames.
type client struct {
	conn    *websocket.Conn
	session *session.Session
	cfg     Config
	logger  *zap.Logger

	send chan ServerFrame
	done chan struct{}
}

func newClient(conn *websocket.Conn, s *session.Session, cfg Config, logger *zap.Logger) *client {
	return &client{
		conn:    conn,
		session: s,
		cfg:     cfg,
		logger:  logger.With(zap.String("session_id", s.ID())),
		send:    make(chan ServerFrame, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *client) run(ctx context.Context) {
	// Hijacked connections outlive request cancellation semantics
	ctx = context.WithoutCancel(ctx)

	changes, cancel := c.session.Watch(c.cfg.SendBuffer)
	defer cancel()

	if err := c.write(ServerFrame{Type: FrameState, Data: c.session.Snapshot()}); err != nil {
		c.logger.Error("Failed to send initial state", zap.Error(err))
		_ = c.conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(changes)
	}()

	c.signal(ctx, event.TypeTransportConnected)

	closing := c.readPump(ctx)

	close(c.done)
	<-writerDone
	_ = c.conn.Close()

	c.logger.Info("WebSocket client disconnected", zap.String("signal", closing.String()))
	c.signal(ctx, closing)
}

// readPump reads control frames until the connection fails and returns the
// transport signal describing how it ended
func (c *client) readPump(ctx context.Context) event.Type {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return event.TypeTransportClosed
			}
			c.logger.Info("WebSocket read failed", zap.Error(err))
			return event.TypeTransportLost
		}
		c.handleFrame(ctx, data)
	}
}

func (c *client) handleFrame(ctx context.Context, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reportError(fmt.Sprintf("malformed frame: %v", err))
		return
	}

	t, ok := event.ParseType(frame.Type)
	if !ok || !t.IsSignal() {
		c.reportError("unsupported event type: " + frame.Type)
		return
	}

	if _, err := c.session.HandleEvent(ctx, event.NewEvent(t, c.session.ID(), frame.Payload)); err != nil {
		c.reportError(err.Error())
	}
}

// writePump forwards queued frames and session changes and keeps the
// connection alive with pings
func (c *client) writePump(changes <-chan session.Change) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.abort(err)
				return
			}

		case change, ok := <-changes:
			if !ok {
				// Session closed; the peer's close reply ends the read loop
				deadline := time.Now().Add(c.cfg.WriteWait)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed")
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			if err := c.write(ServerFrame{Type: FrameStateChanged, Data: change}); err != nil {
				c.abort(err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort(err)
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *client) write(frame ServerFrame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteJSON(frame)
}

// abort closes the connection so the read loop returns
func (c *client) abort(err error) {
	c.logger.Info("WebSocket write failed", zap.Error(err))
	_ = c.conn.Close()
}

func (c *client) reportError(msg string) {
	select {
	case c.send <- ServerFrame{Type: FrameError, Error: msg}:
	default:
		c.logger.Error("Send buffer full, error frame dropped", zap.String("error", msg))
	}
}

// signal hands a transport event to the session. A closed session is expected
// here when the server ended the interview first.
func (c *client) signal(ctx context.Context, t event.Type) {
	_, err := c.session.HandleEvent(ctx, event.NewEvent(t, c.session.ID(), nil))
	if err != nil && !errors.Is(err, session.ErrSessionClosed) {
		c.logger.Error("Failed to handle transport event",
			zap.String("event_type", t.String()),
			zap.Error(err))
	}
}
