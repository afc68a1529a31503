package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"intralink/internal/domain"
	"intralink/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 32
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

type clientMessage struct {
	Type string `json:"type"`
}

// serveWS upgrades first and authenticates second, so a rejected client
// receives a proper close frame instead of a bare HTTP error.
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Info("ws upgrade failed", "err", err)
		return
	}
	buf := h.opts.WSSendBuffer
	if buf <= 0 {
		buf = wsSendBuffer
	}
	c := newWSConn(ws, buf)
	go c.writePump()

	ctx := context.WithoutCancel(r.Context())
	user, err := h.Presence.Connect(ctx, c, token)
	if err != nil {
		slog.Info("ws connection rejected", "conn_id", c.id, "err", err)
		return
	}
	defer func() {
		h.Presence.Disconnect(ctx, c)
		_ = c.Close(presence.CloseNormal)
	}()

	_ = c.Send(domain.Event{Type: domain.EventOnlineUsersList, Data: h.Presence.OnlineSummary()})
	slog.Info("ws connected", "conn_id", c.id, "user_id", user.ID)
	c.readPump(func(msg clientMessage) {
		switch msg.Type {
		case "get_online_users":
			_ = c.Send(domain.Event{Type: domain.EventOnlineUsersList, Data: h.Presence.OnlineSummary()})
		case "ping":
			_ = c.Send(domain.Event{Type: domain.EventPong})
		default:
			_ = c.Send(domain.Event{Type: domain.EventError, Data: "unknown message type"})
		}
	})
}

func (h *handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.CORSOrigins) == 0 || slices.Contains(h.opts.CORSOrigins, "*") {
		return true
	}
	return slices.Contains(h.opts.CORSOrigins, origin)
}

// wsConn adapts a websocket to presence.Conn. All writes happen on the
// write pump goroutine.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan domain.Event

	closeOnce sync.Once
	done      chan struct{}
	code      int
	text      string
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan domain.Event, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues ev without blocking. A full buffer drops the event.
func (c *wsConn) Send(ev domain.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *wsConn) Close(reason presence.CloseReason) error {
	c.closeOnce.Do(func() {
		switch reason {
		case presence.CloseUnauthorized:
			c.code, c.text = websocket.ClosePolicyViolation, "unauthorized"
		case presence.CloseShutdown:
			c.code, c.text = websocket.CloseGoingAway, "server shutting down"
		default:
			c.code, c.text = websocket.CloseNormalClosure, ""
		}
		close(c.done)
	})
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			b, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("ws encode failed", "conn_id", c.id, "type", ev.Type, "err", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.Close(presence.CloseNormal)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = c.Close(presence.CloseNormal)
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(c.code, c.text)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return
		}
	}
}

// flush writes events already queued before the close frame.
func (c *wsConn) flush() {
	for {
		select {
		case ev := <-c.send:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if c.ws.WriteMessage(websocket.TextMessage, b) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) readPump(handle func(clientMessage)) {
	c.ws.SetReadLimit(wsMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.Send(domain.Event{Type: domain.EventError, Data: "malformed message"})
			continue
		}
		handle(msg)
	}
}
