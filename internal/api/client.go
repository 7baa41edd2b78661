package api

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/game"
	"github.com/victornm/songquiz/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	disconnectTimeout = 5 * time.Second
)

type WSConfig struct {
	// ReadLimit is the largest frame accepted from a client, in bytes.
	ReadLimit int64
	// RateLimit is the sustained number of frames per second a client may send.
	RateLimit  float64
	RateBurst  int
	SendBuffer int
}

func (c WSConfig) withDefaults() WSConfig {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Client is one websocket connection. Its id is the connection id seen by the session.
type Client struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	session Session
	limiter *rate.Limiter
	cfg     WSConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id string, conn *websocket.Conn, hub *Hub, session Session, cfg WSConfig) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		hub:     hub,
		session: session,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendBuffer),
	}
}

// enqueue queues b without blocking. It reports false when the buffer is full.
func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) closeConn() {
	_ = c.conn.Close()
}

func (c *Client) notify(ctx context.Context, out game.Outbound) {
	b, err := Encode(out)
	if err != nil {
		slog.ErrorContext(ctx, "api: encode notice failed", "conn", c.id, "error", err)
		return
	}
	c.enqueue(b)
}

// readPump forwards frames to the session until the connection fails, then
// reports the disconnect.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.closeSend()
		c.closeConn()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		if err := c.session.Submit(dctx, game.Inbound{ConnID: c.id, Command: game.Disconnect{}}); err != nil {
			slog.WarnContext(ctx, "api: submit disconnect failed", "conn", c.id, "error", err)
		}
		slog.InfoContext(ctx, "api: client disconnected", "conn", c.id)
	}()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "api: websocket read failed", "conn", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			telemetry.ObserveDroppedFrame("rate_limited")
			slog.WarnContext(ctx, "api: frame rate limited", "conn", c.id)
			continue
		}

		in, err := Decode(c.id, msg)
		if err != nil {
			telemetry.ObserveDroppedFrame("malformed")
			e := errors.Convert(err)
			slog.DebugContext(ctx, "api: bad frame", "conn", c.id, "error", err)
			c.notify(ctx, game.ErrorNotice{Code: e.Code.String(), Message: e.Message})
			continue
		}

		if err := c.session.Submit(ctx, in); err != nil {
			if stderrors.Is(err, game.ErrEngineStopped) || ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "api: submit failed", "conn", c.id, "error", err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
