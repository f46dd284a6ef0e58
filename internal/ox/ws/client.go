package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ox-market-maker/internal/ox/auth"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client keeps one websocket session alive and owns the set of subscribed
// channels, replaying login and subscriptions after every reconnect.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger
	signer         *auth.Signer
	onReconnect    func()

	mu       sync.Mutex
	conn     *websocket.Conn
	channels []string
	tag      atomic.Int64
}

type request struct {
	Op   string   `json:"op"`
	Tag  int64    `json:"tag"`
	Args []string `json:"args,omitempty"`
	Data any      `json:"data,omitempty"`
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// SetSigner enables login on every (re)connect, which private channels such
// as position:all require.
func (c *Client) SetSigner(signer *auth.Signer) {
	c.signer = signer
}

func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	return nil
}

// Subscribe records channels and sends a subscribe request when connected.
// While disconnected the channels are sent on the next connect.
func (c *Client) Subscribe(ctx context.Context, channels ...string) error {
	added := c.track(channels)
	if len(added) == 0 {
		return nil
	}
	return c.send(ctx, request{Op: "subscribe", Tag: c.tag.Add(1), Args: added})
}

func (c *Client) Unsubscribe(ctx context.Context, channels ...string) error {
	removed := c.untrack(channels)
	if len(removed) == 0 {
		return nil
	}
	return c.send(ctx, request{Op: "unsubscribe", Tag: c.tag.Add(1), Args: removed})
}

// Channels returns the tracked subscriptions in subscription order.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

func (c *Client) track(channels []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, ch := range channels {
		if ch == "" || containsChannel(c.channels, ch) || containsChannel(added, ch) {
			continue
		}
		added = append(added, ch)
	}
	c.channels = append(c.channels, added...)
	return added
}

func (c *Client) untrack(channels []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	kept := c.channels[:0]
	for _, ch := range c.channels {
		if containsChannel(channels, ch) {
			removed = append(removed, ch)
			continue
		}
		kept = append(kept, ch)
	}
	c.channels = kept
	return removed
}

func (c *Client) send(ctx context.Context, req request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, req)
}

func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	first := true
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ws connect failed", zap.Error(err))
			c.resetConn()
			if !sleepCtx(ctx, c.reconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		if !first && c.onReconnect != nil {
			c.onReconnect()
		}
		first = false
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				c.resetConn()
				return ctx.Err()
			}
			c.logReadLoopError(err)
			c.resetConn()
			if !sleepCtx(ctx, c.reconnectDelay) {
				return ctx.Err()
			}
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	channels := append([]string(nil), c.channels...)
	c.mu.Unlock()
	if c.signer != nil {
		login := request{Op: "login", Tag: c.tag.Add(1), Data: c.signer.SignLogin(time.Now())}
		if err := writeJSON(ctx, conn, login); err != nil {
			return err
		}
	}
	if len(channels) > 0 {
		if err := writeJSON(ctx, conn, request{Op: "subscribe", Tag: c.tag.Add(1), Args: channels}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if string(data) == "pong" {
			continue
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func containsChannel(list []string, ch string) bool {
	for _, item := range list {
		if item == ch {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
