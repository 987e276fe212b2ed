package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/johan/polymarket-orderbook-watcher/internal/telemetry"
)

const (
	// DefaultWSURL is the default WebSocket URL for the CLOB market feed.
	DefaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// DefaultPingInterval is how often a text PING is sent to keep the feed open.
	DefaultPingInterval = 10 * time.Second

	// Default reconnection parameters
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultBackoffFactor  = 2.0

	writeTimeout = 5 * time.Second
)

// ErrNotConnected is returned by writes while no connection is open.
var ErrNotConnected = errors.New("websocket not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("websocket client closed")

// MessageHandler is a callback function for handling parsed WebSocket messages.
type MessageHandler func(messages []WSMessage)

// Status is a connection lifecycle signal.
type Status int

const (
	// StatusConnected is emitted after every successful dial, including
	// reconnects. Subscriptions must be (re)sent on this signal.
	StatusConnected Status = iota
	// StatusDisconnected is emitted when an established connection drops.
	StatusDisconnected
	// StatusError reports a non-fatal problem such as an unparsable frame.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StatusHandler receives lifecycle signals. err is nil for StatusConnected.
type StatusHandler func(status Status, err error)

// ReconnectConfig configures the reconnection behavior.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	MaxRetries     int // 0 = infinite
}

// DefaultReconnectConfig returns the default reconnection configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		BackoffFactor:  defaultBackoffFactor,
		MaxRetries:     0,
	}
}

// Client is a WebSocket client for the Polymarket CLOB market feed.
//
// The client owns its read/reconnect and ping goroutines. Close stops them
// and waits, so no handler runs after Close returns. Subscriptions are not
// replayed internally: callers resubscribe on StatusConnected.
type Client struct {
	url             string
	handler         MessageHandler
	onStatus        StatusHandler
	reconnectConfig ReconnectConfig
	pingInterval    time.Duration
	dialer          *websocket.Dialer

	// lifetime of the background goroutines; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool

	writeMu sync.Mutex
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:             DefaultWSURL,
		handler:         handler,
		reconnectConfig: DefaultReconnectConfig(),
		pingInterval:    DefaultPingInterval,
		dialer:          websocket.DefaultDialer,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// WithURL sets a custom WebSocket URL. Empty keeps the default.
func (c *Client) WithURL(url string) *Client {
	if url != "" {
		c.url = url
	}
	return c
}

// WithReconnectConfig sets the reconnection configuration.
func (c *Client) WithReconnectConfig(config ReconnectConfig) *Client {
	c.reconnectConfig = config
	return c
}

// WithPingInterval sets the keepalive interval. Zero disables pings.
func (c *Client) WithPingInterval(d time.Duration) *Client {
	c.pingInterval = d
	return c
}

// WithStatusHandler registers a lifecycle callback.
func (c *Client) WithStatusHandler(h StatusHandler) *Client {
	c.onStatus = h
	return c
}

// Connect dials the feed, retrying with backoff until ctx is done, then
// starts the background goroutines. ctx bounds only the initial dial;
// the connection lives until Close. StatusConnected is delivered from the
// read goroutine, not from Connect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, stop := mergeCancel(ctx, c.ctx)
	defer stop()

	conn, err := c.connectWithBackoff(dialCtx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.started = true
	c.wg.Add(1)
	go c.run(conn)
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) connectWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	backoff := c.reconnectConfig.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}

		retries++
		if c.reconnectConfig.MaxRetries > 0 && retries >= c.reconnectConfig.MaxRetries {
			return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.reconnectConfig.MaxRetries, err)
		}

		telemetry.L().Warn("websocket connection failed, retrying",
			"attempt", retries, "error", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * c.reconnectConfig.BackoffFactor)
		if c.reconnectConfig.MaxBackoff > 0 && backoff > c.reconnectConfig.MaxBackoff {
			backoff = c.reconnectConfig.MaxBackoff
		}
	}
}

// run reads from conn until it fails, then reconnects, until Close.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.emit(StatusConnected, nil)
		err := c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}

		telemetry.L().Warn("websocket read failed, reconnecting", "error", err)
		c.emit(StatusDisconnected, err)

		conn, err = c.connectWithBackoff(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.emit(StatusDisconnected, err)
			}
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		if c.pingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		messages, err := Parse(data)
		if err != nil {
			c.emit(StatusError, err)
		}

		if c.handler != nil && len(messages) > 0 && c.ctx.Err() == nil {
			c.handler(messages)
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage([]byte(PingMessage)); err != nil && !errors.Is(err, ErrNotConnected) {
				telemetry.L().Debug("websocket ping failed", "error", err)
			}
		}
	}
}

func (c *Client) emit(status Status, err error) {
	if c.onStatus != nil && c.ctx.Err() == nil {
		c.onStatus(status, err)
	}
}

// Subscribe subscribes the current connection to updates for tokenIDs.
func (c *Client) Subscribe(tokenIDs []string) error {
	data, err := json.Marshal(NewSubscribeMessage(tokenIDs))
	if err != nil {
		return fmt.Errorf("marshaling subscribe message: %w", err)
	}
	if err := c.writeMessage(data); err != nil {
		return fmt.Errorf("writing subscribe message: %w", err)
	}
	return nil
}

func (c *Client) writeMessage(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection and waits for the background goroutines to
// exit. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.wg.Wait()
	return err
}

// IsConnected returns whether the client currently holds an open connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
