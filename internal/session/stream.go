package session

import (
	"context"
	"errors"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/ws"
)

// ErrStreamDisconnected is recorded when the live feed drops. The transport
// reconnects on its own; the session resubscribes on the next connect.
var ErrStreamDisconnected = errors.New("stream disconnected")

// StreamError carries a non-fatal problem reported by the transport, such
// as an unparsable frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// Stream is one live market-data connection.
type Stream interface {
	// Connect dials the feed. ctx bounds the dial only.
	Connect(ctx context.Context) error
	// Subscribe requests updates for tokenIDs on the current connection.
	Subscribe(tokenIDs []string) error
	// Close tears the connection down. No handler call happens after it returns.
	Close() error
}

// StreamHandler receives a stream's callbacks.
type StreamHandler interface {
	HandleMessages(msgs []ws.WSMessage)
	HandleStatus(status ws.Status, err error)
}

// StreamDialer creates streams bound to a handler.
type StreamDialer interface {
	NewStream(h StreamHandler) Stream
}

// WSDialer builds streams on the CLOB websocket client.
type WSDialer struct {
	URL          string
	Reconnect    ws.ReconnectConfig
	PingInterval time.Duration
}

// NewStream implements StreamDialer.
func (d WSDialer) NewStream(h StreamHandler) Stream {
	return ws.NewWSClient(h.HandleMessages).
		WithURL(d.URL).
		WithReconnectConfig(d.Reconnect).
		WithPingInterval(d.PingInterval).
		WithStatusHandler(h.HandleStatus)
}
