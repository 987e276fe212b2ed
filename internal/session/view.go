package session

import (
	"fmt"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/orderbook"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateStreaming
	StateRollingOver
	StateErrored
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateRollingOver:
		return "rolling_over"
	case StateErrored:
		return "errored"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Operator-facing status lines.
const (
	StatusIdle         = "Starting..."
	StatusFetching     = "Fetching market data..."
	StatusConnecting   = "Connecting to WebSocket..."
	StatusSubscribing  = "Connected - Subscribing..."
	StatusReceiving    = "Receiving orderbook updates"
	StatusDisconnected = "Disconnected"
	StatusRollingOver  = "Switching to next window..."
	StatusStopped      = "Stopped"

	NoticeNotAccepting = "Market not accepting orders"
)

// View is an immutable snapshot of the session for presenters. Market is
// shared and must not be modified; Books are private copies index-aligned
// with Market.Outcomes.
type View struct {
	State     State
	Status    string
	Notice    string
	Err       error
	Attempt   string
	Window    window.Window
	Slug      string
	Market    *market.Market
	Books     []orderbook.Book
	UpdatedAt time.Time

	// Filled in by Session.View at read time.
	Now       time.Time
	Remaining time.Duration
	Countdown string
}

// Title returns the market title, or the slug while none is resolved.
func (v View) Title() string {
	if v.Market != nil && v.Market.Title != "" {
		return v.Market.Title
	}
	return v.Slug
}

// Book returns the book for outcome i, or an empty book.
func (v View) Book(i int) orderbook.Book {
	if i < 0 || i >= len(v.Books) {
		return orderbook.Book{}
	}
	return v.Books[i]
}
