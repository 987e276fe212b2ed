// Package ws provides a WebSocket client for the Polymarket CLOB market feed.
package ws

import (
	"github.com/johan/polymarket-orderbook-watcher/internal/types"
)

// ChannelMarket is the subscription type for public order book updates.
const ChannelMarket = "market"

// Keepalive frames. The server answers a text PING with a text PONG.
const (
	PingMessage = "PING"
	PongMessage = "PONG"
)

// SubscribeMessage is the message sent to subscribe to token updates.
type SubscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
}

// NewSubscribeMessage builds a market channel subscription for tokenIDs.
func NewSubscribeMessage(tokenIDs []string) SubscribeMessage {
	return SubscribeMessage{AssetsIDs: tokenIDs, Type: ChannelMarket}
}

// WSMessage represents a message received from the WebSocket.
type WSMessage struct {
	EventType      string             `json:"event_type"`
	Market         string             `json:"market"`
	AssetID        string             `json:"asset_id,omitempty"`
	Timestamp      string             `json:"timestamp"`
	Hash           string             `json:"hash,omitempty"`
	Bids           []types.PriceLevel `json:"bids,omitempty"`
	Asks           []types.PriceLevel `json:"asks,omitempty"`
	LastTradePrice string             `json:"last_trade_price,omitempty"`
	PriceChanges   []PriceChange      `json:"price_changes,omitempty"`
}

// PriceChange represents a single price level change. Size is the new
// absolute size at Price; "0" removes the level.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Hash    string `json:"hash"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// TokenID returns the token the change applies to, falling back to the
// enclosing message's asset id when the change carries none.
func (pc PriceChange) TokenID(msg *WSMessage) string {
	if pc.AssetID != "" {
		return pc.AssetID
	}
	if msg != nil {
		return msg.AssetID
	}
	return ""
}

// EventTypeBook is the event type for a full order book snapshot.
const EventTypeBook = "book"

// EventTypePriceChange is the event type for price level changes.
const EventTypePriceChange = "price_change"
