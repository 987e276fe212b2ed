// Package clob provides a client for the Polymarket CLOB REST API.
package clob

import (
	"github.com/johan/polymarket-orderbook-watcher/internal/types"
)

// BookSnapshot represents an order book snapshot from the CLOB API.
type BookSnapshot struct {
	Market         string             `json:"market"`
	AssetID        string             `json:"asset_id"`
	Timestamp      string             `json:"timestamp"`
	Hash           string             `json:"hash"`
	Bids           []types.PriceLevel `json:"bids"`
	Asks           []types.PriceLevel `json:"asks"`
	MinOrderSize   string             `json:"min_order_size"`
	TickSize       string             `json:"tick_size"`
	NegRisk        bool               `json:"neg_risk"`
	LastTradePrice string             `json:"last_trade_price"`
}
