// Package types holds wire types shared by the REST and streaming clients.
package types

// PriceLevel is a single price level as sent by the CLOB: decimal strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
