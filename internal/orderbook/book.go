// Package orderbook keeps per-token bid/ask ladders rebuilt from snapshots
// and absolute-size price level deltas.
package orderbook

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johan/polymarket-orderbook-watcher/internal/types"
)

var (
	// ErrInvalidLevel is returned for price or size strings that are not decimals.
	ErrInvalidLevel = errors.New("invalid price level")

	// ErrNegativeSize is returned for levels with a size below zero.
	ErrNegativeSize = errors.New("negative size")

	// ErrUnknownSide is returned for side designators other than BUY/SELL.
	ErrUnknownSide = errors.New("unknown side")
)

// Side selects the bid or ask half of a book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// ParseSide maps a wire side designator to a book side. Buy orders rest on
// the bid side and sell orders on the ask side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Bid, nil
	case "SELL":
		return Ask, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

// Level is a single price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ParseLevel parses a wire price level. Zero sizes parse fine; callers
// decide whether that means "remove".
func ParseLevel(price, size string) (Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Level{}, fmt.Errorf("%w: price %q", ErrInvalidLevel, price)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return Level{}, fmt.Errorf("%w: size %q", ErrInvalidLevel, size)
	}
	if s.IsNegative() {
		return Level{}, fmt.Errorf("%w: %s at %s", ErrNegativeSize, size, price)
	}
	return Level{Price: p, Size: s}, nil
}

// priceKey is the canonical map key for a price, so "0.5" and "0.50" collide.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

// ladder holds one side of a book keyed by canonical price.
type ladder map[string]Level

func (l ladder) set(lv Level) {
	key := priceKey(lv.Price)
	if lv.Size.IsZero() {
		delete(l, key)
		return
	}
	l[key] = lv
}

func (l ladder) sorted(desc bool) []Level {
	out := make([]Level, 0, len(l))
	for _, lv := range l {
		out = append(out, lv)
	}
	slices.SortFunc(out, func(a, b Level) int {
		if desc {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}

type book struct {
	bids ladder
	asks ladder
}

func newBook() *book {
	return &book{bids: make(ladder), asks: make(ladder)}
}

func (b *book) side(s Side) ladder {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// Book is a read-only, sorted copy of one token's book: bids best (highest)
// first, asks best (lowest) first.
type Book struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// Empty reports whether the book has no levels at all.
func (b Book) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Depth returns the number of levels on each side.
func (b Book) Depth() (bids, asks int) {
	return len(b.Bids), len(b.Asks)
}

func parseLevels(raw []types.PriceLevel) ([]Level, []error) {
	out := make([]Level, 0, len(raw))
	var errs []error
	for _, r := range raw {
		lv, err := ParseLevel(r.Price, r.Size)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, lv)
	}
	return out, errs
}
