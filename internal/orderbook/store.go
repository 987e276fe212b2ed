package orderbook

import (
	"errors"
	"sort"
	"sync"

	"github.com/johan/polymarket-orderbook-watcher/internal/types"
)

// Store maps tokens to their books. Mutations and reads are serialized by
// an RWMutex, so a read never observes a half-applied snapshot or delta.
//
// A delta for a token that has not seen a snapshot yet starts from an empty
// book.
type Store struct {
	mu    sync.RWMutex
	books map[string]*book
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{books: make(map[string]*book)}
}

// ReplaceSnapshot replaces the whole book for tokenID; nothing of the
// previous book survives. Zero-size levels are dropped. Invalid levels are
// skipped and returned joined in the error, one per level, while the valid
// ones are still stored.
func (s *Store) ReplaceSnapshot(tokenID string, bids, asks []types.PriceLevel) error {
	parsedBids, bidErrs := parseLevels(bids)
	parsedAsks, askErrs := parseLevels(asks)

	b := newBook()
	for _, lv := range parsedBids {
		b.bids.set(lv)
	}
	for _, lv := range parsedAsks {
		b.asks.set(lv)
	}

	s.mu.Lock()
	s.books[tokenID] = b
	s.mu.Unlock()
	return errors.Join(append(bidErrs, askErrs...)...)
}

// ApplyDelta sets the absolute size at price on one side of tokenID's book.
// A zero size removes the level. Applying the same delta twice leaves the
// book unchanged the second time.
func (s *Store) ApplyDelta(tokenID string, side Side, price, size string) error {
	lv, err := ParseLevel(price, size)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[tokenID]
	if !ok {
		if lv.Size.IsZero() {
			return nil
		}
		b = newBook()
		s.books[tokenID] = b
	}
	b.side(side).set(lv)
	return nil
}

// Snapshot returns a sorted copy of tokenID's book. Unknown tokens yield an
// empty book.
func (s *Store) Snapshot(tokenID string) Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Book{TokenID: tokenID}
	if b, ok := s.books[tokenID]; ok {
		out.Bids = b.bids.sorted(true)
		out.Asks = b.asks.sorted(false)
	}
	return out
}

// Snapshots returns sorted copies of several books taken under one lock.
func (s *Store) Snapshots(tokenIDs ...string) []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Book, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		bk := Book{TokenID: id}
		if b, ok := s.books[id]; ok {
			bk.Bids = b.bids.sorted(true)
			bk.Asks = b.asks.sorted(false)
		}
		out = append(out, bk)
	}
	return out
}

// Clear drops every book.
func (s *Store) Clear() {
	s.mu.Lock()
	s.books = make(map[string]*book)
	s.mu.Unlock()
}

// Tokens returns the tokens that currently have a book, sorted.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.books))
	for id := range s.books {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Levels returns the total number of stored levels across all books.
func (s *Store) Levels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.books {
		n += len(b.bids) + len(b.asks)
	}
	return n
}
