// Package market resolves the binary market that trades during a given
// window of a recurring market family.
package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/gamma"
)

var (
	// ErrNotFound means no market exists for the slug (yet).
	ErrNotFound = errors.New("market not found")

	// ErrMalformedResponse means the metadata lacks a complete outcome/token pair set.
	ErrMalformedResponse = errors.New("malformed market metadata")

	// ErrNetwork covers transport failures, timeouts and unexpected statuses.
	ErrNetwork = errors.New("market metadata fetch failed")
)

// Outcome binds a human-readable label to the token that trades it.
type Outcome struct {
	Label   string
	TokenID string
}

// Market is the resolved metadata for one window. It always carries exactly
// two outcomes, index-aligned with the upstream outcome/token arrays.
type Market struct {
	Slug            string
	Title           string
	ConditionID     string
	AcceptingOrders bool
	WindowStart     int64
	EndDate         time.Time
	Outcomes        [2]Outcome
}

// TokenIDs returns the two token ids in outcome order.
func (m *Market) TokenIDs() []string {
	return []string{m.Outcomes[0].TokenID, m.Outcomes[1].TokenID}
}

// Labels returns the two outcome labels in outcome order.
func (m *Market) Labels() []string {
	return []string{m.Outcomes[0].Label, m.Outcomes[1].Label}
}

// HasToken reports whether tokenID belongs to this market.
func (m *Market) HasToken(tokenID string) bool {
	return tokenID != "" && (m.Outcomes[0].TokenID == tokenID || m.Outcomes[1].TokenID == tokenID)
}

// EventFetcher fetches Gamma events by slug.
type EventFetcher interface {
	FetchEventBySlug(ctx context.Context, slug string) (*gamma.Event, error)
}

// Resolver derives slugs for windows and resolves them to markets.
type Resolver struct {
	fetcher EventFetcher
	family  string
	label   string
}

// NewResolver creates a resolver for the given market family (e.g.
// "btc-updown") and window label (e.g. "15m").
func NewResolver(fetcher EventFetcher, family, label string) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		family:  family,
		label:   label,
	}
}

// BuildSlug returns the canonical slug of the market starting at windowStart.
func (r *Resolver) BuildSlug(windowStart int64) string {
	return r.family + "-" + r.label + "-" + strconv.FormatInt(windowStart, 10)
}

// ResolveWindow resolves the market for the window starting at windowStart.
func (r *Resolver) ResolveWindow(ctx context.Context, windowStart int64) (*Market, error) {
	m, err := r.Resolve(ctx, r.BuildSlug(windowStart))
	if err != nil {
		return nil, err
	}
	m.WindowStart = windowStart
	return m, nil
}

// Resolve fetches the event behind slug and extracts its two outcomes. It
// never returns a market with fewer than two tokens.
func (r *Resolver) Resolve(ctx context.Context, slug string) (*Market, error) {
	event, err := r.fetcher.FetchEventBySlug(ctx, slug)
	if err != nil {
		return nil, classify(slug, err)
	}
	return Extract(slug, event)
}

// Extract builds a Market from an event payload using its first market.
func Extract(slug string, event *gamma.Event) (*Market, error) {
	if event == nil || len(event.Markets) == 0 {
		return nil, fmt.Errorf("%s: no markets in event: %w", slug, ErrMalformedResponse)
	}
	gm := event.Markets[0]

	tokenIDs, err := gm.ParseTokenIDs()
	if err != nil {
		return nil, fmt.Errorf("%s: parsing token IDs: %w: %w", slug, ErrMalformedResponse, err)
	}
	outcomes, err := gm.ParseOutcomes()
	if err != nil {
		return nil, fmt.Errorf("%s: parsing outcomes: %w: %w", slug, ErrMalformedResponse, err)
	}

	if len(tokenIDs) != 2 {
		return nil, fmt.Errorf("%s: expected 2 token IDs, got %d: %w", slug, len(tokenIDs), ErrMalformedResponse)
	}
	if len(outcomes) != 2 {
		return nil, fmt.Errorf("%s: expected 2 outcomes, got %d: %w", slug, len(outcomes), ErrMalformedResponse)
	}
	if tokenIDs[0] == "" || tokenIDs[1] == "" {
		return nil, fmt.Errorf("%s: empty token ID: %w", slug, ErrMalformedResponse)
	}
	if tokenIDs[0] == tokenIDs[1] {
		return nil, fmt.Errorf("%s: duplicate token ID: %w", slug, ErrMalformedResponse)
	}

	title := event.Title
	if title == "" {
		title = gm.Question
	}
	endDate := gm.EndDate
	if endDate.IsZero() {
		endDate = event.EndDate
	}

	return &Market{
		Slug:            slug,
		Title:           title,
		ConditionID:     gm.ConditionID,
		AcceptingOrders: gm.AcceptingOrders,
		EndDate:         endDate,
		Outcomes: [2]Outcome{
			{Label: outcomes[0], TokenID: tokenIDs[0]},
			{Label: outcomes[1], TokenID: tokenIDs[1]},
		},
	}, nil
}

func classify(slug string, err error) error {
	switch {
	case errors.Is(err, gamma.ErrNotFound):
		return fmt.Errorf("%s: %w", slug, ErrNotFound)
	case errors.Is(err, gamma.ErrDecode):
		return fmt.Errorf("%s: %w: %w", slug, ErrMalformedResponse, err)
	default:
		return fmt.Errorf("%s: %w: %w", slug, ErrNetwork, err)
	}
}
