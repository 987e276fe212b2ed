// Package gamma provides a client for the Polymarket Gamma API.
package gamma

import (
	"encoding/json"
	"time"
)

// Event represents a prediction market event. Recurring up/down markets
// are published as one event per window holding a single binary market.
type Event struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	Closed    bool      `json:"closed"`
	StartDate time.Time `json:"startDate,omitempty"`
	EndDate   time.Time `json:"endDate,omitempty"`
	StartTime time.Time `json:"startTime,omitempty"` // When trading starts
	Markets   []Market  `json:"markets,omitempty"`
	Tags      []Tag     `json:"tags,omitempty"`
}

// Tag represents a tag on an event or market.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// Market represents a prediction market.
type Market struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	ConditionID     string    `json:"conditionId"`
	Slug            string    `json:"slug"`
	Active          bool      `json:"active"`
	Closed          bool      `json:"closed"`
	AcceptingOrders bool      `json:"acceptingOrders"`
	EndDate         time.Time `json:"endDate,omitempty"`

	// These fields are JSON strings that need secondary parsing
	ClobTokenIds string `json:"clobTokenIds"` // JSON array as string
	Outcomes     string `json:"outcomes"`     // JSON array as string
}

// ParseTokenIDs parses the ClobTokenIds JSON string into a slice of token IDs.
func (m *Market) ParseTokenIDs() ([]string, error) {
	return parseStringArray(m.ClobTokenIds)
}

// ParseOutcomes parses the Outcomes JSON string into a slice of outcome names.
func (m *Market) ParseOutcomes() ([]string, error) {
	return parseStringArray(m.Outcomes)
}

func parseStringArray(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filter contains query parameters for API requests.
type Filter struct {
	Active  *bool  `url:"active,omitempty"`
	Closed  *bool  `url:"closed,omitempty"`
	TagSlug string `url:"tag_slug,omitempty"`
	Slug    string `url:"slug,omitempty"`
	Limit   int    `url:"_limit,omitempty"`
	Offset  int    `url:"_offset,omitempty"`
}
