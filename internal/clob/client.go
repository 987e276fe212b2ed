package clob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the base URL for the CLOB API.
	DefaultBaseURL = "https://clob.polymarket.com"
)

// ErrNotFound is returned when the CLOB has no book for a token.
var ErrNotFound = errors.New("clob: token not found")

// Client is an HTTP client for the CLOB API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new CLOB API client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
	}
}

// WithBaseURL sets a custom base URL for the client.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// FetchBook fetches the order book for a given token ID.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (*BookSnapshot, error) {
	u := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tokenID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var book BookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}

	return &book, nil
}

// FetchBooks fetches the books for several tokens concurrently. Results are
// index-aligned with tokenIDs; the first failure cancels the rest.
func (c *Client) FetchBooks(ctx context.Context, tokenIDs ...string) ([]*BookSnapshot, error) {
	books := make([]*BookSnapshot, len(tokenIDs))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range tokenIDs {
		i, id := i, id
		g.Go(func() error {
			book, err := c.FetchBook(ctx, id)
			if err != nil {
				return fmt.Errorf("fetching book %s: %w", id, err)
			}
			books[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return books, nil
}
