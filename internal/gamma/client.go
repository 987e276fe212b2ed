package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the Gamma API.
	DefaultBaseURL = "https://gamma-api.polymarket.com"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("gamma: not found")

	// ErrDecode is returned when a response body cannot be decoded.
	ErrDecode = errors.New("gamma: decoding response")
)

// StatusError is returned for any non-200, non-404 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Client is an HTTP client for the Gamma API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new Gamma API client.
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

// WithRateLimit caps outgoing requests to perSecond with the given burst.
// A non-positive rate disables limiting.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// FetchEventBySlug fetches a single event, including its markets.
func (c *Client) FetchEventBySlug(ctx context.Context, slug string) (*Event, error) {
	u := c.baseURL + "/events/slug/" + url.PathEscape(slug)

	var event Event
	if err := c.get(ctx, u, &event); err != nil {
		return nil, err
	}
	if event.Slug == "" && event.ID == "" && len(event.Markets) == 0 {
		return nil, fmt.Errorf("event %s: %w", slug, ErrNotFound)
	}

	return &event, nil
}

// FetchEvents fetches events from the Gamma API.
func (c *Client) FetchEvents(ctx context.Context, filter *Filter) ([]Event, error) {
	u := c.baseURL + "/events"
	if filter != nil {
		u += "?" + buildQuery(filter)
	}

	var events []Event
	if err := c.get(ctx, u, &events); err != nil {
		return nil, err
	}

	return events, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return nil
}

// buildQuery builds URL query parameters from a Filter.
func buildQuery(f *Filter) string {
	v := url.Values{}
	if f.Active != nil {
		v.Set("active", strconv.FormatBool(*f.Active))
	}
	if f.Closed != nil {
		v.Set("closed", strconv.FormatBool(*f.Closed))
	}
	if f.TagSlug != "" {
		v.Set("tag_slug", f.TagSlug)
	}
	if f.Slug != "" {
		v.Set("slug", f.Slug)
	}
	if f.Limit > 0 {
		v.Set("_limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("_offset", strconv.Itoa(f.Offset))
	}
	return v.Encode()
}
