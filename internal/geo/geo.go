// Package geo resolves coarse geolocation for client IPs via an external
// HTTP lookup service. Results enrich session rows and are strictly
// best-effort: a failed lookup never affects the session lifecycle.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client queries a JSON geolocation endpoint of the form
// GET <base>/<ip> returning {"latitude": f, "longitude": f}.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) {
		if c != nil {
			g.http = c
		}
	}
}

// NewClient builds a geolocation client against the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("geo: base URL is required")
	}
	g := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type lookupResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Lookup resolves the coordinates for an IP. Private and unparseable
// addresses are rejected locally without a network call.
func (g *Client) Lookup(ctx context.Context, ip string) (float64, float64, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, 0, fmt.Errorf("geo: invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return 0, 0, fmt.Errorf("geo: non-routable ip %q", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("geo: lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geo: lookup %s: unexpected status %d", ip, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, fmt.Errorf("geo: decode response: %w", err)
	}
	return body.Latitude, body.Longitude, nil
}
