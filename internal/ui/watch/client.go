// Package watch is the terminal dashboard behind `moverun watch`. It polls
// a running instance's HTTP API.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/sawpanic/moverun/internal/interfaces/http"
)

// Client reads the pull API
type Client struct {
	base string
	http *http.Client
}

// NewClient targets base, e.g. http://127.0.0.1:8080
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Symbols fetches every symbol's state
func (c *Client) Symbols(ctx context.Context) (api.SymbolsResponse, error) {
	var out api.SymbolsResponse
	err := c.get(ctx, "/v1/symbols", nil, &out)
	return out, err
}

// Movements fetches movement events after the since cursor
func (c *Client) Movements(ctx context.Context, since uint64) (api.EventsResponse, error) {
	var out api.EventsResponse
	q := url.Values{"since": {strconv.FormatUint(since, 10)}}
	err := c.get(ctx, "/v1/movements", q, &out)
	return out, err
}

// News fetches the newest cached articles
func (c *Client) News(ctx context.Context, limit int) (api.NewsResponse, error) {
	var out api.NewsResponse
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.get(ctx, "/v1/news", q, &out)
	return out, err
}
