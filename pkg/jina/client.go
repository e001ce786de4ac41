// Package jina is a client for the Jina search endpoint (s.jina.ai), used
// for news and profile lookups.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// DefaultBaseURL is the public search endpoint.
const DefaultBaseURL = "https://s.jina.ai"

// Client runs web searches.
type Client interface {
	Search(ctx context.Context, q Query) (*SearchResponse, error)
}

// Query is one search. Zero fields are omitted from the request.
type Query struct {
	Text string
	// Site restricts hits to a domain or path prefix, e.g. "linkedin.com/in".
	Site string
	// Recency is a time window in Google tbs syntax, e.g. "qdr:w".
	Recency string
	Limit   int
	// TitlesOnly skips fetching page content; descriptions are still returned.
	TitlesOnly bool
}

type searchBody struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
	TBS string `json:"tbs,omitempty"`
}

// SearchResponse is the decoded search reply.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithSearchBaseURL points the client at another endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit throttles requests to rps per second. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient returns a search client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, q Query) (*SearchResponse, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, eris.New("jina: empty query")
	}
	payload, err := json.Marshal(searchBody{Q: q.Text, Num: q.Limit, TBS: q.Recency})
	if err != nil {
		return nil, eris.Wrap(err, "jina: marshal query")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "jina: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "jina: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if q.Site != "" {
		req.Header.Set("X-Site", q.Site)
	}
	if q.TitlesOnly {
		req.Header.Set("X-Respond-With", "no-content")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// No results for the query.
		return &SearchResponse{Code: resp.StatusCode}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.ResponseError("jina", resp, string(body))
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	if q.Limit > 0 && len(out.Data) > q.Limit {
		out.Data = out.Data[:q.Limit]
	}
	return &out, nil
}
