// Package profile provides a client for the profile enrichment API.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// Client fetches profile details by profile ID.
type Client interface {
	GetProfile(ctx context.Context, profileID string) (*Detail, error)
}

// Detail is the enriched profile of one person.
type Detail struct {
	ProfileID  string `json:"profile_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Title      string `json:"title"`
	Headline   string `json:"headline,omitempty"`
	Company    string `json:"company"`
	Industry   string `json:"industry,omitempty"`
	Location   string `json:"location,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a profile enrichment client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetProfile(ctx context.Context, profileID string) (*Detail, error) {
	if profileID == "" {
		return nil, eris.New("profile: profile id is required")
	}

	reqURL := fmt.Sprintf("%s/profiles/%s", c.baseURL, url.PathEscape(profileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "profile: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "profile: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "profile: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.ResponseError("profile", resp, string(body))
	}

	var d Detail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, eris.Wrap(err, "profile: unmarshal response")
	}
	if d.ProfileID == "" {
		d.ProfileID = profileID
	}
	return &d, nil
}
