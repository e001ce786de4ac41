// Package ingest provides a client for the candidate ingestion API.
package ingest

import (
	"bytes"
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

// Client submits candidate rows to a tenant campaign.
type Client interface {
	Ingest(ctx context.Context, req Request) (*Response, error)
}

// Row is one candidate to ingest.
type Row struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	LinkedInURL string `json:"linkedin_url"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}

// Request is a bulk ingestion request.
type Request struct {
	TenantID        string `json:"-"`
	CampaignID      string `json:"-"`
	Rows            []Row  `json:"prospects"`
	AllowDuplicates bool   `json:"allow_duplicates"`
}

// Response is the ingestion result. ErrorCode is empty on success.
type Response struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
}

// RejectedError is returned when the API answers with an error code.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ingest: rejected (%s): %s", e.Code, e.Message)
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

// NewClient creates an ingestion client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Ingest(ctx context.Context, req Request) (*Response, error) {
	if req.TenantID == "" || req.CampaignID == "" {
		return nil, eris.New("ingest: tenant id and campaign id are required")
	}
	if req.Rows == nil {
		req.Rows = []Row{}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: marshal request")
	}

	reqURL := fmt.Sprintf("%s/tenants/%s/campaigns/%s/prospects",
		c.baseURL, url.PathEscape(req.TenantID), url.PathEscape(req.CampaignID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.ResponseError("ingest", resp, string(body))
	}

	var out Response
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "ingest: unmarshal response")
		}
	}
	if out.ErrorCode != "" {
		return &out, &RejectedError{Code: out.ErrorCode, Message: out.Message}
	}
	return &out, nil
}
