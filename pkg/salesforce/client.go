// Package salesforce writes trigger candidates to Salesforce as Leads over
// the REST API, authenticating with the OAuth JWT bearer flow.
package salesforce

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the subset of the Salesforce REST API used for lead ingestion.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
}

// CollectionResult is the per-record outcome of a collection insert.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit caps API calls per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// go-salesforce takes no context, so ctx only bounds the limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialised go-salesforce session.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Creds identifies a connected app user for the JWT bearer flow.
type Creds struct {
	LoginURL string
	Username string
	ClientID string
	// KeyPath is a PEM file holding the connected app's private key.
	KeyPath string
}

// Connect reads the private key, exchanges a JWT for an access token and
// returns a Client bound to that session.
func Connect(creds Creds, opts ...ClientOption) (Client, error) {
	pem, err := os.ReadFile(creds.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "sf: read private key")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: string(pem),
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: jwt login")
	}
	zap.L().Info("sf: connected", zap.String("login_url", creds.LoginURL), zap.String("username", creds.Username))
	return NewClient(sf, opts...), nil
}

// call waits on the limiter, runs fn and logs its latency.
func (c *sfClient) call(ctx context.Context, op string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
	}
	start := time.Now()
	err := fn()
	zap.L().Debug("sf: call",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return eris.Wrapf(err, "sf: %s", op)
	}
	return nil
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	return c.call(ctx, "query", func() error {
		return c.sf.Query(soql, out)
	})
}

func (c *sfClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	var results []CollectionResult
	err := c.call(ctx, "insert "+sObjectName, func() error {
		res, err := c.sf.InsertCollection(sObjectName, records, maxBatchSize)
		if err != nil {
			return err
		}
		results = make([]CollectionResult, 0, len(res.Results))
		for _, r := range res.Results {
			cr := CollectionResult{ID: r.Id, Success: r.Success}
			for _, e := range r.Errors {
				cr.Errors = append(cr.Errors, e.Message)
			}
			results = append(results, cr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
