// Package notion writes trigger notifications as pages in a Notion database.
package notion

import (
	"context"
	"errors"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// defaultRPS is Notion's documented average request rate per integration.
const defaultRPS = 3

// Client creates notification pages.
type Client interface {
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default rate limit. Zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type notionClient struct {
	pages   notionapi.PageService
	limiter *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		pages:   notionapi.NewClient(notionapi.Token(token)).Page,
		limiter: rate.NewLimiter(defaultRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
	}
	page, err := c.pages.Create(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	zap.L().Debug("notion: page created",
		zap.String("page_id", string(page.ID)),
		zap.String("database_id", string(req.Parent.DatabaseID)),
	)
	return page, nil
}

// classify converts API errors into resilience status errors so that
// throttling and server errors are retried by the caller.
func classify(err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return resilience.HTTPStatusError("notion", apiErr.Status, apiErr.Message)
	}
	var limited *notionapi.RateLimitedError
	if errors.As(err, &limited) {
		return resilience.HTTPStatusError("notion", 429, limited.Message)
	}
	return eris.Wrap(err, "notion: create page")
}
