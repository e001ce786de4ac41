// Package notify delivers trigger notifications to webhook and Notion
// destinations and fans live run progress out to subscribers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/pkg/notion"
)

// NotionScheme prefixes destinations that name a Notion database ID.
const NotionScheme = "notion://"

// maxTitle bounds the Notion page title taken from the message.
const maxTitle = 120

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for webhook delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) { d.http = hc }
}

// WithRateLimit caps webhook posts per second across all destinations.
func WithRateLimit(rps float64) Option {
	return func(d *Dispatcher) {
		if rps > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithNotion enables notion:// destinations.
func WithNotion(client notion.Client, guard *resilience.Guard) Option {
	return func(d *Dispatcher) {
		d.notion = client
		d.notionGuard = guard
	}
}

// Dispatcher implements trigger.Notifier.
type Dispatcher struct {
	http        *http.Client
	limiter     *rate.Limiter
	guard       *resilience.Guard
	notion      notion.Client
	notionGuard *resilience.Guard
	now         func() time.Time
}

// NewDispatcher returns a Dispatcher whose webhook posts run through guard.
func NewDispatcher(guard *resilience.Guard, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		http:  &http.Client{Timeout: 10 * time.Second},
		guard: guard,
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type webhookPayload struct {
	Text   string            `json:"text"`
	Blocks []model.RichBlock `json:"blocks,omitempty"`
}

// Notify delivers message to every destination and reports whether all of
// them accepted it. Failures are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, message string, blocks []model.RichBlock, destinations []string) bool {
	if len(destinations) == 0 {
		return false
	}

	ok := true
	for _, dest := range destinations {
		if err := d.deliver(ctx, message, blocks, dest); err != nil {
			zap.L().Warn("notify: delivery failed",
				zap.String("destination", redact(dest)),
				zap.Error(err),
			)
			ok = false
		}
	}
	return ok
}

func (d *Dispatcher) deliver(ctx context.Context, message string, blocks []model.RichBlock, dest string) error {
	switch {
	case strings.HasPrefix(dest, NotionScheme):
		return d.deliverNotion(ctx, message, strings.TrimPrefix(dest, NotionScheme))
	case strings.HasPrefix(dest, "https://"), strings.HasPrefix(dest, "http://"):
		return d.deliverWebhook(ctx, message, blocks, dest)
	default:
		return eris.Errorf("notify: unsupported destination %q", redact(dest))
	}
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, message string, blocks []model.RichBlock, url string) error {
	payload, err := json.Marshal(webhookPayload{Text: message, Blocks: blocks})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	_, err = resilience.Call(ctx, d.guard, "webhook", func(ctx context.Context) (struct{}, error) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return struct{}{}, eris.Wrap(err, "notify: rate limit wait")
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, eris.Wrap(err, "notify: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.http.Do(req)
		if err != nil {
			return struct{}{}, eris.Wrap(err, "notify: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 300 {
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(resp.Body)
			return struct{}{}, resilience.ResponseError("webhook", resp, buf.String())
		}
		return struct{}{}, nil
	})
	return err
}

func (d *Dispatcher) deliverNotion(ctx context.Context, message, dbID string) error {
	if d.notion == nil {
		return eris.New("notify: notion destination configured without a notion token")
	}
	if dbID == "" {
		return eris.New("notify: notion destination missing database id")
	}

	page := notion.WithParagraphs(notion.NewDatabasePage(dbID, title(message), map[string]string{
		"Message": message,
		"Sent At": d.now().UTC().Format(time.RFC3339),
	}), strings.Split(message, "\n")...)
	guard := d.notionGuard
	if guard == nil {
		guard = d.guard
	}
	_, err := resilience.Call(ctx, guard, "create_page", func(ctx context.Context) (struct{}, error) {
		_, err := d.notion.CreatePage(ctx, page)
		return struct{}{}, err
	})
	return err
}

// title returns the first line of message, bounded to maxTitle runes.
func title(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	r := []rune(line)
	if len(r) > maxTitle {
		return string(r[:maxTitle])
	}
	if line == "" {
		return "Trigger notification"
	}
	return line
}

// redact keeps the scheme and host of a destination so webhook secrets in
// the path never reach the logs.
func redact(dest string) string {
	scheme, rest, ok := strings.Cut(dest, "://")
	if !ok {
		return "invalid"
	}
	if scheme == "notion" {
		return dest
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/..."
}
