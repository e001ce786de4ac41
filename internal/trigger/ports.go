// Package trigger runs block-based trigger pipelines: the runner folds a
// trigger's ordered blocks over PipelineData through stage executors, the
// scheduler dispatches due triggers, and the service validates and persists
// trigger configuration.
package trigger

import (
	"context"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Classifier answers a single-turn prompt. Used for company extraction
// (with a "none" sentinel) and strict yes/no qualification.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// NewsResult is one news search hit.
type NewsResult struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Link      string `json:"link"`
	Date      string `json:"date,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// PersonResult is one people search hit.
type PersonResult struct {
	Link    string `json:"link"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher finds news items and people profiles.
type Searcher interface {
	SearchNews(ctx context.Context, query, mode string) ([]NewsResult, error)
	SearchPeople(ctx context.Context, query string, limit int) ([]PersonResult, error)
}

// ProfileDetail is an enriched person profile.
type ProfileDetail struct {
	FirstName  string
	LastName   string
	Title      string
	Company    string
	Industry   string
	ProfileURL string
}

// ProfileEnricher fetches profile details by profile ID.
type ProfileEnricher interface {
	EnrichProfile(ctx context.Context, profileID string) (*ProfileDetail, error)
}

// IngestRow is one candidate submitted for ingestion.
type IngestRow struct {
	FirstName   string
	LastName    string
	LinkedInURL string
	Title       string
	Company     string
}

// IngestRequest is a bulk ingestion for one tenant campaign.
type IngestRequest struct {
	TenantID        string
	CampaignID      string
	Rows            []IngestRow
	AllowDuplicates bool
}

// IngestResult reports the collaborator's answer. ErrorCode is empty on
// success.
type IngestResult struct {
	Message   string
	ErrorCode string
	Accepted  int
}

// Ingester submits candidates to the downstream outreach system. Duplicate
// detection by profile URL is the ingester's responsibility.
type Ingester interface {
	IngestCandidates(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// Notifier delivers a rendered message to destinations and reports whether
// every destination accepted it.
type Notifier interface {
	Notify(ctx context.Context, message string, blocks []model.RichBlock, destinations []string) bool
}

// Broadcaster publishes live progress. Implementations must not block.
type Broadcaster interface {
	Broadcast(topic string, message any, channel string)
}

// nopBroadcaster discards progress events.
type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any, string) {}
