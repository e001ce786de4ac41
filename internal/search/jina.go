// Package search adapts the Jina search API to the trigger Searcher port.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/internal/trigger"
	"github.com/sells-group/trigger-cli/pkg/jina"
)

// ProfileSite is the site filter applied to people searches.
const ProfileSite = "linkedin.com/in"

// recentWindow limits "recent" news searches to the past week.
const recentWindow = "qdr:w"

// maxSnippet bounds the snippet carried into the pipeline.
const maxSnippet = 500

// JinaSearcher implements trigger.Searcher on top of the Jina search API.
type JinaSearcher struct {
	client jina.Client
	guard  *resilience.Guard
}

// NewJinaSearcher returns a Searcher whose calls run through guard.
func NewJinaSearcher(client jina.Client, guard *resilience.Guard) *JinaSearcher {
	return &JinaSearcher{client: client, guard: guard}
}

// SearchNews returns news items for query. Mode "recent" (the default)
// restricts results to the past week; "any" applies no time window.
func (s *JinaSearcher) SearchNews(ctx context.Context, query, mode string) ([]trigger.NewsResult, error) {
	q := jina.Query{Text: query}
	if mode != model.SearchModeAny {
		q.Recency = recentWindow
	}

	resp, err := resilience.Call(ctx, s.guard, "news", func(ctx context.Context) (*jina.SearchResponse, error) {
		return s.client.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	out := make([]trigger.NewsResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" && r.Title == "" {
			continue
		}
		out = append(out, trigger.NewsResult{
			Title:     strings.TrimSpace(r.Title),
			Snippet:   snippet(r),
			Link:      r.URL,
			Date:      r.Date,
			Thumbnail: r.Image,
		})
	}
	return out, nil
}

// SearchPeople returns at most limit profile hits for query, restricted to
// profile pages.
func (s *JinaSearcher) SearchPeople(ctx context.Context, query string, limit int) ([]trigger.PersonResult, error) {
	q := jina.Query{Text: query, Site: ProfileSite, Limit: max(limit, 0), TitlesOnly: true}

	resp, err := resilience.Call(ctx, s.guard, "people", func(ctx context.Context) (*jina.SearchResponse, error) {
		return s.client.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	out := make([]trigger.PersonResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		if !strings.Contains(r.URL, "/in/") {
			continue
		}
		out = append(out, trigger.PersonResult{Link: r.URL, Title: r.Title, Snippet: snippet(r)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func snippet(r jina.SearchResult) string {
	s := strings.TrimSpace(r.Description)
	if s == "" {
		s = strings.TrimSpace(r.Content)
	}
	if len(s) > maxSnippet {
		n := maxSnippet
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}
