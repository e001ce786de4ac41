package trigger

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/pkg/profile"
)

// PeopleStage implements EXTRACT_PEOPLE_FROM_COMPANIES: one people search
// per company x title pair, then a bounded number of profile enrichments.
type PeopleStage struct {
	Searcher    Searcher
	Enricher    ProfileEnricher
	Concurrency int
}

type peopleQuery struct {
	company string
	title   string
	text    string
}

type peopleHit struct {
	link  string
	query peopleQuery
}

// Execute runs the stage.
func (s *PeopleStage) Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error) {
	log := sc.logger()
	out := data.Clone()

	queries := buildPeopleQueries(data.CompanyNames(), b.Source.Titles)
	if len(queries) == 0 {
		out.People = []model.PipelinePerson{}
		out.SetMeta(model.MetaSourcePeopleFound, 0)
		out.SetMeta(model.MetaCurrentPeopleFound, 0)
		return out, nil
	}

	hits, err := s.search(ctx, queries)
	if err != nil {
		return data, err
	}

	people := make([]model.PipelinePerson, 0, MaxProfileEnrichments)
	seen := make(map[string]bool)
	calls := 0
	for _, h := range hits {
		if calls >= MaxProfileEnrichments {
			break
		}
		if err := ctx.Err(); err != nil {
			return data, err
		}
		id := profile.IDFromURL(h.link)
		if id == "" {
			continue
		}

		calls++
		detail, err := s.Enricher.EnrichProfile(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return data, ctx.Err()
			}
			log.Warn("trigger: profile enrichment failed, skipping candidate",
				zap.String("profile_id", id), zap.Error(err))
			continue
		}

		p := model.PipelinePerson{
			FirstName:  strings.TrimSpace(detail.FirstName),
			LastName:   strings.TrimSpace(detail.LastName),
			Title:      detail.Title,
			Company:    detail.Company,
			Industry:   detail.Industry,
			ProfileURL: detail.ProfileURL,
			CustomData: map[string]any{
				"source":        "people_search",
				"query":         h.query.text,
				"query_company": h.query.company,
				"query_title":   h.query.title,
			},
		}
		if p.ProfileURL == "" {
			p.ProfileURL = h.link
		}
		if p.Company == "" {
			p.Company = h.query.company
		}

		name := p.FullName()
		key := model.BlacklistKey(name)
		if key == "" || seen[key] || sc.Suppressed(name) {
			continue
		}
		seen[key] = true
		people = append(people, p)
	}

	out.People = people
	out.SetMeta(model.MetaSourcePeopleFound, len(hits))
	out.SetMeta(model.MetaCurrentPeopleFound, len(people))

	log.Info("trigger: people extraction complete",
		zap.Int("queries", len(queries)),
		zap.Int("hits", len(hits)),
		zap.Int("enrichments", calls),
		zap.Int("people", len(people)),
	)
	sc.Progress("people_found", map[string]any{"people": out.PersonNames()})
	return out, nil
}

func buildPeopleQueries(companies, titles []string) []peopleQuery {
	var queries []peopleQuery
	for _, c := range companies {
		if len(titles) == 0 {
			queries = append(queries, peopleQuery{company: c, text: c})
			continue
		}
		for _, t := range titles {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			queries = append(queries, peopleQuery{company: c, title: t, text: t + " " + c})
		}
	}
	return queries
}

// search runs every query with bounded concurrency and returns unique hits
// in query order. A query that fails is skipped; the stage fails only when
// every query fails.
func (s *PeopleStage) search(ctx context.Context, queries []peopleQuery) ([]peopleHit, error) {
	results := make([][]PersonResult, len(queries))
	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i, q := range queries {
		g.Go(func() error {
			res, err := s.Searcher.SearchPeople(gCtx, q.text, PeopleResultsPerPair)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("trigger: people search failed, skipping pair",
					zap.String("query", q.text), zap.Error(err))
				mu.Lock()
				failures++
				lastErr = err
				mu.Unlock()
				return nil
			}
			if len(res) > PeopleResultsPerPair {
				res = res[:PeopleResultsPerPair]
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failures == len(queries) {
		return nil, eris.Wrap(lastErr, "trigger: every people search failed")
	}

	var hits []peopleHit
	seen := make(map[string]bool)
	for i, res := range results {
		for _, r := range res {
			link := strings.TrimSpace(r.Link)
			if link == "" || seen[link] {
				continue
			}
			seen[link] = true
			hits = append(hits, peopleHit{link: link, query: queries[i]})
		}
	}
	return hits, nil
}
