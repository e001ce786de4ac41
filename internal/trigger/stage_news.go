package trigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

// NewsStage implements NEWS_COMPANY_SEARCH: news hits are resolved to
// company names by the classifier, dropping non-matches and companies in
// the live ledger.
type NewsStage struct {
	Searcher   Searcher
	Classifier Classifier
}

// Execute runs the stage.
func (s *NewsStage) Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error) {
	log := sc.logger()
	query := Render(b.Source.Query, data.Metadata)
	mode := b.Source.Mode
	if mode == "" {
		mode = model.SearchModeRecent
	}

	results, err := s.Searcher.SearchNews(ctx, query, mode)
	if err != nil {
		return data, err
	}

	out := data.Clone()
	companies := make([]model.PipelineCompany, 0, len(results))
	seen := make(map[string]bool)
	suppressed := 0

	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return data, err
		}

		answer, err := s.Classifier.Classify(ctx, companyPrompt(r))
		if err != nil {
			if ctx.Err() != nil {
				return data, ctx.Err()
			}
			log.Warn("trigger: company extraction failed, skipping item",
				zap.String("link", r.Link), zap.Error(err))
			continue
		}
		if IsNone(answer) {
			continue
		}

		name := cleanCompanyName(answer)
		key := model.BlacklistKey(name)
		if key == "" || seen[key] {
			continue
		}
		if sc.Suppressed(name) {
			suppressed++
			continue
		}
		seen[key] = true

		companies = append(companies, model.PipelineCompany{
			Name:    name,
			Title:   r.Title,
			Snippet: r.Snippet,
			Link:    r.Link,
			Date:    r.Date,
			Image:   r.Thumbnail,
		})
	}

	out.Companies = companies
	out.SetMeta(model.MetaSourceCompanyQuery, query)
	out.SetMeta(model.MetaSourceCompaniesFound, len(results))
	out.SetMeta(model.MetaCurrentCompaniesFound, len(companies))

	log.Info("trigger: news search complete",
		zap.Int("results", len(results)),
		zap.Int("companies", len(companies)),
		zap.Int("suppressed", suppressed),
	)
	sc.Progress("companies_found", map[string]any{"companies": out.CompanyNames()})
	return out, nil
}
