package trigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

// FilterStage narrows companies and people. Every present criterion is
// applied independently, so the result is the intersection of all of them.
type FilterStage struct {
	Classifier Classifier
}

// Execute runs the stage.
func (s *FilterStage) Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error) {
	c := b.Filter.Criteria
	out := data.Clone()
	log := sc.logger()

	companies := out.Companies
	if q := Render(c.CompanyQuery, data.Metadata); q != "" {
		kept, err := keepIf(ctx, companies, func(co model.PipelineCompany) (bool, error) {
			return s.ask(ctx, companyQualifyPrompt(q, companyView{Name: co.Name, Title: co.Title, Snippet: co.Snippet}))
		}, log)
		if err != nil {
			return data, err
		}
		companies = kept
	}
	if len(c.CompanyNames) > 0 {
		allowed := make(map[string]bool, len(c.CompanyNames))
		for _, n := range c.CompanyNames {
			allowed[model.BlacklistKey(n)] = true
		}
		kept := companies[:0:0]
		for _, co := range companies {
			if allowed[model.BlacklistKey(co.Name)] {
				kept = append(kept, co)
			}
		}
		companies = kept
	}

	people := out.People
	if q := Render(c.PeopleQuery, data.Metadata); q != "" {
		kept, err := keepIf(ctx, people, func(p model.PipelinePerson) (bool, error) {
			return s.ask(ctx, personQualifyPrompt(q, personView{
				Name: p.FullName(), Title: p.Title, Company: p.Company, Industry: p.Industry,
			}))
		}, log)
		if err != nil {
			return data, err
		}
		people = kept
	}
	if len(c.PersonTitles) > 0 {
		kept, err := keepIf(ctx, people, func(p model.PipelinePerson) (bool, error) {
			if p.Title == "" {
				return false, nil
			}
			return s.ask(ctx, titleMatchPrompt(p.Title, c.PersonTitles))
		}, log)
		if err != nil {
			return data, err
		}
		people = kept
	}

	out.Companies = companies
	out.People = people
	out.SetMeta(model.MetaCurrentCompaniesFound, len(companies))
	out.SetMeta(model.MetaCurrentPeopleFound, len(people))

	log.Info("trigger: filter applied",
		zap.Int("companies_in", len(data.Companies)),
		zap.Int("companies_out", len(companies)),
		zap.Int("people_in", len(data.People)),
		zap.Int("people_out", len(people)),
	)
	return out, nil
}

func (s *FilterStage) ask(ctx context.Context, prompt string) (bool, error) {
	answer, err := s.Classifier.Classify(ctx, prompt)
	if err != nil {
		return false, err
	}
	return ParseYesNo(answer), nil
}

// keepIf returns the items for which pred is true. A failed predicate drops
// the item unless the context itself is done, which aborts the stage.
func keepIf[T any](ctx context.Context, items []T, pred func(T) (bool, error), log *zap.Logger) ([]T, error) {
	kept := make([]T, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := pred(it)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("trigger: qualification failed, skipping candidate", zap.Error(err))
			continue
		}
		if ok {
			kept = append(kept, it)
		}
	}
	return kept, nil
}
