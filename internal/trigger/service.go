package trigger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

// Service manages trigger configuration. Every write is validated first.
type Service struct {
	store     store.Store
	validator *Validator
}

// NewService returns a Service validating against registry.
func NewService(st store.Store, registry Registry) *Service {
	return &Service{store: st, validator: NewValidator(registry)}
}

// Validate checks t without persisting it.
func (s *Service) Validate(t *model.Trigger) error {
	return s.validator.Validate(t)
}

// Create validates and stores a new trigger. A trigger without a schedule
// is due immediately.
func (s *Service) Create(ctx context.Context, t *model.Trigger) error {
	if err := s.validator.Validate(t); err != nil {
		return err
	}
	return eris.Wrap(s.store.CreateTrigger(ctx, t), "trigger: create")
}

// Update replaces the configuration of an existing trigger. The ledger,
// schedule and tenant are kept from the stored trigger.
func (s *Service) Update(ctx context.Context, t *model.Trigger) error {
	existing, err := s.store.GetTrigger(ctx, t.ID)
	if err != nil {
		return eris.Wrapf(err, "trigger: load %s", t.ID)
	}
	t.TenantID = existing.TenantID
	t.Blacklist = existing.Blacklist
	t.LastRun = existing.LastRun
	t.NextRun = existing.NextRun
	t.CreatedAt = existing.CreatedAt

	if err := s.validator.Validate(t); err != nil {
		return err
	}
	return eris.Wrapf(s.store.UpdateTrigger(ctx, t), "trigger: update %s", t.ID)
}

// Get returns a trigger by ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Trigger, error) {
	t, err := s.store.GetTrigger(ctx, id)
	return t, eris.Wrapf(err, "trigger: get %s", id)
}

// List returns triggers matching filter.
func (s *Service) List(ctx context.Context, filter store.TriggerFilter) ([]model.Trigger, error) {
	ts, err := s.store.ListTriggers(ctx, filter)
	return ts, eris.Wrap(err, "trigger: list")
}

// SetActive enables or disables scheduling. Schedule timestamps are not
// touched, so a reactivated trigger that is overdue runs on the next tick.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return eris.Wrapf(s.store.SetTriggerActive(ctx, id, active), "trigger: set active %s", id)
}

// Runs returns recent runs of a trigger.
func (s *Service) Runs(ctx context.Context, triggerID string, limit int) ([]model.TriggerRun, error) {
	if _, err := s.store.GetTrigger(ctx, triggerID); err != nil {
		return nil, eris.Wrapf(err, "trigger: load %s", triggerID)
	}
	runs, err := s.store.ListRuns(ctx, store.RunFilter{TriggerID: triggerID, Limit: limit})
	return runs, eris.Wrapf(err, "trigger: list runs %s", triggerID)
}

// Candidates returns the candidates recorded by a run.
func (s *Service) Candidates(ctx context.Context, runID string) ([]model.TriggerCandidate, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, eris.Wrapf(err, "trigger: load run %s", runID)
	}
	cs, err := s.store.ListCandidates(ctx, runID)
	return cs, eris.Wrapf(err, "trigger: list candidates %s", runID)
}
