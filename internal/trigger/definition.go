package trigger

import (
	"strings"
	"time"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Definition is the user-facing shape of a trigger, accepted by the API and
// by `triggers apply`. Interval is a Go duration string such as "6h".
type Definition struct {
	ID          string        `json:"id,omitempty" yaml:"id,omitempty"`
	TenantID    string        `json:"tenant_id" yaml:"tenant_id"`
	Emoji       string        `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Interval    string        `json:"interval" yaml:"interval"`
	Active      *bool         `json:"active,omitempty" yaml:"active,omitempty"`
	Blocks      []model.Block `json:"blocks" yaml:"blocks"`
}

// Trigger converts d into a model.Trigger. Active defaults to true.
func (d Definition) Trigger() (*model.Trigger, error) {
	interval, err := time.ParseDuration(strings.TrimSpace(d.Interval))
	if err != nil {
		return nil, &model.ConfigurationError{Field: "interval", Reason: "must be a duration such as 6h"}
	}
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return &model.Trigger{
		ID:          d.ID,
		TenantID:    d.TenantID,
		Emoji:       d.Emoji,
		Name:        d.Name,
		Description: d.Description,
		Interval:    interval,
		Active:      active,
		Blocks:      d.Blocks,
	}, nil
}

// DefinitionOf is the inverse of Definition.Trigger.
func DefinitionOf(t *model.Trigger) Definition {
	active := t.Active
	return Definition{
		ID:          t.ID,
		TenantID:    t.TenantID,
		Emoji:       t.Emoji,
		Name:        t.Name,
		Description: t.Description,
		Interval:    t.Interval.String(),
		Active:      &active,
		Blocks:      t.Blocks,
	}
}
