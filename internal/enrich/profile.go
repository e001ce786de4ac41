// Package enrich adapts the profile-detail API to the trigger
// ProfileEnricher port.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/internal/trigger"
	"github.com/sells-group/trigger-cli/pkg/profile"
)

// ProfileEnricher implements trigger.ProfileEnricher.
type ProfileEnricher struct {
	client profile.Client
	guard  *resilience.Guard
}

// NewProfileEnricher returns an enricher whose calls run through guard.
func NewProfileEnricher(client profile.Client, guard *resilience.Guard) *ProfileEnricher {
	return &ProfileEnricher{client: client, guard: guard}
}

// EnrichProfile fetches details for profileID.
func (e *ProfileEnricher) EnrichProfile(ctx context.Context, profileID string) (*trigger.ProfileDetail, error) {
	if profileID == "" {
		return nil, eris.New("enrich: empty profile id")
	}

	d, err := resilience.Call(ctx, e.guard, "profile", func(ctx context.Context) (*profile.Detail, error) {
		return e.client.GetProfile(ctx, profileID)
	})
	if err != nil {
		return nil, err
	}

	title := d.Title
	if title == "" {
		title = d.Headline
	}
	return &trigger.ProfileDetail{
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Title:      title,
		Company:    d.Company,
		Industry:   d.Industry,
		ProfileURL: d.ProfileURL,
	}, nil
}
