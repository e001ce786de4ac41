// Package ingest adapts candidate ingestion backends to the trigger
// Ingester port: the outreach HTTP API or Salesforce Leads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/internal/trigger"
	ingestapi "github.com/sells-group/trigger-cli/pkg/ingest"
	"github.com/sells-group/trigger-cli/pkg/salesforce"
)

// HTTPIngester submits candidates to the outreach ingestion API.
type HTTPIngester struct {
	client ingestapi.Client
	guard  *resilience.Guard
}

// NewHTTPIngester returns an ingester whose calls run through guard.
func NewHTTPIngester(client ingestapi.Client, guard *resilience.Guard) *HTTPIngester {
	return &HTTPIngester{client: client, guard: guard}
}

// IngestCandidates submits req in one call. A rejection carrying an error
// code is returned as a result, not an error.
func (h *HTTPIngester) IngestCandidates(ctx context.Context, req trigger.IngestRequest) (*trigger.IngestResult, error) {
	rows := make([]ingestapi.Row, 0, len(req.Rows))
	for _, r := range req.Rows {
		rows = append(rows, ingestapi.Row{
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			LinkedInURL: r.LinkedInURL,
			Title:       r.Title,
			Company:     r.Company,
		})
	}

	resp, err := resilience.Call(ctx, h.guard, "ingest", func(ctx context.Context) (*ingestapi.Response, error) {
		resp, err := h.client.Ingest(ctx, ingestapi.Request{
			TenantID:        req.TenantID,
			CampaignID:      req.CampaignID,
			Rows:            rows,
			AllowDuplicates: req.AllowDuplicates,
		})
		var rej *ingestapi.RejectedError
		if errors.As(err, &rej) && resp != nil {
			return resp, nil
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	return &trigger.IngestResult{
		Message:   resp.Message,
		ErrorCode: resp.ErrorCode,
		Accepted:  resp.Inserted,
	}, nil
}

// SalesforceIngester writes candidates as Salesforce Leads.
type SalesforceIngester struct {
	client     salesforce.Client
	leadSource string
	guard      *resilience.Guard
}

// NewSalesforceIngester returns an ingester tagging leads with leadSource.
func NewSalesforceIngester(client salesforce.Client, leadSource string, guard *resilience.Guard) *SalesforceIngester {
	return &SalesforceIngester{client: client, leadSource: leadSource, guard: guard}
}

// IngestCandidates inserts one Lead per row. Unless duplicates are allowed,
// rows whose profile URL already exists on a Lead are skipped.
func (s *SalesforceIngester) IngestCandidates(ctx context.Context, req trigger.IngestRequest) (*trigger.IngestResult, error) {
	rows := req.Rows
	skipped := 0

	if !req.AllowDuplicates && len(rows) > 0 {
		urls := make([]string, 0, len(rows))
		for _, r := range rows {
			urls = append(urls, r.LinkedInURL)
		}
		existing, err := resilience.Call(ctx, s.guard, "find_leads", func(ctx context.Context) (map[string]bool, error) {
			return salesforce.ExistingLeadURLs(ctx, s.client, urls)
		})
		if err != nil {
			return nil, err
		}
		fresh := rows[:0:0]
		for _, r := range rows {
			if existing[r.LinkedInURL] {
				skipped++
				continue
			}
			fresh = append(fresh, r)
		}
		rows = fresh
	}

	leads := make([]salesforce.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, salesforce.Lead{
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			Title:       r.Title,
			Company:     r.Company,
			LinkedInURL: r.LinkedInURL,
			LeadSource:  s.leadSource,
			CampaignID:  req.CampaignID,
		})
	}

	results, err := resilience.Call(ctx, s.guard, "insert_leads", func(ctx context.Context) ([]salesforce.CollectionResult, error) {
		return salesforce.InsertLeads(ctx, s.client, leads)
	})
	if err != nil {
		return nil, err
	}

	accepted := 0
	var failures []string
	var leadIDs []string
	for i, r := range results {
		if r.Success {
			accepted++
			leadIDs = append(leadIDs, r.ID)
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", leads[i].LinkedInURL, strings.Join(r.Errors, "; ")))
	}

	res := &trigger.IngestResult{
		Accepted: accepted,
		Message:  fmt.Sprintf("inserted %d leads, skipped %d duplicates", accepted, skipped),
	}
	if len(failures) > 0 {
		zap.L().Warn("ingest: some leads were rejected",
			zap.Int("rejected", len(failures)),
			zap.Strings("details", failures),
		)
		if accepted == 0 {
			res.ErrorCode = "LEAD_INSERT_FAILED"
			res.Message = strings.Join(failures, "\n")
		}
	}
	s.addToCampaign(ctx, req.CampaignID, leadIDs)
	return res, nil
}

// addToCampaign attaches inserted leads to a Salesforce Campaign when the
// campaign id names one. Membership is best-effort: the leads exist either way.
func (s *SalesforceIngester) addToCampaign(ctx context.Context, campaignID string, leadIDs []string) {
	if !salesforce.IsCampaignID(campaignID) || len(leadIDs) == 0 {
		return
	}
	results, err := resilience.Call(ctx, s.guard, "add_campaign_members", func(ctx context.Context) ([]salesforce.CollectionResult, error) {
		return salesforce.AddCampaignMembers(ctx, s.client, campaignID, leadIDs)
	})
	if err != nil {
		zap.L().Warn("ingest: campaign membership failed",
			zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	added := 0
	for _, r := range results {
		if r.Success {
			added++
		}
	}
	zap.L().Debug("ingest: leads added to campaign",
		zap.String("campaign_id", campaignID), zap.Int("added", added))
}
