package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// maxInClause bounds the number of literals in one SOQL IN clause.
const maxInClause = 100

// LinkedInField is the custom Lead field holding the profile URL.
const LinkedInField = "LinkedIn_URL__c"

// Lead is the subset of Lead fields written for trigger candidates.
type Lead struct {
	FirstName   string
	LastName    string
	Title       string
	Company     string
	LinkedInURL string
	LeadSource  string
	CampaignID  string
}

// Fields returns the Lead as an SObject field map. Salesforce requires
// LastName and Company, so placeholders are used when they are empty.
func (l Lead) Fields() map[string]any {
	last := l.LastName
	if last == "" {
		last = "Unknown"
	}
	company := l.Company
	if company == "" {
		company = "Unknown"
	}
	m := map[string]any{
		"FirstName":   l.FirstName,
		"LastName":    last,
		"Company":     company,
		LinkedInField: l.LinkedInURL,
	}
	if l.Title != "" {
		m["Title"] = l.Title
	}
	if l.LeadSource != "" {
		m["LeadSource"] = l.LeadSource
	}
	if l.CampaignID != "" {
		m["Campaign_Id__c"] = l.CampaignID
	}
	return m
}

// InsertLeads inserts leads in batches of 200 (SF Collections API limit).
// Results are returned in input order.
func InsertLeads(ctx context.Context, c Client, leads []Lead) ([]CollectionResult, error) {
	if len(leads) == 0 {
		return nil, nil
	}

	var all []CollectionResult
	for start := 0; start < len(leads); start += maxBatchSize {
		end := min(start+maxBatchSize, len(leads))

		records := make([]map[string]any, 0, end-start)
		for _, l := range leads[start:end] {
			records = append(records, l.Fields())
		}

		results, err := c.InsertCollection(ctx, "Lead", records)
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: insert leads batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}

type leadURLRow struct {
	ID          string `json:"Id" salesforce:"Id"`
	LinkedInURL string `json:"LinkedIn_URL__c" salesforce:"LinkedIn_URL__c"`
}

// ExistingLeadURLs returns the subset of urls already present on a Lead.
func ExistingLeadURLs(ctx context.Context, c Client, urls []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(urls); start += maxInClause {
		end := min(start+maxInClause, len(urls))

		quoted := make([]string, 0, end-start)
		for _, u := range urls[start:end] {
			quoted = append(quoted, "'"+escapeSoql(u)+"'")
		}
		soql := fmt.Sprintf("SELECT Id, %s FROM Lead WHERE %s IN (%s)",
			LinkedInField, LinkedInField, strings.Join(quoted, ", "))

		var rows []leadURLRow
		if err := c.Query(ctx, soql, &rows); err != nil {
			return nil, eris.Wrap(err, "sf: find existing leads")
		}
		for _, r := range rows {
			found[r.LinkedInURL] = true
		}
	}
	return found, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

// IsCampaignID reports whether id looks like a Salesforce Campaign record id.
func IsCampaignID(id string) bool {
	return (len(id) == 15 || len(id) == 18) && strings.HasPrefix(id, "701")
}

// AddCampaignMembers attaches leads to a Campaign. Results are returned in
// input order.
func AddCampaignMembers(ctx context.Context, c Client, campaignID string, leadIDs []string) ([]CollectionResult, error) {
	var all []CollectionResult
	for start := 0; start < len(leadIDs); start += maxBatchSize {
		end := min(start+maxBatchSize, len(leadIDs))

		records := make([]map[string]any, 0, end-start)
		for _, id := range leadIDs[start:end] {
			records = append(records, map[string]any{
				"CampaignId": campaignID,
				"LeadId":     id,
				"Status":     "Sent",
			})
		}
		results, err := c.InsertCollection(ctx, "CampaignMember", records)
		if err != nil {
			return all, eris.Wrapf(err, "sf: add campaign members %d-%d", start, end)
		}
		all = append(all, results...)
	}
	return all, nil
}
