package model

import "strings"

// Metadata counter keys written by stages and read by templates.
const (
	MetaSourceCompanyQuery    = "sourceCompanyQuery"
	MetaSourceCompaniesFound  = "sourceCompaniesFound"
	MetaCurrentCompaniesFound = "currentCompaniesFound"
	MetaSourcePeopleFound     = "sourcePeopleFound"
	MetaCurrentPeopleFound    = "currentPeopleFound"
	MetaCandidatesUploaded    = "candidatesUploaded"
	MetaNotificationDelivered = "notificationDelivered"
)

// PipelineCompany is a company surfaced by a source stage.
type PipelineCompany struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Link    string `json:"link,omitempty"`
	Date    string `json:"date,omitempty"`
	Image   string `json:"image,omitempty"`
}

// PipelinePerson is a person surfaced by a source stage.
type PipelinePerson struct {
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Title      string         `json:"title,omitempty"`
	Company    string         `json:"company,omitempty"`
	Industry   string         `json:"industry,omitempty"`
	ProfileURL string         `json:"profile_url,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// FullName joins first and last name.
func (p PipelinePerson) FullName() string {
	return joinName(p.FirstName, p.LastName)
}

// PipelineData is the value threaded through the stages of one run.
type PipelineData struct {
	Companies []PipelineCompany `json:"companies"`
	People    []PipelinePerson  `json:"people"`
	Metadata  map[string]any    `json:"metadata"`
}

// NewPipelineData returns an empty PipelineData with an initialised metadata map.
func NewPipelineData() PipelineData {
	return PipelineData{Metadata: make(map[string]any)}
}

// Clone returns a copy whose slices and metadata map can be mutated without
// affecting d. Person custom data maps are shared.
func (d PipelineData) Clone() PipelineData {
	out := PipelineData{
		Companies: append([]PipelineCompany(nil), d.Companies...),
		People:    append([]PipelinePerson(nil), d.People...),
		Metadata:  make(map[string]any, len(d.Metadata)),
	}
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// SetMeta sets a metadata value, allocating the map when needed.
func (d *PipelineData) SetMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// CompanyNames returns the non-empty company names in order.
func (d PipelineData) CompanyNames() []string {
	names := make([]string, 0, len(d.Companies))
	for _, c := range d.Companies {
		if n := strings.TrimSpace(c.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// PersonNames returns the non-empty person full names in order.
func (d PipelineData) PersonNames() []string {
	names := make([]string, 0, len(d.People))
	for _, p := range d.People {
		if n := p.FullName(); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
