package model

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// BlockType is the discriminator of the Block union.
type BlockType string

const (
	BlockTypeSource BlockType = "source"
	BlockTypeFilter BlockType = "filter"
	BlockTypeAction BlockType = "action"
)

// SourceKind selects a source stage implementation.
type SourceKind string

const (
	SourceNewsCompanySearch          SourceKind = "NEWS_COMPANY_SEARCH"
	SourceExtractPeopleFromCompanies SourceKind = "EXTRACT_PEOPLE_FROM_COMPANIES"
)

// ActionKind selects an action stage implementation.
type ActionKind string

const (
	ActionNotify           ActionKind = "NOTIFY"
	ActionUploadCandidates ActionKind = "UPLOAD_CANDIDATES"
)

// News search modes.
const (
	SearchModeRecent = "recent"
	SearchModeAny    = "any"
)

// SourceBlock acquires candidate data. Query and Mode apply to
// NEWS_COMPANY_SEARCH; Titles applies to EXTRACT_PEOPLE_FROM_COMPANIES.
type SourceBlock struct {
	Source SourceKind `json:"kind" yaml:"kind"`
	Query  string     `json:"query,omitempty" yaml:"query,omitempty"`
	Mode   string     `json:"mode,omitempty" yaml:"mode,omitempty"`
	Titles []string   `json:"titles,omitempty" yaml:"titles,omitempty"`
}

// FilterCriteria narrows candidate data. Every field is optional and each
// present criterion is applied independently.
type FilterCriteria struct {
	CompanyQuery string   `json:"companyQuery,omitempty" yaml:"companyQuery,omitempty"`
	PeopleQuery  string   `json:"peopleQuery,omitempty" yaml:"peopleQuery,omitempty"`
	CompanyNames []string `json:"companyNames,omitempty" yaml:"companyNames,omitempty"`
	PersonTitles []string `json:"personTitles,omitempty" yaml:"personTitles,omitempty"`
}

// Empty reports whether no criterion is set.
func (c FilterCriteria) Empty() bool {
	return c.CompanyQuery == "" && c.PeopleQuery == "" && len(c.CompanyNames) == 0 && len(c.PersonTitles) == 0
}

// FilterBlock narrows candidate data.
type FilterBlock struct {
	Criteria FilterCriteria `json:"criteria" yaml:"criteria"`
}

// RichBlock is one structured message block (Slack block-kit shaped).
type RichBlock map[string]any

// ActionBlock produces side effects. Message, Blocks and Destinations apply
// to NOTIFY; CampaignID and AllowDuplicates apply to UPLOAD_CANDIDATES.
type ActionBlock struct {
	Action          ActionKind  `json:"kind" yaml:"kind"`
	Message         string      `json:"message,omitempty" yaml:"message,omitempty"`
	Blocks          []RichBlock `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Destinations    []string    `json:"destinations,omitempty" yaml:"destinations,omitempty"`
	CampaignID      string      `json:"campaignId,omitempty" yaml:"campaignId,omitempty"`
	AllowDuplicates bool        `json:"allowDuplicates,omitempty" yaml:"allowDuplicates,omitempty"`
}

// Block is one stage of a trigger pipeline. Exactly one of Source, Filter
// or Action is set, matching Type.
type Block struct {
	Type   BlockType
	Source *SourceBlock
	Filter *FilterBlock
	Action *ActionBlock
}

// NewSourceBlock wraps s as a Block.
func NewSourceBlock(s SourceBlock) Block {
	return Block{Type: BlockTypeSource, Source: &s}
}

// NewFilterBlock wraps criteria as a Block.
func NewFilterBlock(criteria FilterCriteria) Block {
	return Block{Type: BlockTypeFilter, Filter: &FilterBlock{Criteria: criteria}}
}

// NewActionBlock wraps a as a Block.
func NewActionBlock(a ActionBlock) Block {
	return Block{Type: BlockTypeAction, Action: &a}
}

// Kind returns the executor selector for the block: the source or action
// kind, or "FILTER".
func (b Block) Kind() string {
	switch b.Type {
	case BlockTypeSource:
		if b.Source != nil {
			return string(b.Source.Source)
		}
	case BlockTypeFilter:
		return "FILTER"
	case BlockTypeAction:
		if b.Action != nil {
			return string(b.Action.Action)
		}
	}
	return ""
}

type blockEnvelope struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// EncodeBlock serialises b as {"type": ..., "params": {...}}.
func EncodeBlock(b Block) ([]byte, error) {
	var params any
	switch b.Type {
	case BlockTypeSource:
		if b.Source == nil {
			return nil, &MalformedBlockError{Tag: string(b.Type), Reason: "missing source payload"}
		}
		params = b.Source
	case BlockTypeFilter:
		if b.Filter == nil {
			return nil, &MalformedBlockError{Tag: string(b.Type), Reason: "missing filter payload"}
		}
		params = b.Filter
	case BlockTypeAction:
		if b.Action == nil {
			return nil, &MalformedBlockError{Tag: string(b.Type), Reason: "missing action payload"}
		}
		params = b.Action
	default:
		return nil, &MalformedBlockError{Tag: string(b.Type), Reason: "unknown block type"}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &MalformedBlockError{Tag: string(b.Type), Reason: err.Error()}
	}
	return json.Marshal(blockEnvelope{Type: string(b.Type), Params: raw})
}

// DecodeBlock parses a block record. Unknown type tags and unknown kinds
// yield a *MalformedBlockError.
func DecodeBlock(data []byte) (Block, error) {
	var env blockEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Block{}, &MalformedBlockError{Reason: err.Error()}
	}
	params := bytes.TrimSpace(env.Params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return Block{}, &MalformedBlockError{Tag: env.Type, Reason: "missing params"}
	}

	switch BlockType(env.Type) {
	case BlockTypeSource:
		var s SourceBlock
		if err := json.Unmarshal(params, &s); err != nil {
			return Block{}, &MalformedBlockError{Tag: env.Type, Reason: err.Error()}
		}
		switch s.Source {
		case SourceNewsCompanySearch, SourceExtractPeopleFromCompanies:
		default:
			return Block{}, &MalformedBlockError{Tag: env.Type, Reason: "unknown source kind " + string(s.Source)}
		}
		return NewSourceBlock(s), nil

	case BlockTypeFilter:
		var f FilterBlock
		if err := json.Unmarshal(params, &f); err != nil {
			return Block{}, &MalformedBlockError{Tag: env.Type, Reason: err.Error()}
		}
		return Block{Type: BlockTypeFilter, Filter: &f}, nil

	case BlockTypeAction:
		var a ActionBlock
		if err := json.Unmarshal(params, &a); err != nil {
			return Block{}, &MalformedBlockError{Tag: env.Type, Reason: err.Error()}
		}
		switch a.Action {
		case ActionNotify, ActionUploadCandidates:
		default:
			return Block{}, &MalformedBlockError{Tag: env.Type, Reason: "unknown action kind " + string(a.Action)}
		}
		return NewActionBlock(a), nil

	default:
		return Block{}, &MalformedBlockError{Tag: env.Type, Reason: "unknown block type"}
	}
}

// EncodeBlocks serialises an ordered block list as a JSON array.
func EncodeBlocks(blocks []Block) ([]byte, error) {
	if blocks == nil {
		blocks = []Block{}
	}
	return json.Marshal(blocks)
}

// DecodeBlocks parses a JSON array of block records, failing on the first
// malformed element.
func DecodeBlocks(data []byte) ([]Block, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	return EncodeBlock(b)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeBlock(data)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// MarshalYAML emits the same envelope shape as the JSON codec.
func (b Block) MarshalYAML() (any, error) {
	raw, err := EncodeBlock(b)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalYAML decodes through the JSON codec so both formats share one
// set of rules.
func (b *Block) UnmarshalYAML(node *yaml.Node) error {
	var generic map[string]any
	if err := node.Decode(&generic); err != nil {
		return &MalformedBlockError{Reason: err.Error()}
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return &MalformedBlockError{Reason: err.Error()}
	}
	return b.UnmarshalJSON(raw)
}
