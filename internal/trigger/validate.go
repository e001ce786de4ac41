package trigger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Validator checks trigger configuration before it is persisted.
type Validator struct {
	v        *validator.Validate
	registry Registry
}

// NewValidator returns a Validator accepting the kinds in registry.
func NewValidator(registry Registry) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v, registry: registry}
}

// Validate returns a *model.ConfigurationError describing the first problem
// found in t, or nil.
func (val *Validator) Validate(t *model.Trigger) error {
	if len(t.Blocks) == 0 {
		return &model.ConfigurationError{Field: "blocks", Reason: "a trigger needs at least one block"}
	}
	if err := val.v.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &model.ConfigurationError{Field: fe.Field(), Reason: reason(fe)}
		}
		return &model.ConfigurationError{Reason: err.Error()}
	}
	for i, b := range t.Blocks {
		if err := val.validateBlock(b); err != nil {
			err.Field = fmt.Sprintf("blocks[%d].%s", i, err.Field)
			return err
		}
	}
	return nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func (val *Validator) validateBlock(b model.Block) *model.ConfigurationError {
	kind := b.Kind()
	if kind == "" {
		return &model.ConfigurationError{Field: "type", Reason: fmt.Sprintf("block of type %q has no payload", b.Type)}
	}
	if val.registry != nil && !val.registry.Supports(kind) {
		return &model.ConfigurationError{Field: "kind", Reason: "unsupported block kind " + kind}
	}

	switch b.Type {
	case model.BlockTypeSource:
		s := b.Source
		switch s.Source {
		case model.SourceNewsCompanySearch:
			if strings.TrimSpace(s.Query) == "" {
				return &model.ConfigurationError{Field: "query", Reason: "is required"}
			}
			if s.Mode != "" && s.Mode != model.SearchModeRecent && s.Mode != model.SearchModeAny {
				return &model.ConfigurationError{Field: "mode", Reason: fmt.Sprintf("must be %q or %q", model.SearchModeRecent, model.SearchModeAny)}
			}
		case model.SourceExtractPeopleFromCompanies:
			if len(nonBlank(s.Titles)) == 0 {
				return &model.ConfigurationError{Field: "titles", Reason: "at least one job title is required"}
			}
		}
	case model.BlockTypeAction:
		a := b.Action
		switch a.Action {
		case model.ActionNotify:
			if len(a.Destinations) == 0 {
				return &model.ConfigurationError{Field: "destinations", Reason: "at least one destination is required"}
			}
			for _, d := range a.Destinations {
				if !validDestination(d) {
					return &model.ConfigurationError{Field: "destinations", Reason: fmt.Sprintf("unsupported destination %q", d)}
				}
			}
			if strings.TrimSpace(a.Message) == "" && len(a.Blocks) == 0 {
				return &model.ConfigurationError{Field: "message", Reason: "a message or rich blocks are required"}
			}
		case model.ActionUploadCandidates:
			if strings.TrimSpace(a.CampaignID) == "" {
				return &model.ConfigurationError{Field: "campaignId", Reason: "is required"}
			}
		}
	}
	return nil
}

func validDestination(d string) bool {
	switch {
	case strings.HasPrefix(d, "https://"), strings.HasPrefix(d, "http://"):
		return len(d) > len("https://")
	case strings.HasPrefix(d, "notion://"):
		return len(d) > len("notion://")
	default:
		return false
	}
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	return out
}
