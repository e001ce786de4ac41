package trigger

import (
	"fmt"
	"regexp"

	"github.com/sells-group/trigger-cli/internal/model"
)

var placeholderRe = regexp.MustCompile(`\[\[METADATA\.([A-Za-z0-9_]+)\]\]`)

// Render replaces [[METADATA.KEY]] tokens with values from meta. Tokens
// naming an absent key are left as written.
func Render(text string, meta map[string]any) string {
	if text == "" || len(meta) == 0 {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(tok string) string {
		key := placeholderRe.FindStringSubmatch(tok)[1]
		v, ok := meta[key]
		if !ok || v == nil {
			return tok
		}
		return fmt.Sprint(v)
	})
}

// RenderBlocks returns a copy of blocks with every string value rendered.
func RenderBlocks(blocks []model.RichBlock, meta map[string]any) []model.RichBlock {
	if blocks == nil {
		return nil
	}
	out := make([]model.RichBlock, len(blocks))
	for i, b := range blocks {
		out[i] = renderValue(map[string]any(b), meta).(map[string]any)
	}
	return out
}

func renderValue(v any, meta map[string]any) any {
	switch t := v.(type) {
	case string:
		return Render(t, meta)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = renderValue(vv, meta)
		}
		return m
	case model.RichBlock:
		return renderValue(map[string]any(t), meta)
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = renderValue(vv, meta)
		}
		return s
	default:
		return v
	}
}
