package notion

import (
	"strings"
	"unicode/utf8"

	"github.com/jomei/notionapi"
)

// maxTextLen is Notion's limit for a single rich text object.
const maxTextLen = 2000

// NewDatabasePage builds a page create request for database dbID. title
// becomes the "Name" title property; each field becomes a rich text
// property, except "URL" which becomes a url property.
func NewDatabasePage(dbID, title string, fields map[string]string) *notionapi.PageCreateRequest {
	props := make(notionapi.Properties, len(fields)+1)
	props["Name"] = notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(title),
	}
	for k, v := range fields {
		if strings.EqualFold(k, "URL") {
			props[k] = notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: v}
			continue
		}
		props[k] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(v),
		}
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	}
}

// richText splits s into rich text objects no longer than maxTextLen runes.
func richText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	for s != "" {
		cut := len(s)
		if utf8.RuneCountInString(s) > maxTextLen {
			cut = 0
			for i := 0; i < maxTextLen; i++ {
				_, size := utf8.DecodeRuneInString(s[cut:])
				cut += size
			}
		}
		out = append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s[:cut]}})
		s = s[cut:]
	}
	if out == nil {
		out = []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: ""}}}
	}
	return out
}

// WithParagraphs appends one paragraph block per non-empty line to the page
// body.
func WithParagraphs(req *notionapi.PageCreateRequest, lines ...string) *notionapi.PageCreateRequest {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		req.Children = append(req.Children, notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: richText(line)},
		})
	}
	return req
}
