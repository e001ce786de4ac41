package trigger

import (
	"fmt"
	"strings"
	"unicode"
)

// NoneAnswer is the sentinel the classifier returns when a news item
// concerns no specific company.
const NoneAnswer = "none"

func companyPrompt(r NewsResult) string {
	return fmt.Sprintf(`Which company is this news item about?

Title: %s
Snippet: %s
Link: %s

Answer with the company name only. If the item is not about one specific company, answer exactly "%s".`,
		r.Title, r.Snippet, r.Link, NoneAnswer)
}

func companyQualifyPrompt(question string, c companyView) string {
	return fmt.Sprintf(`Company: %s
Context: %s %s

Question: %s

Answer strictly "yes" or "no".`, c.Name, c.Title, c.Snippet, question)
}

func personQualifyPrompt(question string, p personView) string {
	return fmt.Sprintf(`Person: %s
Title: %s
Company: %s
Industry: %s

Question: %s

Answer strictly "yes" or "no".`, p.Name, p.Title, p.Company, p.Industry, question)
}

func titleMatchPrompt(title string, roles []string) string {
	return fmt.Sprintf(`Job title: %s
Target roles: %s

Does this job title match any of the target roles? Answer strictly "yes" or "no".`,
		title, strings.Join(roles, ", "))
}

type companyView struct {
	Name, Title, Snippet string
}

type personView struct {
	Name, Title, Company, Industry string
}

// firstWord lowercases answer and returns its first word with surrounding
// punctuation and quotes removed.
func firstWord(answer string) string {
	fields := strings.Fields(strings.ToLower(answer))
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimFunc(fields[0], func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// ParseYesNo reports whether answer is affirmative. "yes" and "true" are
// affirmative; anything else is not.
func ParseYesNo(answer string) bool {
	switch firstWord(answer) {
	case "yes", "true", "y":
		return true
	default:
		return false
	}
}

// IsNone reports whether a company-extraction answer is the no-match
// sentinel or otherwise empty.
func IsNone(answer string) bool {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), `"'.`))
	return a == "" || a == NoneAnswer || a == "n/a" || a == "unknown"
}

// cleanCompanyName strips quoting and trailing punctuation from a
// classifier answer and keeps the first line.
func cleanCompanyName(answer string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(answer), "\n")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(line), `"'.*`))
}
