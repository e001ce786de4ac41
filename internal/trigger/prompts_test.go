package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseYesNo(t *testing.T) {
	for _, a := range []string{"yes", "Yes.", " YES ", "true", "True", "\"yes\"", "yes, it is a bank", "y"} {
		assert.True(t, ParseYesNo(a), a)
	}
	for _, a := range []string{"no", "No.", "false", "", "maybe", "not sure, yes"} {
		assert.False(t, ParseYesNo(a), a)
	}
}

func TestIsNone(t *testing.T) {
	for _, a := range []string{"none", "None", "NONE.", " \"none\" ", "", "N/A", "unknown"} {
		assert.True(t, IsNone(a), a)
	}
	for _, a := range []string{"Acme", "None Corp"} {
		assert.False(t, IsNone(a), a)
	}
}

func TestCleanCompanyName(t *testing.T) {
	assert.Equal(t, "Acme Corp", cleanCompanyName(`"Acme Corp".`))
	assert.Equal(t, "Acme", cleanCompanyName("**Acme**\nbecause the article says so"))
}

func TestPrompts(t *testing.T) {
	p := companyPrompt(NewsResult{Title: "Acme raises", Snippet: "Series B", Link: "https://n/1"})
	assert.Contains(t, p, "Title: Acme raises")
	assert.Contains(t, p, `answer exactly "none"`)

	q := titleMatchPrompt("Chief Technology Officer", []string{"CTO", "VP Engineering"})
	assert.Contains(t, q, "Target roles: CTO, VP Engineering")

	pq := personQualifyPrompt("Is the title a VP?", personView{Name: "Ada", Title: "VP of Sales"})
	assert.Contains(t, pq, "Title: VP of Sales")
	assert.Contains(t, pq, "Question: Is the title a VP?")
}
