package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/trigger-cli/internal/model"
)

// summaryListLimit caps the names listed in a run summary.
const summaryListLimit = 10

// Summary renders the plain-text run summary sent after a successful run.
func Summary(t *model.Trigger, run *model.TriggerRun, data model.PipelineData) string {
	var b strings.Builder
	name := t.Name
	if t.Emoji != "" {
		name = t.Emoji + " " + name
	}
	fmt.Fprintf(&b, "%s finished in %s\n", name, run.Duration().Round(time.Second))
	fmt.Fprintf(&b, "Companies: %d, people: %d, candidates uploaded: %d\n",
		len(data.Companies), len(data.People), run.CandidateCount)

	writeList(&b, "Companies", data.CompanyNames())

	people := make([]string, 0, len(data.People))
	for _, p := range data.People {
		entry := p.FullName()
		if entry == "" {
			continue
		}
		if p.Title != "" || p.Company != "" {
			entry += " (" + strings.Trim(p.Title+", "+p.Company, ", ") + ")"
		}
		people = append(people, entry)
	}
	writeList(&b, "People", people)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for i, it := range items {
		if i == summaryListLimit {
			fmt.Fprintf(b, "  … and %d more\n", len(items)-summaryListLimit)
			break
		}
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
