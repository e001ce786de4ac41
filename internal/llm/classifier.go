// Package llm provides single-turn classification backed by hosted language
// models. Every provider call runs through a resilience.Guard, so transient
// failures are retried a bounded number of times before surfacing as a
// *model.CollaboratorError.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// SystemPrompt constrains every provider to short, literal answers.
const SystemPrompt = "You are a precise classifier. Answer with only the requested value and no explanation."

// Classifier answers a single prompt with a short text completion.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// completeFunc performs one raw provider call.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// guarded adapts a provider call into a Classifier.
type guarded struct {
	guard    *resilience.Guard
	complete completeFunc
}

func (g *guarded) Classify(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", eris.New("llm: empty prompt")
	}
	return resilience.Call(ctx, g.guard, "classify", func(ctx context.Context) (string, error) {
		out, err := g.complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	})
}

// Provider reports which backend a Classifier uses, for logging.
func Provider(c Classifier) string {
	if g, ok := c.(*guarded); ok {
		return g.guard.Service()
	}
	return "custom"
}
