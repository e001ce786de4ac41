package llm

import (
	"context"

	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/pkg/perplexity"
)

// NewPerplexity returns a Classifier backed by Perplexity chat completions.
func NewPerplexity(client perplexity.Client, model string, guard *resilience.Guard) Classifier {
	temp := 0.0
	return &guarded{
		guard: guard,
		complete: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
				Model: model,
				Messages: []perplexity.Message{
					{Role: "system", Content: SystemPrompt},
					{Role: "user", Content: prompt},
				},
				Temperature:   &temp,
				DisableSearch: true,
			})
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
	}
}
