package llm

import (
	"context"

	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/pkg/anthropic"
)

// NewAnthropic returns a Classifier backed by the Anthropic Messages API.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64, guard *resilience.Guard) Classifier {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	temp := 0.0
	return &guarded{
		guard: guard,
		complete: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:       model,
				MaxTokens:   maxTokens,
				System:      SystemPrompt,
				Messages:    []anthropic.Message{{Role: anthropic.RoleUser, Content: prompt}},
				Temperature: &temp,
			})
			if err != nil {
				return "", err
			}
			resp.Usage.Log(model, "classify")
			return resp.Text(), nil
		},
	}
}
