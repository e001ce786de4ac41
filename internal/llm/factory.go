package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/config"
	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/pkg/anthropic"
	"github.com/sells-group/trigger-cli/pkg/perplexity"
)

// New builds the Classifier selected by cfg.Classifier.Provider. Retries use
// cfg.Resilience with the attempt count from cfg.Classifier.MaxAttempts.
func New(ctx context.Context, cfg *config.Config, breakers *resilience.Breakers) (Classifier, error) {
	policy := resilience.PolicyFromConfig(cfg.Resilience, cfg.Classifier.MaxAttempts)
	timeout := time.Duration(cfg.Classifier.TimeoutSecs) * time.Second

	switch cfg.Classifier.Provider {
	case "anthropic", "":
		guard := resilience.NewGuard("anthropic", breakers, policy, timeout)
		return NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, guard), nil
	case "perplexity":
		guard := resilience.NewGuard("perplexity", breakers, policy, timeout)
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model))
		return NewPerplexity(client, cfg.Perplexity.Model, guard), nil
	case "gemini":
		guard := resilience.NewGuard("gemini", breakers, policy, timeout)
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.Gemini.Key, Model: cfg.Gemini.Model}, guard)
	default:
		return nil, eris.Errorf("llm: unknown classifier provider %q", cfg.Classifier.Provider)
	}
}
