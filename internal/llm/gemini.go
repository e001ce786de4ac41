package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// GeminiConfig configures the Gemini classifier.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// NewGemini returns a Classifier backed by the Gemini API.
func NewGemini(ctx context.Context, cfg GeminiConfig, guard *resilience.Guard) (Classifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("llm: gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "llm: create gemini client")
	}

	model := strings.TrimSpace(cfg.Model)
	temp := float32(0)
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		CandidateCount:    1,
		Temperature:       &temp,
	}

	return &guarded{
		guard: guard,
		complete: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
			if err != nil {
				return "", classifyGeminiErr(err)
			}
			return resp.Text(), nil
		},
	}, nil
}

// classifyGeminiErr marks throttling, server errors and temporary network
// failures as transient.
func classifyGeminiErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return resilience.NewTransientError(eris.Wrap(err, "llm: gemini generate"), apiErr.Code)
		}
		return eris.Wrap(err, "llm: gemini generate")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return resilience.NewTransientError(eris.Wrap(err, "llm: gemini generate"), 0)
	}
	return eris.Wrap(err, "llm: gemini generate")
}
