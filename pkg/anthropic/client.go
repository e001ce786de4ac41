// Package anthropic is a thin single-turn client over the Anthropic Messages
// API, sized for short classification prompts.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

// statusOverloaded is Anthropic's non-standard "overloaded" status.
const statusOverloaded = 529

// Roles accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client sends one Messages API request.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest describes a completion. Ending Messages with an assistant
// turn prefills the reply.
type MessageRequest struct {
	Model         string
	MaxTokens     int64
	System        string
	Messages      []Message
	Temperature   *float64
	StopSequences []string
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// MessageResponse is the reply. Content joins the text blocks; other block
// types are dropped.
type MessageResponse struct {
	ID         string
	Model      string
	StopReason string
	Content    string
	Usage      Usage
}

// Text returns the trimmed reply text.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Content)
}

// Usage counts billed tokens.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// pricePerMTok is {input, output} USD per million tokens.
var pricePerMTok = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// Cost estimates the USD cost of u. Unknown models cost 0.
func (u Usage) Cost(model string) float64 {
	p, ok := pricePerMTok[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*p[0] + float64(u.OutputTokens)/1e6*p[1]
}

// Log records u at debug level.
func (u Usage) Log(model, op string) {
	zap.L().Debug("anthropic: usage",
		zap.String("model", model),
		zap.String("op", op),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient returns an SDK-backed Client. The SDK's own retries are off so
// that the caller's resilience policy is the only one in play.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:         sdk.Model(req.Model),
		MaxTokens:     req.MaxTokens,
		Messages:      toSDKMessages(req.Messages),
		StopSequences: req.StopSequences,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, apiError(err)
	}
	return fromSDKMessage(msg), nil
}

// apiError maps SDK failures onto resilience errors so that throttling,
// overload and 5xx responses are retried upstream.
func apiError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return eris.Wrap(err, "anthropic: create message")
	}
	msg := "anthropic: create message: " + apiErr.Error()
	if apiErr.StatusCode == statusOverloaded {
		return resilience.NewTransientError(errors.New(msg), apiErr.StatusCode)
	}
	resp := apiErr.Response
	if resp == nil {
		resp = &http.Response{StatusCode: apiErr.StatusCode, Header: http.Header{}}
	}
	return resilience.ResponseError("anthropic", resp, msg)
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		Content: sb.String(),
	}
}
