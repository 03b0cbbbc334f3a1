package gateway

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// AnthropicGateway serves text calls through the Anthropic Messages API.
// It has no audio input; AnalyzeAudio always fails without retry.
type AnthropicGateway struct {
	messages AnthropicMessager
	model    string
	params   Params
}

func NewAnthropicGateway(apiKey, model string, params Params) (*AnthropicGateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &AnthropicGateway{messages: newAnthropicClient(apiKey), model: model, params: params}, nil
}

func (a *AnthropicGateway) ModelName() string { return a.model }

func (a *AnthropicGateway) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(a.params.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(float64(a.params.Temperature)),
	}
	if a.params.TopK > 0 {
		params.TopK = anthropic.Int(int64(a.params.TopK))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	resp, err := a.messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &GatewayError{Op: req.Op, StatusCode: apiErr.StatusCode, Class: classForStatus(apiErr.StatusCode), Err: err}
		}
		return "", Wrap(req.Op, err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &GatewayError{Op: req.Op, Class: ClassEmpty, Err: ErrEmptyReply}
	}
	return text, nil
}

func (a *AnthropicGateway) AnalyzeAudio(_ context.Context, req AudioRequest) (string, error) {
	return "", &GatewayError{Op: req.Op, Class: ClassUnsupported, Err: ErrUnsupported}
}
