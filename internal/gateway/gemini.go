package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ContentGenerator is the part of *genai.GenerativeModel the gateway uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiGateway serves text and audio calls through the Gemini API.
type GeminiGateway struct {
	client   *genai.Client
	model    string
	params   Params
	newModel func(system string) ContentGenerator
	readFile func(string) ([]byte, error)
}

func NewGeminiGateway(ctx context.Context, apiKey, model string, params Params) (*GeminiGateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g := &GeminiGateway{client: client, model: model, params: params, readFile: os.ReadFile}
	g.newModel = func(system string) ContentGenerator {
		m := client.GenerativeModel(model)
		m.SetTemperature(params.Temperature)
		m.SetTopP(params.TopP)
		m.SetTopK(params.TopK)
		m.SetMaxOutputTokens(params.MaxTokens)
		if system != "" {
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}
		return m
	}
	return g, nil
}

func (g *GeminiGateway) ModelName() string { return g.model }

func (g *GeminiGateway) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiGateway) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := g.newModel(req.System).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", Wrap(req.Op, err)
	}
	return firstCandidateText(req.Op, resp)
}

func (g *GeminiGateway) AnalyzeAudio(ctx context.Context, req AudioRequest) (string, error) {
	data, err := g.readFile(req.Path)
	if err != nil {
		return "", &GatewayError{Op: req.Op, Class: ClassClient, Err: fmt.Errorf("read audio: %w", err)}
	}
	mime := req.MIMEType
	if mime == "" {
		mime = "audio/wav"
	}
	resp, err := g.newModel("").GenerateContent(ctx,
		genai.Text(req.Prompt),
		genai.Blob{MIMEType: mime, Data: data},
	)
	if err != nil {
		return "", Wrap(req.Op, err)
	}
	return firstCandidateText(req.Op, resp)
}

func firstCandidateText(op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &GatewayError{Op: op, Class: ClassEmpty, Err: ErrEmptyReply}
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", &GatewayError{Op: op, Class: ClassClient, Err: errors.New("reply blocked by safety filter")}
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &GatewayError{Op: op, Class: ClassEmpty, Err: ErrEmptyReply}
	}
	return text, nil
}
