// Package gateway is the narrow boundary to the generative AI endpoint.
package gateway

import (
	"context"
	"time"
)

type TextRequest struct {
	// Op names the calling stage in logs and metrics.
	Op      string
	System  string
	Prompt  string
	Timeout time.Duration
}

type AudioRequest struct {
	Op string
	// Path is an absolute, already resolved file path.
	Path     string
	MIMEType string
	Prompt   string
	Timeout  time.Duration
}

type Gateway interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	AnalyzeAudio(ctx context.Context, req AudioRequest) (string, error)
	ModelName() string
}

// Params are the generation parameters shared by every call.
type Params struct {
	Temperature float32
	MaxTokens   int32
	TopP        float32
	TopK        int32
}

func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 8192, TopP: 0.95, TopK: 40}
}
