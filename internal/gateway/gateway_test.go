package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

type scriptedGateway struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedGateway) next() (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var out string
	if i < len(s.replies) {
		out = s.replies[i]
	}
	return out, err
}

func (s *scriptedGateway) GenerateText(context.Context, TextRequest) (string, error) { return s.next() }
func (s *scriptedGateway) AnalyzeAudio(context.Context, AudioRequest) (string, error) {
	return s.next()
}
func (s *scriptedGateway) ModelName() string { return "scripted" }

func newTestRetry(next Gateway) *Retrying {
	return WithRetry(next, RetryOptions{Logger: zerolog.Nop(), Delays: []time.Duration{0}})
}

func TestRetryRecoversFromServerError(t *testing.T) {
	g := &scriptedGateway{
		errs:    []error{&googleapi.Error{Code: 503}, nil},
		replies: []string{"", "ok"},
	}
	out, err := newTestRetry(g).GenerateText(context.Background(), TextRequest{Op: "interpretation"})
	if err != nil || out != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if g.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", g.calls)
	}
}

func TestRetryStopsOnClientError(t *testing.T) {
	g := &scriptedGateway{errs: []error{&googleapi.Error{Code: 400}}}
	_, err := newTestRetry(g).GenerateText(context.Background(), TextRequest{Op: "report"})
	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.StatusCode != 400 || ge.Retryable() {
		t.Fatalf("unexpected error %+v", ge)
	}
	if g.calls != 1 {
		t.Fatalf("client errors must not retry, got %d calls", g.calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	boom := &googleapi.Error{Code: 500}
	g := &scriptedGateway{errs: []error{boom, boom, boom, boom}}
	observed := 0
	r := newTestRetry(g)
	r.observe = func(string, Class, time.Duration) { observed++ }
	_, err := r.GenerateText(context.Background(), TextRequest{Op: "report"})
	var ge *GatewayError
	if !errors.As(err, &ge) || ge.StatusCode != 500 {
		t.Fatalf("expected 500 GatewayError, got %v", err)
	}
	if g.calls != 3 || observed != 3 {
		t.Fatalf("calls=%d observed=%d, want 3", g.calls, observed)
	}
}

func TestRetryScheduleRepeatsLastDelay(t *testing.T) {
	s := &schedule{delays: []time.Duration{time.Second, 2 * time.Second}}
	var got []time.Duration
	for i := 0; i < 4; i++ {
		got = append(got, s.NextBackOff())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}
	s.Reset()
	if d := s.NextBackOff(); d != time.Second {
		t.Fatalf("after reset = %v", d)
	}
}

func TestRetryReturnsLastErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := gatewayFunc(func(context.Context) (string, error) {
		cancel()
		return "", &googleapi.Error{Code: 503}
	})
	r := WithRetry(g, RetryOptions{Logger: zerolog.Nop(), Delays: []time.Duration{time.Hour}})
	_, err := r.GenerateText(ctx, TextRequest{Op: "report"})
	var ge *GatewayError
	if !errors.As(err, &ge) || ge.StatusCode != 503 {
		t.Fatalf("expected 503 GatewayError, got %v", err)
	}
}

func TestRetryTreatsBlankReplyAsEmpty(t *testing.T) {
	g := &scriptedGateway{replies: []string{"  ", "\n", ""}}
	_, err := newTestRetry(g).AnalyzeAudio(context.Background(), AudioRequest{Op: "transcription"})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestRetryAppliesTimeout(t *testing.T) {
	slow := gatewayFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := newTestRetry(slow)
	r.attempts = 1
	_, err := r.GenerateText(context.Background(), TextRequest{Op: "interpretation", Timeout: 10 * time.Millisecond})
	var ge *GatewayError
	if !errors.As(err, &ge) || ge.Class != ClassTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

type gatewayFunc func(ctx context.Context) (string, error)

func (f gatewayFunc) GenerateText(ctx context.Context, _ TextRequest) (string, error) { return f(ctx) }
func (f gatewayFunc) AnalyzeAudio(ctx context.Context, _ AudioRequest) (string, error) {
	return f(ctx)
}
func (f gatewayFunc) ModelName() string { return "func" }

func TestClassifyAvoidsBroadNumericMatch(t *testing.T) {
	for _, tc := range []struct {
		msg  string
		want Class
		code int
	}{
		{"failed after 5 retries while waiting 4 seconds", ClassServer, 0},
		{"status code: 400 bad request", ClassClient, 400},
		{"status=500 upstream error", ClassServer, 500},
		{"status 429 too many requests", ClassRateLimit, 429},
	} {
		class, code := Classify(errors.New(tc.msg))
		if class != tc.want || code != tc.code {
			t.Fatalf("%q: got %s/%d, want %s/%d", tc.msg, class, code, tc.want, tc.code)
		}
	}
	if class, _ := Classify(context.DeadlineExceeded); class != ClassTimeout {
		t.Fatalf("deadline: got %s", class)
	}
}

type fakeModel struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func TestGeminiExtractsFirstCandidate(t *testing.T) {
	m := &fakeModel{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("hola "), genai.Text("mundo")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}}
	g := &GeminiGateway{model: "gemini-test", newModel: func(string) ContentGenerator { return m }}
	out, err := g.GenerateText(context.Background(), TextRequest{Op: "interpretation", Prompt: "p"})
	if err != nil || out != "hola mundo" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestGeminiAudioSendsBlob(t *testing.T) {
	m := &fakeModel{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"transcription":"hola"}`)}}},
	}}}
	g := &GeminiGateway{
		newModel: func(string) ContentGenerator { return m },
		readFile: func(string) ([]byte, error) { return []byte("RIFF"), nil },
	}
	if _, err := g.AnalyzeAudio(context.Background(), AudioRequest{Op: "transcription", Path: "/x.wav", Prompt: "p"}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(m.parts) != 2 {
		t.Fatalf("expected prompt and blob, got %d parts", len(m.parts))
	}
	blob, ok := m.parts[1].(genai.Blob)
	if !ok || blob.MIMEType != "audio/wav" || string(blob.Data) != "RIFF" {
		t.Fatalf("unexpected blob part %#v", m.parts[1])
	}
}

func TestGeminiNoCandidatesIsEmpty(t *testing.T) {
	g := &GeminiGateway{newModel: func(string) ContentGenerator {
		return &fakeModel{resp: &genai.GenerateContentResponse{}}
	}}
	_, err := g.GenerateText(context.Background(), TextRequest{Op: "report"})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

type fakeMessager struct {
	params anthropic.MessageNewParams
	text   string
}

func (f *fakeMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.text}}}, nil
}

func TestAnthropicGatewayText(t *testing.T) {
	fm := &fakeMessager{text: "informe"}
	prev := newAnthropicClient
	newAnthropicClient = func(string) AnthropicMessager { return fm }
	defer func() { newAnthropicClient = prev }()

	g, err := NewAnthropicGateway("key", "", DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.GenerateText(context.Background(), TextRequest{Op: "report", System: "sys", Prompt: "p"})
	if err != nil || out != "informe" {
		t.Fatalf("got %q, %v", out, err)
	}
	if len(fm.params.System) != 1 || fm.params.System[0].Text != "sys" {
		t.Fatalf("system prompt not sent: %+v", fm.params.System)
	}
	_, err = g.AnalyzeAudio(context.Background(), AudioRequest{Op: "transcription"})
	var ge *GatewayError
	if !errors.As(err, &ge) || ge.Retryable() {
		t.Fatalf("audio must fail without retry, got %v", err)
	}
}

func TestAnthropicGatewayRequiresKey(t *testing.T) {
	if _, err := NewAnthropicGateway(" ", "", DefaultParams()); err == nil {
		t.Fatal("expected missing key error")
	}
}
