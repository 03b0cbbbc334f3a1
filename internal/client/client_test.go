package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/httpapi"
	"github.com/joelkehle/insight-pipeline/internal/media"
	"github.com/joelkehle/insight-pipeline/internal/pipeline"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/queue"
	"github.com/joelkehle/insight-pipeline/internal/response"
	"github.com/joelkehle/insight-pipeline/internal/stages"
	"github.com/joelkehle/insight-pipeline/internal/store"
)

type offlineGateway struct{}

func (offlineGateway) GenerateText(_ context.Context, req gateway.TextRequest) (string, error) {
	return "", &gateway.GatewayError{Op: req.Op, StatusCode: 500, Class: gateway.ClassServer, Err: errors.New("offline")}
}

func (offlineGateway) AnalyzeAudio(_ context.Context, req gateway.AudioRequest) (string, error) {
	return "", &gateway.GatewayError{Op: req.Op, Class: gateway.ClassUnsupported, Err: errors.New("offline")}
}

func (offlineGateway) ModelName() string { return "offline" }

// startStack runs the HTTP surface and a worker pool over a sqlite store,
// the way insight-worker wires them.
func startStack(t *testing.T) *Client {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "insight.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	err = st.PutQuestionnaire(context.Background(), &questionnaire.Questionnaire{
		ID: "choice", Title: "Opción única", ScoringType: questionnaire.TypeSingleChoice, RequiresReport: true,
		Questions: []questionnaire.Question{{
			ID: "c1", Text: "¿Trabajas bien en equipo?", Type: questionnaire.QuestionSingleChoice,
			Options: []questionnaire.Option{{Value: "si", Label: "Sí", Score: 1}, {Value: "no", Label: "No", Score: 0}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	fs, err := media.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sc := &stages.Context{Logger: zerolog.Nop(), Timeouts: stages.DefaultTimeouts(), Gateway: offlineGateway{}, Storage: fs}
	q := queue.NewMemory(16)
	p := pipeline.New(sc, st, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w := queue.NewWorker(q, p.Handle, queue.Policy{MaxAttempts: 2, MaxUnhandledExceptions: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		queue.WorkerOptions{Logger: zerolog.Nop(), OnPermanentFailure: p.OnPermanentFailure})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, 2)
	}()
	srv := httptest.NewServer(httpapi.NewServer(httpapi.Options{Pipeline: p, Store: st, Logger: zerolog.Nop()}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return NewClient(srv.URL + "/")
}

func TestEndToEndSubmitAndDownloadReport(t *testing.T) {
	c := startStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := c.Submit(ctx, pipeline.Submission{
		QuestionnaireID: "choice",
		Respondent:      response.Respondent{Name: "Luis"},
		Answers:         map[response.QuestionID]response.RawAnswer{"c1": {Kind: response.AnswerChoice, Choice: "si"}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := c.Wait(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st.Status != response.StatusReportCompleted {
		t.Fatalf("status = %+v", st)
	}

	r, err := c.Response(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if r.QuestionnaireScores == nil || r.QuestionnaireScores.Percentage != 100 {
		t.Fatalf("scores = %+v", r.QuestionnaireScores)
	}
	if r.ComprehensiveReport == nil || !r.ComprehensiveReport.Metadata.IsFallback {
		t.Fatalf("report = %+v", r.ComprehensiveReport)
	}

	md, err := c.Report(ctx, id, "markdown")
	if err != nil || len(md) == 0 {
		t.Fatalf("markdown report err=%v", err)
	}
}

func TestAPIErrorsAreTyped(t *testing.T) {
	c := startStack(t)
	_, err := c.Process(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("err = %v", err)
	}
}
