// Package stages implements the four processing stages of a response and
// the runner that moves a response through its state machine around them.
package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/media"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

type Repository interface {
	GetResponse(ctx context.Context, id string) (*response.Response, error)
	SaveResponse(ctx context.Context, r *response.Response) error
}

type QuestionnaireSource interface {
	GetQuestionnaire(ctx context.Context, id string) (*questionnaire.Questionnaire, error)
}

// Observer receives one callback per finished stage run.
type Observer interface {
	StageFinished(stage string, outcome string, elapsed time.Duration)
}

type Timeouts struct {
	Text   time.Duration
	Audio  time.Duration
	Report time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Text: 30 * time.Second, Audio: 60 * time.Second, Report: 120 * time.Second}
}

// Context carries every collaborator a stage may use. Stages reach nothing
// that is not in here.
type Context struct {
	Logger           zerolog.Logger
	Timeouts         Timeouts
	ProcessorVersion string
	Gateway          gateway.Gateway
	Storage          media.Storage
	Transcoder       media.Transcoder
	Responses        Repository
	Questionnaires   QuestionnaireSource
	Now              func() time.Time
	Tracer           trace.Tracer
	Observer         Observer
}

func (sc *Context) now() time.Time {
	if sc.Now != nil {
		return sc.Now().UTC()
	}
	return time.Now().UTC()
}

func (sc *Context) tracer() trace.Tracer {
	if sc.Tracer != nil {
		return sc.Tracer
	}
	return noop.NewTracerProvider().Tracer("stages")
}

func (sc *Context) save(ctx context.Context, r *response.Response) error {
	r.UpdatedAt = sc.now()
	return sc.Responses.SaveResponse(ctx, r)
}

// Attempt is one invocation of a stage body.
type Attempt struct {
	Response *response.Response
	// Prior is the status the response had before the runner moved it into
	// the running state.
	Prior response.Status
	// PriorStartedAt is the start stamp of the previous run of this stage,
	// if any.
	PriorStartedAt *time.Time
	// PriorError is the processing error left by an earlier failed run.
	PriorError string
}

// redelivered reports whether this attempt continues a run that crashed
// after the stage's output was checkpointed at or after the run began.
func (a Attempt) redelivered(running response.Status, generatedAt time.Time) bool {
	return a.Prior == running && a.PriorStartedAt != nil && !generatedAt.Before(*a.PriorStartedAt)
}

type Stage interface {
	Name() response.StageName
	StartStates() []response.Status
	RunningState() response.Status
	FailedState() response.Status
	// Execute runs the stage body and returns the status to advance to.
	Execute(ctx context.Context, sc *Context, at Attempt) (response.Status, error)
}

type StageError struct {
	Stage response.StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// OwnedFields lists, per stage, the response fields the stage may write.
// Dotted names are sub-fields of every entry of the named map.
var OwnedFields = map[response.StageName][]string{
	response.StageTranscription: {
		"transcriptions",
		"prosodic_analysis",
		"processed_responses.transcription",
		"processed_responses.audio.analysis",
	},
	response.StageAIInterpretation: {
		"ai_analysis",
		"processed_responses.ai_interpretation",
	},
	response.StageScoring: {"questionnaire_scores"},
	response.StageReport:  {"comprehensive_report"},
}

// Run loads the response, checks the stage may start, moves it into the
// running state and executes the body. A body error leaves the response in
// the stage's failed state and is returned wrapped in a StageError.
func Run(ctx context.Context, sc *Context, st Stage, responseID string) (*response.Response, error) {
	start := time.Now()
	r, err := sc.Responses.GetResponse(ctx, responseID)
	if err != nil {
		return nil, &StageError{Stage: st.Name(), Err: fmt.Errorf("load response: %w", err)}
	}
	if !allowed(r.Status, st.StartStates()) {
		sc.finish(st, "precondition", start)
		return r, &response.PreconditionError{
			ResponseID: r.ID,
			Stage:      st.Name(),
			Status:     r.Status,
			Expected:   st.StartStates(),
		}
	}

	log := sc.Logger.With().Str("response_id", r.ID).Str("stage", string(st.Name())).Logger()
	stageCtx := *sc
	stageCtx.Logger = log

	ctx, span := sc.tracer().Start(ctx, "stage."+string(st.Name()),
		trace.WithAttributes(attribute.String("response.id", r.ID), attribute.String("response.status", string(r.Status))))
	defer span.End()

	at := Attempt{Response: r, Prior: r.Status, PriorError: r.ProcessingError}
	if prev, ok := r.Audit[st.Name()]; ok {
		at.PriorStartedAt = prev.StartedAt
	}
	if err := r.Transition(st.RunningState()); err != nil {
		sc.finish(st, "precondition", start)
		return r, &StageError{Stage: st.Name(), Err: err}
	}
	r.ProcessingError = ""
	r.MarkStarted(st.Name(), stageCtx.now())
	if err := stageCtx.save(ctx, r); err != nil {
		sc.finish(st, "error", start)
		return r, &StageError{Stage: st.Name(), Err: fmt.Errorf("persist running state: %w", err)}
	}
	log.Info().Str("from", string(at.Prior)).Msg("stage_start")

	next, err := st.Execute(ctx, &stageCtx, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		stageErr := &StageError{Stage: st.Name(), Err: err}
		if terr := r.Transition(st.FailedState()); terr != nil {
			log.Error().Err(terr).Msg("stage_fail_transition")
		}
		r.MarkFailed(st.Name(), stageCtx.now(), err)
		if serr := stageCtx.save(ctx, r); serr != nil {
			log.Error().Err(serr).Msg("stage_fail_persist")
		}
		log.Error().Err(err).Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("stage_failed")
		sc.finish(st, "failed", start)
		return r, stageErr
	}

	if err := r.Transition(next); err != nil {
		sc.finish(st, "error", start)
		return r, &StageError{Stage: st.Name(), Err: err}
	}
	r.MarkCompleted(st.Name(), stageCtx.now())
	if err := stageCtx.save(ctx, r); err != nil {
		sc.finish(st, "error", start)
		return r, &StageError{Stage: st.Name(), Err: fmt.Errorf("persist completion: %w", err)}
	}
	span.SetAttributes(attribute.String("response.next_status", string(next)))
	log.Info().Str("status", string(next)).Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("stage_complete")
	sc.finish(st, "completed", start)
	return r, nil
}

func (sc *Context) finish(st Stage, outcome string, start time.Time) {
	if sc.Observer != nil {
		sc.Observer.StageFinished(string(st.Name()), outcome, time.Since(start))
	}
}

func allowed(s response.Status, set []response.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ByName returns the stage implementation for name.
func ByName(name response.StageName) (Stage, bool) {
	switch name {
	case response.StageTranscription:
		return Transcription{}, true
	case response.StageAIInterpretation:
		return Interpretation{}, true
	case response.StageScoring:
		return Scoring{}, true
	case response.StageReport:
		return Report{}, true
	default:
		return nil, false
	}
}
