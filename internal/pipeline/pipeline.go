// Package pipeline drives responses through the processing stages: it
// accepts submissions, dispatches queued stage jobs, schedules the next stage
// once a transition is persisted, and handles reprocessing and recovery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/events"
	"github.com/joelkehle/insight-pipeline/internal/queue"
	"github.com/joelkehle/insight-pipeline/internal/response"
	"github.com/joelkehle/insight-pipeline/internal/scoring"
	"github.com/joelkehle/insight-pipeline/internal/stages"
)

var (
	ErrBusy                 = errors.New("response is being processed")
	ErrUnknownQuestionnaire = errors.New("unknown questionnaire")
	ErrInvalidSubmission    = errors.New("invalid submission")
)

type Store interface {
	stages.Repository
	stages.QuestionnaireSource
	CreateResponse(ctx context.Context, r *response.Response) error
	IDsInStatus(ctx context.Context, statuses ...response.Status) ([]string, error)
}

type Publisher interface {
	Publish(ctx context.Context, t events.Transition) error
}

type Submission struct {
	ID              string                                     `json:"id,omitempty"`
	CampaignID      string                                     `json:"campaign_id"`
	QuestionnaireID string                                     `json:"questionnaire_id"`
	Respondent      response.Respondent                        `json:"respondent"`
	Answers         map[response.QuestionID]response.RawAnswer `json:"answers"`
}

type Pipeline struct {
	sc     *stages.Context
	store  Store
	queue  queue.Queue
	events Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a pipeline running stages with sc. sc.Responses and
// sc.Questionnaires default to store.
func New(sc *stages.Context, store Store, q queue.Queue, pub Publisher) *Pipeline {
	if sc.Responses == nil {
		sc.Responses = store
	}
	if sc.Questionnaires == nil {
		sc.Questionnaires = store
	}
	now := sc.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{sc: sc, store: store, queue: q, events: pub, log: sc.Logger, now: now}
}

// Submit stores a new pending response and starts processing it.
func (p *Pipeline) Submit(ctx context.Context, s Submission) (*response.Response, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(s.QuestionnaireID) == "" {
		return nil, fmt.Errorf("%w: questionnaire_id is required", ErrInvalidSubmission)
	}
	if _, err := p.store.GetQuestionnaire(ctx, s.QuestionnaireID); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestionnaire, s.QuestionnaireID)
		}
		return nil, err
	}
	r, err := response.New(id, s.CampaignID, s.QuestionnaireID, s.Respondent, s.Answers, p.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if err := p.store.CreateResponse(ctx, r); err != nil {
		return nil, err
	}
	p.log.Info().Str("response_id", r.ID).Str("questionnaire_id", r.QuestionnaireID).Int("answers", r.NonEmptyRawCount()).Msg("response_submitted")
	return p.Start(ctx, r.ID)
}

// Start moves a pending or processing_failed response to processing and
// enqueues its transcription.
func (p *Pipeline) Start(ctx context.Context, id string) (*response.Response, error) {
	r, err := p.store.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := r.Status
	if err := r.Transition(response.StatusProcessing); err != nil {
		return r, fmt.Errorf("%w: %s", ErrBusy, r.Status)
	}
	r.ProcessingError = ""
	if err := p.save(ctx, r); err != nil {
		return r, err
	}
	p.publish(ctx, r, "", prev)

	if err := p.enqueue(ctx, queue.NewJob(r.ID, response.StageTranscription, p.now().UTC())); err != nil {
		_ = r.Transition(response.StatusProcessingFailed)
		r.ProcessingError = "enqueue transcription: " + err.Error()
		if serr := p.save(ctx, r); serr != nil {
			p.log.Error().Err(serr).Str("response_id", r.ID).Msg("persist_processing_failed")
		}
		p.publish(ctx, r, "", response.StatusProcessing)
		return r, err
	}
	return r, nil
}

// Process starts a pending response or resumes a failed one.
func (p *Pipeline) Process(ctx context.Context, id string) (*response.Response, error) {
	r, err := p.store.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Status == response.StatusPending:
		return p.Start(ctx, id)
	case r.Status.IsFailed():
		return p.Resume(ctx, id)
	default:
		return r, fmt.Errorf("%w: %s", ErrBusy, r.Status)
	}
}

// Resume re-enqueues the stage a failed response failed in.
func (p *Pipeline) Resume(ctx context.Context, id string) (*response.Response, error) {
	r, err := p.store.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == response.StatusProcessingFailed {
		return p.Start(ctx, id)
	}
	st, ok := stageFailingTo(r.Status)
	if !ok {
		return r, fmt.Errorf("%w: %s is not a failed state", ErrBusy, r.Status)
	}
	return r, p.enqueue(ctx, queue.NewJob(r.ID, st.Name(), p.now().UTC()))
}

// Reprocess resets a failed or finished response to pending and starts it
// again from transcription.
func (p *Pipeline) Reprocess(ctx context.Context, id string) (*response.Response, error) {
	r, err := p.store.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != response.StatusPending {
		if !r.Status.IsTerminal() {
			return r, fmt.Errorf("%w: %s", ErrBusy, r.Status)
		}
		prev := r.Status
		r.Reset()
		if err := p.save(ctx, r); err != nil {
			return r, err
		}
		p.log.Info().Str("response_id", r.ID).Str("from", string(prev)).Msg("response_reset")
		p.publish(ctx, r, "", prev)
	}
	return p.Start(ctx, id)
}

// Handle runs one queued stage job. It is the queue.Handler of the worker.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) error {
	st, ok := stages.ByName(job.Stage)
	if !ok {
		return queue.Permanent(fmt.Errorf("unknown stage %q", job.Stage))
	}
	before, err := p.store.GetResponse(ctx, job.ResponseID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return queue.Permanent(err)
		}
		return err
	}

	r, err := stages.Run(ctx, p.sc, st, job.ResponseID)
	if r != nil && r.Status != before.Status {
		p.publish(ctx, r, string(st.Name()), before.Status)
	}
	if err != nil {
		return p.classify(ctx, st, r, err)
	}
	return p.handoff(ctx, r)
}

func (p *Pipeline) classify(ctx context.Context, st stages.Stage, r *response.Response, err error) error {
	var pe *response.PreconditionError
	if errors.As(err, &pe) && pe.Reason == "" && r != nil {
		// The job arrived after the response moved past this stage.
		if pe.Status.Rank() > st.RunningState().Rank() {
			p.log.Info().Str("response_id", r.ID).Str("stage", string(st.Name())).
				Str("status", string(pe.Status)).Msg("duplicate_job_acked")
			if pe.Status.Rank() == st.RunningState().Rank()+1 {
				return p.handoff(ctx, r)
			}
			return nil
		}
		return queue.Permanent(err)
	}
	if pe != nil {
		return queue.Permanent(err)
	}
	var ue *scoring.UnsupportedScoringTypeError
	if errors.As(err, &ue) || errors.Is(err, response.ErrNotFound) {
		return queue.Permanent(err)
	}
	return err
}

// handoff enqueues the stage that follows r's persisted status.
func (p *Pipeline) handoff(ctx context.Context, r *response.Response) error {
	next, ok := p.nextStage(ctx, r)
	if !ok {
		p.log.Info().Str("response_id", r.ID).Str("status", string(r.Status)).Msg("response_finished")
		return nil
	}
	return p.enqueue(ctx, queue.NewJob(r.ID, next, p.now().UTC()))
}

func (p *Pipeline) nextStage(ctx context.Context, r *response.Response) (response.StageName, bool) {
	switch r.Status {
	case response.StatusTranscribed:
		if qn, err := p.store.GetQuestionnaire(ctx, r.QuestionnaireID); err == nil && qn.RequiresAIAnalysis {
			return response.StageAIInterpretation, true
		}
		return response.StageScoring, true
	case response.StatusAnalyzed:
		return response.StageScoring, true
	case response.StatusScoringCompleted:
		return response.StageReport, true
	}
	return "", false
}

// OnPermanentFailure moves a response abandoned by the worker out of its
// running state so it does not look in progress forever.
func (p *Pipeline) OnPermanentFailure(ctx context.Context, job queue.Job, cause error) {
	st, ok := stages.ByName(job.Stage)
	if !ok {
		return
	}
	r, err := p.store.GetResponse(ctx, job.ResponseID)
	if err != nil {
		p.log.Error().Err(err).Str("response_id", job.ResponseID).Msg("permanent_failure_load")
		return
	}
	if r.Status != st.RunningState() {
		return
	}
	prev := r.Status
	if err := r.Transition(st.FailedState()); err != nil {
		return
	}
	r.MarkFailed(st.Name(), p.now().UTC(), cause)
	if err := p.save(ctx, r); err != nil {
		p.log.Error().Err(err).Str("response_id", r.ID).Msg("permanent_failure_persist")
		return
	}
	p.publish(ctx, r, string(st.Name()), prev)
}

// Recover re-enqueues work for responses left mid-pipeline by a previous
// process. Failed responses wait for an explicit Resume.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	pending := map[response.Status]response.StageName{
		response.StatusProcessing:                 response.StageTranscription,
		response.StatusTranscribing:               response.StageTranscription,
		response.StatusGeneratingAIInterpretation: response.StageAIInterpretation,
		response.StatusAnalyzed:                   response.StageScoring,
		response.StatusCalculatingScores:          response.StageScoring,
		response.StatusScoringCompleted:           response.StageReport,
		response.StatusGeneratingReport:           response.StageReport,
	}
	n := 0
	for status, stage := range pending {
		ids, err := p.store.IDsInStatus(ctx, status)
		if err != nil {
			return n, err
		}
		for _, id := range ids {
			if err := p.enqueue(ctx, p.recoveredJob(id, stage)); err != nil {
				return n, err
			}
			n++
		}
	}
	ids, err := p.store.IDsInStatus(ctx, response.StatusTranscribed)
	if err != nil {
		return n, err
	}
	for _, id := range ids {
		r, err := p.store.GetResponse(ctx, id)
		if err != nil {
			return n, err
		}
		next, ok := p.nextStage(ctx, r)
		if !ok {
			continue
		}
		if err := p.enqueue(ctx, p.recoveredJob(id, next)); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		p.log.Info().Int("jobs", n).Msg("recovered_in_flight_responses")
	}
	return n, nil
}

func (p *Pipeline) recoveredJob(id string, stage response.StageName) queue.Job {
	job := queue.NewJob(id, stage, p.now().UTC())
	job.Redelivered = true
	return job
}

func (p *Pipeline) enqueue(ctx context.Context, job queue.Job) error {
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	p.log.Debug().Str("response_id", job.ResponseID).Str("stage", string(job.Stage)).
		Str("job_id", job.ID).Bool("redelivered", job.Redelivered).Msg("job_enqueued")
	return nil
}

func (p *Pipeline) save(ctx context.Context, r *response.Response) error {
	r.UpdatedAt = p.now().UTC()
	return p.store.SaveResponse(ctx, r)
}

func (p *Pipeline) publish(ctx context.Context, r *response.Response, stage string, prev response.Status) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, events.FromResponse(r, stage, prev, p.now())); err != nil {
		p.log.Warn().Err(err).Str("response_id", r.ID).Msg("transition_event_dropped")
	}
}

func stageFailingTo(s response.Status) (stages.Stage, bool) {
	for _, name := range []response.StageName{
		response.StageTranscription, response.StageAIInterpretation, response.StageScoring, response.StageReport,
	} {
		st, _ := stages.ByName(name)
		if st.FailedState() == s {
			return st, true
		}
	}
	return nil, false
}
