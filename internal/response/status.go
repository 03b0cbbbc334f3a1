package response

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending                    Status = "pending"
	StatusProcessing                 Status = "processing"
	StatusTranscribing               Status = "transcribing"
	StatusTranscribed                Status = "transcribed"
	StatusGeneratingAIInterpretation Status = "generating_ai_interpretation"
	StatusAnalyzed                   Status = "analyzed"
	StatusCompleted                  Status = "completed"
	StatusCalculatingScores          Status = "calculating_scores"
	StatusScoringCompleted           Status = "scoring_completed"
	StatusGeneratingReport           Status = "generating_report"
	StatusReportCompleted            Status = "report_completed"

	StatusProcessingFailed       Status = "processing_failed"
	StatusTranscriptionFailed    Status = "transcription_failed"
	StatusAIInterpretationFailed Status = "ai_interpretation_failed"
	StatusScoringFailed          Status = "scoring_failed"
	StatusReportFailed           Status = "report_failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the complete directed graph of allowed status changes.
// Reset is the only way back to pending.
var transitions = map[Status][]Status{
	StatusPending:                    {StatusProcessing},
	StatusProcessing:                 {StatusTranscribing, StatusProcessingFailed},
	StatusTranscribing:               {StatusTranscribing, StatusTranscribed, StatusTranscriptionFailed},
	StatusTranscribed:                {StatusGeneratingAIInterpretation, StatusCalculatingScores},
	StatusGeneratingAIInterpretation: {StatusGeneratingAIInterpretation, StatusAnalyzed, StatusAIInterpretationFailed},
	StatusAnalyzed:                   {StatusCalculatingScores},
	StatusCalculatingScores:          {StatusCalculatingScores, StatusScoringCompleted, StatusCompleted, StatusScoringFailed},
	StatusScoringCompleted:           {StatusGeneratingReport},
	StatusGeneratingReport:           {StatusGeneratingReport, StatusReportCompleted, StatusReportFailed},
	StatusProcessingFailed:           {StatusProcessing},
	StatusTranscriptionFailed:        {StatusTranscribing},
	StatusAIInterpretationFailed:     {StatusGeneratingAIInterpretation},
	StatusScoringFailed:              {StatusCalculatingScores},
	StatusReportFailed:               {StatusGeneratingReport},
	StatusCompleted:                  {},
	StatusReportCompleted:            {},
}

// order ranks statuses along the success path; failure states share the rank
// of the running state they fail from.
var order = map[Status]int{
	StatusPending:                    0,
	StatusProcessing:                 1,
	StatusProcessingFailed:           1,
	StatusTranscribing:               2,
	StatusTranscriptionFailed:        2,
	StatusTranscribed:                3,
	StatusGeneratingAIInterpretation: 4,
	StatusAIInterpretationFailed:     4,
	StatusAnalyzed:                   5,
	StatusCalculatingScores:          6,
	StatusScoringFailed:              6,
	StatusCompleted:                  7,
	StatusScoringCompleted:           7,
	StatusGeneratingReport:           8,
	StatusReportFailed:               8,
	StatusReportCompleted:            9,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown processing status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsFailed() bool {
	return strings.HasSuffix(string(s), "_failed")
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusReportCompleted || s.IsFailed()
}

// Rank is the position of s along the success path.
func (s Status) Rank() int {
	if r, ok := order[s]; ok {
		return r
	}
	return -1
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the response to the next status or returns
// ErrInvalidTransition without changing anything.
func (r *Response) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// Reset returns the response to pending for deliberate reprocessing. Derived
// fields are kept; each stage overwrites its own output when it runs again.
func (r *Response) Reset() {
	r.Status = StatusPending
	r.ProcessingError = ""
}
