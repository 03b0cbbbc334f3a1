package stages

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
	"github.com/joelkehle/insight-pipeline/internal/scoring"
)

// Scoring applies the questionnaire's scoring strategy and layers the
// completion and reliability indicators on top of the strategy outcome.
type Scoring struct{}

func (Scoring) Name() response.StageName { return response.StageScoring }

func (Scoring) StartStates() []response.Status {
	return []response.Status{
		response.StatusTranscribed,
		response.StatusAnalyzed,
		response.StatusCalculatingScores,
		response.StatusScoringFailed,
	}
}

func (Scoring) RunningState() response.Status { return response.StatusCalculatingScores }
func (Scoring) FailedState() response.Status  { return response.StatusScoringFailed }

const (
	weightCompleteness = 0.5
	weightAI           = 0.25
	weightScoring      = 0.25
)

func (s Scoring) Execute(ctx context.Context, sc *Context, at Attempt) (response.Status, error) {
	r := at.Response
	start := sc.now()
	if sc.Questionnaires == nil {
		return "", errors.New("no questionnaire source configured")
	}
	qn, err := sc.Questionnaires.GetQuestionnaire(ctx, r.QuestionnaireID)
	if errors.Is(err, response.ErrNotFound) {
		return "", &response.PreconditionError{
			ResponseID: r.ID,
			Stage:      s.Name(),
			Status:     r.Status,
			Reason:     fmt.Sprintf("questionnaire %s not found", r.QuestionnaireID),
		}
	}
	if err != nil {
		return "", fmt.Errorf("load questionnaire: %w", err)
	}
	strategy, err := scoring.ForType(qn.ScoringType)
	if err != nil {
		return "", err
	}

	answers, backfilled := answersFor(r, qn)
	out, err := strategy.Compute(scoring.Input{
		Questionnaire: qn,
		Answers:       answers,
		AIAnalysis:    r.AIAnalysis,
		Logger:        sc.Logger,
	})
	if err != nil {
		return "", fmt.Errorf("compute %s scores: %w", strategy.Type(), err)
	}

	completion := completionOf(r, qn)
	factors := response.ReliabilityFactors{
		HighCompletion:    completion.percentage >= 90,
		HasAIAnalysis:     r.AIAnalysis.Usable(),
		HasTranscriptions: hasTranscriptions(r),
		NoProcessingError: at.PriorError == "",
	}
	now := sc.now()
	result := &response.ScoreResult{
		ScoringType:          string(strategy.Type()),
		TotalScore:           out.TotalScore,
		PossibleScore:        out.PossibleScore,
		Percentage:           out.Percentage,
		Payload:              out.Payload,
		CompletionPercentage: completion.percentage,
		Completion:           completion.breakdown,
		QualityIndicators: response.QualityIndicators{
			DataReliability:      Reliability(factors),
			ResponseCompleteness: completion.breakdown.ResponseCompleteness,
			HasAIEnhancement:     factors.HasAIAnalysis,
			HasTranscriptions:    factors.HasTranscriptions,
			ReliabilityFactors:   factors,
		},
		Metadata: response.ScoreMetadata{
			ProcessedAt:       now,
			DurationMS:        now.Sub(start).Milliseconds(),
			ProcessorVersion:  sc.ProcessorVersion,
			BackfilledFromRaw: backfilled,
			AuditTrail:        copyAudit(r.Audit),
		},
	}
	r.QuestionnaireScores = result
	sc.Logger.Info().
		Str("scoring_type", result.ScoringType).
		Float64("percentage", result.Percentage).
		Float64("completion", result.CompletionPercentage).
		Str("reliability", result.QualityIndicators.DataReliability).
		Msg("scores computed")

	if qn.RequiresReport {
		return response.StatusScoringCompleted, nil
	}
	return response.StatusCompleted, nil
}

// answersFor returns the processed answers, back-filling from raw every
// questionnaire question whose processed entry is missing or empty.
func answersFor(r *response.Response, qn *questionnaire.Questionnaire) (map[response.QuestionID]response.ProcessedAnswer, []response.QuestionID) {
	out := make(map[response.QuestionID]response.ProcessedAnswer, len(r.ProcessedResponses))
	for k, v := range r.ProcessedResponses {
		out[k] = v
	}
	var backfilled []response.QuestionID
	for _, q := range qn.Questions {
		id := response.QuestionID(q.ID)
		if p, ok := out[id]; ok && !p.IsEmpty() {
			continue
		}
		raw, ok := r.RawResponses[id]
		if !ok || raw.IsEmpty() {
			continue
		}
		p := response.Normalize(map[response.QuestionID]response.RawAnswer{id: raw})[id]
		if t := strings.TrimSpace(r.Transcriptions[id]); t != "" {
			p.Transcription = t
		}
		out[id] = p
		backfilled = append(backfilled, id)
	}
	return out, backfilled
}

type completion struct {
	percentage float64
	breakdown  response.CompletionBreakdown
}

func completionOf(r *response.Response, qn *questionnaire.Questionnaire) completion {
	answered := 0
	for _, q := range qn.Questions {
		if a, ok := r.RawResponses[response.QuestionID(q.ID)]; ok && !a.IsEmpty() {
			answered++
		}
	}
	b := response.CompletionBreakdown{
		ResponseCompleteness: Completeness(answered, len(qn.Questions)),
		AIAnalysisRequired:   qn.RequiresAIAnalysis,
		ScoringSuccess:       100,
	}
	if r.AIAnalysis.Usable() {
		b.AIAnalysisCompletion = 100
	}
	sum := b.ResponseCompleteness*weightCompleteness + b.ScoringSuccess*weightScoring
	weights := weightCompleteness + weightScoring
	if qn.RequiresAIAnalysis {
		sum += b.AIAnalysisCompletion * weightAI
		weights += weightAI
	}
	return completion{percentage: round2(sum / weights), breakdown: b}
}

// Completeness is answered/total as a percentage rounded to two decimals.
func Completeness(answered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round2(math.Min(100, float64(answered)/float64(total)*100))
}

// Reliability grades the share of satisfied reliability factors.
func Reliability(f response.ReliabilityFactors) string {
	met := 0
	for _, ok := range []bool{f.HighCompletion, f.HasAIAnalysis, f.HasTranscriptions, f.NoProcessingError} {
		if ok {
			met++
		}
	}
	share := float64(met) / 4 * 100
	switch {
	case share > 75:
		return "high"
	case share > 50:
		return "medium"
	case share > 25:
		return "low"
	default:
		return "very_low"
	}
}

func hasTranscriptions(r *response.Response) bool {
	for _, t := range r.Transcriptions {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

func copyAudit(in map[response.StageName]response.StageAudit) map[response.StageName]response.StageAudit {
	if len(in) == 0 {
		return nil
	}
	out := make(map[response.StageName]response.StageAudit, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
