package response

import (
	"strconv"
	"strings"
	"time"
)

type QuestionID string

type StageName string

const (
	StageTranscription    StageName = "transcription"
	StageAIInterpretation StageName = "ai_interpretation"
	StageScoring          StageName = "scoring"
	StageReport           StageName = "report"
)

type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerChoice  AnswerKind = "choice"
	AnswerChoices AnswerKind = "choices"
	AnswerScale   AnswerKind = "scale"
	AnswerAudio   AnswerKind = "audio"
)

type Respondent struct {
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Type           string            `json:"type,omitempty"`
	Age            int               `json:"age,omitempty"`
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
}

// RawAnswer is one submitted answer. Exactly one of the value fields is
// meaningful, selected by Kind.
type RawAnswer struct {
	Kind    AnswerKind   `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Choice  string       `json:"choice,omitempty"`
	Choices []string     `json:"choices,omitempty"`
	Scale   *float64     `json:"scale,omitempty"`
	Audio   *AudioAnswer `json:"audio,omitempty"`
}

func (a RawAnswer) IsEmpty() bool {
	switch a.Kind {
	case AnswerText:
		return strings.TrimSpace(a.Text) == ""
	case AnswerChoice:
		return strings.TrimSpace(a.Choice) == ""
	case AnswerChoices:
		for _, c := range a.Choices {
			if strings.TrimSpace(c) != "" {
				return false
			}
		}
		return true
	case AnswerScale:
		return a.Scale == nil
	case AnswerAudio:
		return a.Audio == nil || strings.TrimSpace(a.Audio.Path) == ""
	default:
		return true
	}
}

type AudioAnswer struct {
	Path       string         `json:"path"`
	MIMEType   string         `json:"mime_type,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
	Analysis   *AudioAnalysis `json:"analysis,omitempty"`
}

type AudioAnalysis struct {
	Transcript              string                  `json:"transcript"`
	DurationSeconds         float64                 `json:"duration_seconds"`
	EmotionalScores         map[string]float64      `json:"emotional_scores,omitempty"`
	Prosodic                ProsodicMetrics         `json:"prosodic_metrics"`
	PsychologicalIndicators PsychologicalIndicators `json:"psychological_indicators"`
	Observations            []string                `json:"observations,omitempty"`
}

type ProsodicMetrics struct {
	SpeechRate        float64 `json:"speech_rate"`
	PauseFrequency    float64 `json:"pause_frequency"`
	PitchVariation    float64 `json:"pitch_variation"`
	VolumeConsistency float64 `json:"volume_consistency"`
}

type PsychologicalIndicators struct {
	StressLevel     float64 `json:"stress_level"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Engagement      float64 `json:"engagement"`
	Authenticity    float64 `json:"authenticity"`
}

// ProsodicAnalysis is the per-question emotional and prosodic summary kept on
// the response for reporting.
type ProsodicAnalysis struct {
	DurationSeconds         float64                 `json:"duration_seconds"`
	Metrics                 ProsodicMetrics         `json:"metrics"`
	EmotionalScores         map[string]float64      `json:"emotional_scores,omitempty"`
	DominantEmotion         string                  `json:"dominant_emotion,omitempty"`
	PsychologicalIndicators PsychologicalIndicators `json:"psychological_indicators"`
}

// ProcessedAnswer is the normalized per-question record. Transcription is
// written by the transcription stage, AIInterpretation by the AI
// interpretation stage; everything else is fixed at submission.
type ProcessedAnswer struct {
	Kind             AnswerKind              `json:"kind"`
	Text             string                  `json:"text,omitempty"`
	Choice           string                  `json:"choice,omitempty"`
	Choices          []string                `json:"choices,omitempty"`
	Scale            *float64                `json:"scale,omitempty"`
	Audio            *AudioAnswer            `json:"audio,omitempty"`
	Transcription    string                  `json:"transcription,omitempty"`
	AIInterpretation *QuestionInterpretation `json:"ai_interpretation,omitempty"`
}

func (p ProcessedAnswer) IsEmpty() bool {
	if strings.TrimSpace(p.Transcription) != "" {
		return false
	}
	return RawAnswer{Kind: p.Kind, Text: p.Text, Choice: p.Choice, Choices: p.Choices, Scale: p.Scale, Audio: p.Audio}.IsEmpty()
}

// TextSignal returns the best textual form of the answer: transcript first,
// then free text, then choice values.
func (p ProcessedAnswer) TextSignal() string {
	if t := strings.TrimSpace(p.Transcription); t != "" {
		return t
	}
	switch p.Kind {
	case AnswerText:
		return strings.TrimSpace(p.Text)
	case AnswerChoice:
		return strings.TrimSpace(p.Choice)
	case AnswerChoices:
		return strings.Join(p.Choices, ", ")
	case AnswerScale:
		if p.Scale != nil {
			return strconv.FormatFloat(*p.Scale, 'f', -1, 64)
		}
	case AnswerAudio:
		if p.Audio != nil {
			return strings.TrimSpace(p.Audio.Transcript)
		}
	}
	return ""
}

type SoftSkill struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

type QuestionInterpretation struct {
	Interpretation string  `json:"interpretation"`
	Confidence     float64 `json:"confidence"`
}

const (
	InterpretationStructured = "structured"
	InterpretationNarrative  = "narrative"
	InterpretationFallback   = "fallback"
	InterpretationSkipped    = "skipped"
)

type InterpretationQuality struct {
	HasInterpretations    bool    `json:"has_interpretations"`
	HasSoftSkillsAnalysis bool    `json:"has_soft_skills_analysis"`
	ContentRichness       string  `json:"content_richness"`
	AnalysisCompleteness  float64 `json:"analysis_completeness"`
}

type AIAnalysis struct {
	Interpretation          string                                `json:"interpretation"`
	Summary                 string                                `json:"summary,omitempty"`
	SoftSkills              map[string]SoftSkill                  `json:"soft_skills,omitempty"`
	QuestionInterpretations map[QuestionID]QuestionInterpretation `json:"question_interpretations,omitempty"`
	Recommendations         []string                              `json:"recommendations,omitempty"`
	OverallConfidence       float64                               `json:"overall_confidence"`
	QualityIndicators       InterpretationQuality                 `json:"quality_indicators"`
	Source                  string                                `json:"source"`
	Model                   string                                `json:"model,omitempty"`
	GeneratedAt             time.Time                             `json:"generated_at"`
}

// Usable reports whether the analysis carries real AI output rather than a
// skipped placeholder.
func (a *AIAnalysis) Usable() bool {
	return a != nil && a.Source != InterpretationSkipped
}

type QuestionScore struct {
	QuestionID QuestionID `json:"question_id"`
	Score      float64    `json:"score"`
	Possible   float64    `json:"possible"`
	Percentage float64    `json:"percentage,omitempty"`
	Answered   bool       `json:"answered"`
	Note       string     `json:"note,omitempty"`
}

type PointsPayload struct {
	Questions     []QuestionScore `json:"questions"`
	AnsweredCount int             `json:"answered_count"`
	FullMarks     int             `json:"full_marks"`
}

type ScalePayload struct {
	Questions     []QuestionScore `json:"questions"`
	Mean          float64         `json:"mean"`
	AnsweredCount int             `json:"answered_count"`
}

type TraitScore struct {
	Trait      string  `json:"trait"`
	Mean       float64 `json:"mean"`
	Percentage float64 `json:"percentage"`
	Level      string  `json:"level"`
	Items      int     `json:"items"`
}

type PersonalityPayload struct {
	Traits        map[string]TraitScore `json:"traits"`
	DominantTrait string                `json:"dominant_trait,omitempty"`
}

type TextPayload struct {
	Questions    []QuestionScore `json:"questions"`
	TotalWords   int             `json:"total_words"`
	AverageWords float64         `json:"average_words"`
}

type ReflectiveQuestion struct {
	QuestionID      QuestionID `json:"question_id"`
	HasTranscript   bool       `json:"has_transcript"`
	WordCount       int        `json:"word_count"`
	DominantEmotion string     `json:"dominant_emotion,omitempty"`
}

type ReflectivePayload struct {
	Questions         []ReflectiveQuestion `json:"questions"`
	SoftSkills        map[string]float64   `json:"soft_skills,omitempty"`
	EmotionalAverages map[string]float64   `json:"emotional_averages,omitempty"`
	DominantEmotion   string               `json:"dominant_emotion,omitempty"`
	TranscribedCount  int                  `json:"transcribed_count"`
}

// ScorePayload carries exactly one strategy-specific result.
type ScorePayload struct {
	Points      *PointsPayload      `json:"points,omitempty"`
	Scale       *ScalePayload       `json:"scale,omitempty"`
	Personality *PersonalityPayload `json:"personality,omitempty"`
	Text        *TextPayload        `json:"text,omitempty"`
	Reflective  *ReflectivePayload  `json:"reflective,omitempty"`
}

type CompletionBreakdown struct {
	ResponseCompleteness float64 `json:"response_completeness"`
	AIAnalysisCompletion float64 `json:"ai_analysis_completion"`
	AIAnalysisRequired   bool    `json:"ai_analysis_required"`
	ScoringSuccess       float64 `json:"scoring_success"`
}

type ReliabilityFactors struct {
	HighCompletion    bool `json:"high_completion"`
	HasAIAnalysis     bool `json:"has_ai_analysis"`
	HasTranscriptions bool `json:"has_transcriptions"`
	NoProcessingError bool `json:"no_processing_error"`
}

type QualityIndicators struct {
	DataReliability      string             `json:"data_reliability"`
	ResponseCompleteness float64            `json:"response_completeness"`
	HasAIEnhancement     bool               `json:"has_ai_enhancement"`
	HasTranscriptions    bool               `json:"has_transcriptions"`
	ReliabilityFactors   ReliabilityFactors `json:"reliability_factors"`
}

type ScoreMetadata struct {
	ProcessedAt       time.Time                `json:"processed_at"`
	DurationMS        int64                    `json:"duration_ms"`
	ProcessorVersion  string                   `json:"processor_version"`
	BackfilledFromRaw []QuestionID             `json:"backfilled_from_raw,omitempty"`
	AuditTrail        map[StageName]StageAudit `json:"audit_trail,omitempty"`
}

type ScoreResult struct {
	ScoringType          string              `json:"scoring_type"`
	TotalScore           float64             `json:"total_score"`
	PossibleScore        float64             `json:"possible_score"`
	Percentage           float64             `json:"percentage"`
	Payload              ScorePayload        `json:"payload"`
	CompletionPercentage float64             `json:"completion_percentage"`
	Completion           CompletionBreakdown `json:"completion"`
	QualityIndicators    QualityIndicators   `json:"quality_indicators"`
	Metadata             ScoreMetadata       `json:"processing_metadata"`
}

type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Competency struct {
	Number      int     `json:"number"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Max         float64 `json:"max"`
	Description string  `json:"description"`
}

type ReportMetadata struct {
	WordCount      int       `json:"word_count"`
	Model          string    `json:"model,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
	IsFallback     bool      `json:"is_fallback"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type Report struct {
	Sections     []ReportSection `json:"sections"`
	Competencies []Competency    `json:"competencies,omitempty"`
	Metadata     ReportMetadata  `json:"metadata"`
}

// Section returns the section whose title matches case-insensitively.
func (r *Report) Section(title string) (ReportSection, bool) {
	if r == nil {
		return ReportSection{}, false
	}
	for _, s := range r.Sections {
		if strings.EqualFold(strings.TrimSpace(s.Title), strings.TrimSpace(title)) {
			return s, true
		}
	}
	return ReportSection{}, false
}

type StageAudit struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// Response is the aggregate root of the processing pipeline.
type Response struct {
	ID              string     `json:"id"`
	CampaignID      string     `json:"campaign_id"`
	QuestionnaireID string     `json:"questionnaire_id"`
	Respondent      Respondent `json:"respondent"`

	RawResponses       map[QuestionID]RawAnswer       `json:"raw_responses"`
	ProcessedResponses map[QuestionID]ProcessedAnswer `json:"processed_responses"`

	Transcriptions      map[QuestionID]string           `json:"transcriptions,omitempty"`
	ProsodicAnalysis    map[QuestionID]ProsodicAnalysis `json:"prosodic_analysis,omitempty"`
	AIAnalysis          *AIAnalysis                     `json:"ai_analysis,omitempty"`
	QuestionnaireScores *ScoreResult                    `json:"questionnaire_scores,omitempty"`
	ComprehensiveReport *Report                         `json:"comprehensive_report,omitempty"`

	Status          Status                   `json:"processing_status"`
	ProcessingError string                   `json:"processing_error,omitempty"`
	Audit           map[StageName]StageAudit `json:"audit,omitempty"`
	GatewayCalls    map[string]time.Time     `json:"gateway_calls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Response) MarkStarted(stage StageName, at time.Time) {
	a := r.audit(stage)
	a.StartedAt = &at
	a.FailedAt = nil
	r.Audit[stage] = a
}

func (r *Response) MarkCompleted(stage StageName, at time.Time) {
	a := r.audit(stage)
	a.CompletedAt = &at
	r.Audit[stage] = a
}

func (r *Response) MarkFailed(stage StageName, at time.Time, err error) {
	a := r.audit(stage)
	a.FailedAt = &at
	r.Audit[stage] = a
	if err != nil {
		r.ProcessingError = err.Error()
	}
}

// RecordGatewayCall remembers that a paid external call was issued for key.
func (r *Response) RecordGatewayCall(key string, at time.Time) {
	if r.GatewayCalls == nil {
		r.GatewayCalls = map[string]time.Time{}
	}
	r.GatewayCalls[key] = at
}

func (r *Response) audit(stage StageName) StageAudit {
	if r.Audit == nil {
		r.Audit = map[StageName]StageAudit{}
	}
	return r.Audit[stage]
}
