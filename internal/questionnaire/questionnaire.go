package questionnaire

import (
	"errors"
	"fmt"
	"strings"
)

// Type selects the scoring strategy applied to a questionnaire.
type Type string

const (
	TypeReflectiveQuestions Type = "reflective_questions"
	TypeBigFive             Type = "big_five"
	TypeMultipleChoice      Type = "multiple_choice"
	TypeSingleChoice        Type = "single_choice"
	TypeTextResponse        Type = "text_response"
	TypeScaleRating         Type = "scale_rating"
)

var aliases = map[string]Type{
	"audio_based": TypeReflectiveQuestions,
	"personality": TypeBigFive,
}

// Canonical maps aliases onto their canonical type. Unknown values are
// returned unchanged so the scoring factory can reject them.
func (t Type) Canonical() Type {
	key := strings.ToLower(strings.TrimSpace(string(t)))
	if c, ok := aliases[key]; ok {
		return c
	}
	return Type(key)
}

type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionScale          QuestionType = "scale"
	QuestionAudio          QuestionType = "audio"
)

type Option struct {
	Value string  `json:"value" yaml:"value"`
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

type Question struct {
	ID         string       `json:"id" yaml:"id"`
	Section    string       `json:"section,omitempty" yaml:"section"`
	Text       string       `json:"text" yaml:"text"`
	Type       QuestionType `json:"type" yaml:"type"`
	Options    []Option     `json:"options,omitempty" yaml:"options"`
	ScaleMin   float64      `json:"scale_min,omitempty" yaml:"scale_min"`
	ScaleMax   float64      `json:"scale_max,omitempty" yaml:"scale_max"`
	Trait      string       `json:"trait,omitempty" yaml:"trait"`
	Reverse    bool         `json:"reverse,omitempty" yaml:"reverse"`
	Competency string       `json:"competency,omitempty" yaml:"competency"`
}

// Bounds returns the scale range, defaulting to 1..5.
func (q Question) Bounds() (float64, float64) {
	lo, hi := q.ScaleMin, q.ScaleMax
	if lo == 0 && hi == 0 {
		return 1, 5
	}
	if hi <= lo {
		return lo, lo + 4
	}
	return lo, hi
}

// Option looks up an option by value or, failing that, by label.
func (q Question) Option(v string) (Option, bool) {
	v = strings.TrimSpace(v)
	for _, o := range q.Options {
		if o.Value == v {
			return o, true
		}
	}
	for _, o := range q.Options {
		if strings.EqualFold(o.Label, v) {
			return o, true
		}
	}
	return Option{}, false
}

type Questionnaire struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	Description        string     `json:"description,omitempty" yaml:"description"`
	ScoringType        Type       `json:"scoring_type" yaml:"scoring_type"`
	RequiresAIAnalysis bool       `json:"requires_ai_analysis" yaml:"requires_ai_analysis"`
	RequiresReport     bool       `json:"requires_report" yaml:"requires_report"`
	Questions          []Question `json:"questions" yaml:"questions"`
}

func (q *Questionnaire) Question(id string) (Question, bool) {
	for _, qq := range q.Questions {
		if qq.ID == id {
			return qq, true
		}
	}
	return Question{}, false
}

func (q *Questionnaire) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return errors.New("questionnaire id is required")
	}
	if strings.TrimSpace(string(q.ScoringType)) == "" {
		return fmt.Errorf("questionnaire %s: scoring_type is required", q.ID)
	}
	seen := map[string]struct{}{}
	for i, qq := range q.Questions {
		if strings.TrimSpace(qq.ID) == "" {
			return fmt.Errorf("questionnaire %s: question %d has no id", q.ID, i)
		}
		if _, dup := seen[qq.ID]; dup {
			return fmt.Errorf("questionnaire %s: duplicate question id %s", q.ID, qq.ID)
		}
		seen[qq.ID] = struct{}{}
		switch qq.Type {
		case QuestionText, QuestionScale, QuestionAudio:
		case QuestionSingleChoice, QuestionMultipleChoice:
			if len(qq.Options) == 0 {
				return fmt.Errorf("questionnaire %s: question %s has no options", q.ID, qq.ID)
			}
		default:
			return fmt.Errorf("questionnaire %s: question %s has unknown type %q", q.ID, qq.ID, qq.Type)
		}
	}
	return nil
}
