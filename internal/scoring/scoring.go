// Package scoring computes questionnaire scores. Every strategy is a pure
// function of its input.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

type Input struct {
	Questionnaire *questionnaire.Questionnaire
	Answers       map[response.QuestionID]response.ProcessedAnswer
	AIAnalysis    *response.AIAnalysis
	Logger        zerolog.Logger
}

func (in Input) answer(q questionnaire.Question) (response.ProcessedAnswer, bool) {
	a, ok := in.Answers[response.QuestionID(q.ID)]
	if !ok || a.IsEmpty() {
		return response.ProcessedAnswer{}, false
	}
	return a, true
}

type Outcome struct {
	TotalScore    float64
	PossibleScore float64
	Percentage    float64
	Payload       response.ScorePayload
}

type Strategy interface {
	Type() questionnaire.Type
	Compute(in Input) (Outcome, error)
}

type UnsupportedScoringTypeError struct {
	Type string
}

func (e *UnsupportedScoringTypeError) Error() string {
	return fmt.Sprintf("unsupported scoring type %q", e.Type)
}

var strategies = map[questionnaire.Type]Strategy{
	questionnaire.TypeReflectiveQuestions: reflectiveStrategy{},
	questionnaire.TypeBigFive:             bigFiveStrategy{},
	questionnaire.TypeMultipleChoice:      multipleChoiceStrategy{},
	questionnaire.TypeSingleChoice:        singleChoiceStrategy{},
	questionnaire.TypeTextResponse:        textStrategy{},
	questionnaire.TypeScaleRating:         scaleStrategy{},
}

// ForType returns the strategy for t, resolving aliases.
func ForType(t questionnaire.Type) (Strategy, error) {
	s, ok := strategies[t.Canonical()]
	if !ok {
		return nil, &UnsupportedScoringTypeError{Type: string(t)}
	}
	return s, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percent(total, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	return round2(total / possible * 100)
}

func mean(values []float64) float64 {
	m, err := stats.Mean(stats.Float64Data(values))
	if err != nil {
		return 0
	}
	return m
}

// numeric reads a numeric answer from a scale value or a numeric string.
func numeric(a response.ProcessedAnswer) (float64, bool) {
	if a.Scale != nil {
		return *a.Scale, true
	}
	for _, s := range []string{a.Text, a.Choice} {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// argmax returns the key with the highest value, ties broken by key order.
func argmax(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := ""
	bestV := math.Inf(-1)
	for _, k := range keys {
		if m[k] > bestV {
			best, bestV = k, m[k]
		}
	}
	return best
}
