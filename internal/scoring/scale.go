package scoring

import (
	"strings"

	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

type scaleStrategy struct{}

func (scaleStrategy) Type() questionnaire.Type { return questionnaire.TypeScaleRating }

func (scaleStrategy) Compute(in Input) (Outcome, error) {
	p := &response.ScalePayload{}
	var total, possible float64
	var values []float64
	for _, q := range in.Questionnaire.Questions {
		if q.Type != questionnaire.QuestionScale {
			continue
		}
		lo, hi := q.Bounds()
		qs := response.QuestionScore{QuestionID: response.QuestionID(q.ID), Possible: hi}
		possible += hi
		if a, ok := in.answer(q); ok {
			if v, ok := scaledValue(q, a); ok {
				qs.Answered = true
				qs.Score = v
				qs.Percentage = round2((v - lo) / (hi - lo) * 100)
				total += v
				values = append(values, v)
				p.AnsweredCount++
			} else {
				in.Logger.Warn().Str("question_id", q.ID).Msg("non-numeric scale answer ignored")
				qs.Note = "non-numeric"
			}
		}
		p.Questions = append(p.Questions, qs)
	}
	p.Mean = round2(mean(values))
	return Outcome{
		TotalScore:    round2(total),
		PossibleScore: round2(possible),
		Percentage:    percent(total, possible),
		Payload:       response.ScorePayload{Scale: p},
	}, nil
}

// scaledValue clamps the answer into the question's bounds and mirrors
// reverse keyed items.
func scaledValue(q questionnaire.Question, a response.ProcessedAnswer) (float64, bool) {
	v, ok := numeric(a)
	if !ok {
		return 0, false
	}
	lo, hi := q.Bounds()
	v = parser.Clamp(v, lo, hi)
	if q.Reverse {
		v = lo + hi - v
	}
	return v, true
}

var traitNames = map[string]string{
	"o": "openness", "openness": "openness",
	"c": "conscientiousness", "conscientiousness": "conscientiousness",
	"e": "extraversion", "extraversion": "extraversion",
	"a": "agreeableness", "agreeableness": "agreeableness",
	"n": "neuroticism", "neuroticism": "neuroticism",
}

var traitOrder = []string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

type bigFiveStrategy struct{}

func (bigFiveStrategy) Type() questionnaire.Type { return questionnaire.TypeBigFive }

func (bigFiveStrategy) Compute(in Input) (Outcome, error) {
	normalized := map[string][]float64{}
	for _, q := range in.Questionnaire.Questions {
		trait, ok := traitNames[strings.ToLower(strings.TrimSpace(q.Trait))]
		if !ok {
			continue
		}
		a, ok := in.answer(q)
		if !ok {
			continue
		}
		v, ok := scaledValue(q, a)
		if !ok {
			in.Logger.Warn().Str("question_id", q.ID).Msg("non-numeric personality answer ignored")
			continue
		}
		lo, hi := q.Bounds()
		// Put every item on the 1..5 scale before averaging.
		normalized[trait] = append(normalized[trait], 1+(v-lo)/(hi-lo)*4)
	}

	p := &response.PersonalityPayload{Traits: map[string]response.TraitScore{}}
	var percentages []float64
	best := -1.0
	for _, trait := range traitOrder {
		items := normalized[trait]
		if len(items) == 0 {
			continue
		}
		m := mean(items)
		pct := round2((m - 1) / 4 * 100)
		p.Traits[trait] = response.TraitScore{
			Trait:      trait,
			Mean:       round2(m),
			Percentage: pct,
			Level:      traitLevel(pct),
			Items:      len(items),
		}
		percentages = append(percentages, pct)
		if pct > best {
			best = pct
			p.DominantTrait = trait
		}
	}
	total := round2(mean(percentages))
	return Outcome{
		TotalScore:    total,
		PossibleScore: 100,
		Percentage:    total,
		Payload:       response.ScorePayload{Personality: p},
	}, nil
}

func traitLevel(pct float64) string {
	switch {
	case pct < 40:
		return "low"
	case pct < 70:
		return "medium"
	default:
		return "high"
	}
}
