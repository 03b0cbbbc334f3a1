package scoring

import (
	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

const textMaxPoints = 10

type textStrategy struct{}

func (textStrategy) Type() questionnaire.Type { return questionnaire.TypeTextResponse }

func (textStrategy) Compute(in Input) (Outcome, error) {
	p := &response.TextPayload{}
	var total, possible float64
	answered := 0
	for _, q := range in.Questionnaire.Questions {
		if q.Type != questionnaire.QuestionText && q.Type != questionnaire.QuestionAudio {
			continue
		}
		qs := response.QuestionScore{QuestionID: response.QuestionID(q.ID), Possible: textMaxPoints}
		possible += textMaxPoints
		if a, ok := in.answer(q); ok {
			words := parser.WordCount(a.TextSignal())
			qs.Score = wordPoints(words)
			if qs.Score > 0 && a.AIInterpretation != nil && a.AIInterpretation.Confidence >= 0.5 {
				qs.Score++
				qs.Note = "ai_bonus"
			}
			if qs.Score > textMaxPoints {
				qs.Score = textMaxPoints
			}
			qs.Answered = words > 0
			if qs.Answered {
				answered++
				p.TotalWords += words
			}
		}
		qs.Percentage = percent(qs.Score, qs.Possible)
		total += qs.Score
		p.Questions = append(p.Questions, qs)
	}
	if answered > 0 {
		p.AverageWords = round2(float64(p.TotalWords) / float64(answered))
	}
	return Outcome{
		TotalScore:    round2(total),
		PossibleScore: possible,
		Percentage:    percent(total, possible),
		Payload:       response.ScorePayload{Text: p},
	}, nil
}

func wordPoints(words int) float64 {
	switch {
	case words >= 50:
		return 10
	case words >= 20:
		return 7
	case words >= 5:
		return 4
	case words > 0:
		return 2
	default:
		return 0
	}
}
