package scoring

import (
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Type() questionnaire.Type { return questionnaire.TypeSingleChoice }

func (singleChoiceStrategy) Compute(in Input) (Outcome, error) {
	p := &response.PointsPayload{}
	var total, possible float64
	for _, q := range in.Questionnaire.Questions {
		if len(q.Options) == 0 {
			continue
		}
		top := 0.0
		for _, o := range q.Options {
			if o.Score > top {
				top = o.Score
			}
		}
		qs := response.QuestionScore{QuestionID: response.QuestionID(q.ID), Possible: top}
		possible += top
		if a, ok := in.answer(q); ok {
			value := a.Choice
			if value == "" && len(a.Choices) > 0 {
				value = a.Choices[0]
			}
			qs.Answered = true
			p.AnsweredCount++
			if opt, found := q.Option(value); found {
				qs.Score = opt.Score
			} else {
				in.Logger.Warn().Str("question_id", q.ID).Str("value", value).Msg("unknown option value scored 0")
				qs.Note = "unknown option"
			}
			if top > 0 && qs.Score >= top {
				p.FullMarks++
			}
		}
		qs.Percentage = percent(qs.Score, qs.Possible)
		total += qs.Score
		p.Questions = append(p.Questions, qs)
	}
	return Outcome{
		TotalScore:    round2(total),
		PossibleScore: round2(possible),
		Percentage:    percent(total, possible),
		Payload:       response.ScorePayload{Points: p},
	}, nil
}

type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Type() questionnaire.Type { return questionnaire.TypeMultipleChoice }

func (multipleChoiceStrategy) Compute(in Input) (Outcome, error) {
	p := &response.PointsPayload{}
	var total, possible float64
	for _, q := range in.Questionnaire.Questions {
		if len(q.Options) == 0 {
			continue
		}
		top := 0.0
		for _, o := range q.Options {
			if o.Score > 0 {
				top += o.Score
			}
		}
		qs := response.QuestionScore{QuestionID: response.QuestionID(q.ID), Possible: top}
		possible += top
		if a, ok := in.answer(q); ok {
			selected := a.Choices
			if len(selected) == 0 && a.Choice != "" {
				selected = []string{a.Choice}
			}
			qs.Answered = true
			p.AnsweredCount++
			sum := 0.0
			for _, v := range selected {
				opt, found := q.Option(v)
				if !found {
					in.Logger.Warn().Str("question_id", q.ID).Str("value", v).Msg("unknown option value scored 0")
					qs.Note = "unknown option"
					continue
				}
				sum += opt.Score
			}
			if sum < 0 {
				sum = 0
			}
			qs.Score = sum
			if top > 0 && sum >= top {
				p.FullMarks++
			}
		}
		qs.Percentage = percent(qs.Score, qs.Possible)
		total += qs.Score
		p.Questions = append(p.Questions, qs)
	}
	return Outcome{
		TotalScore:    round2(total),
		PossibleScore: round2(possible),
		Percentage:    percent(total, possible),
		Payload:       response.ScorePayload{Points: p},
	}, nil
}
