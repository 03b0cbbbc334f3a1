package scoring

import (
	"sort"

	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

type reflectiveStrategy struct{}

func (reflectiveStrategy) Type() questionnaire.Type { return questionnaire.TypeReflectiveQuestions }

func (reflectiveStrategy) Compute(in Input) (Outcome, error) {
	p := &response.ReflectivePayload{}
	emotions := map[string][]float64{}
	for _, q := range in.Questionnaire.Questions {
		if q.Type != questionnaire.QuestionAudio && q.Type != questionnaire.QuestionText {
			continue
		}
		rq := response.ReflectiveQuestion{QuestionID: response.QuestionID(q.ID)}
		if a, ok := in.answer(q); ok {
			text := a.TextSignal()
			rq.WordCount = parser.WordCount(text)
			rq.HasTranscript = a.Transcription != "" || (a.Audio != nil && a.Audio.Transcript != "")
			if rq.HasTranscript {
				p.TranscribedCount++
			}
			if a.Audio != nil && a.Audio.Analysis != nil {
				scores := a.Audio.Analysis.EmotionalScores
				rq.DominantEmotion = argmax(scores)
				for k, v := range scores {
					emotions[k] = append(emotions[k], v)
				}
			}
		}
		p.Questions = append(p.Questions, rq)
	}

	if len(emotions) > 0 {
		p.EmotionalAverages = map[string]float64{}
		for k, vs := range emotions {
			p.EmotionalAverages[k] = round2(mean(vs))
		}
		p.DominantEmotion = argmax(p.EmotionalAverages)
	}

	var skillScores []float64
	if in.AIAnalysis.Usable() && len(in.AIAnalysis.SoftSkills) > 0 {
		p.SoftSkills = map[string]float64{}
		names := make([]string, 0, len(in.AIAnalysis.SoftSkills))
		for name := range in.AIAnalysis.SoftSkills {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := round2(parser.Clamp(in.AIAnalysis.SoftSkills[name].Score, 0, 10))
			p.SoftSkills[name] = v
			skillScores = append(skillScores, v)
		}
	}
	total := round2(mean(skillScores))
	return Outcome{
		TotalScore:    total,
		PossibleScore: 10,
		Percentage:    percent(total, 10),
		Payload:       response.ScorePayload{Reflective: p},
	}, nil
}
