package response

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// New builds a pending response from a submission, normalizing raw answers
// into processed answers.
func New(id, campaignID, questionnaireID string, respondent Respondent, raw map[QuestionID]RawAnswer, now time.Time) (*Response, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("response id is required")
	}
	if strings.TrimSpace(questionnaireID) == "" {
		return nil, errors.New("questionnaire_id is required")
	}
	for qid, a := range raw {
		if err := validateRaw(qid, a); err != nil {
			return nil, err
		}
	}
	r := &Response{
		ID:                 strings.TrimSpace(id),
		CampaignID:         strings.TrimSpace(campaignID),
		QuestionnaireID:    strings.TrimSpace(questionnaireID),
		Respondent:         respondent,
		RawResponses:       raw,
		ProcessedResponses: Normalize(raw),
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if r.RawResponses == nil {
		r.RawResponses = map[QuestionID]RawAnswer{}
	}
	return r, nil
}

func validateRaw(qid QuestionID, a RawAnswer) error {
	switch a.Kind {
	case AnswerText, AnswerChoice, AnswerChoices, AnswerScale:
		return nil
	case AnswerAudio:
		if a.Audio == nil {
			return fmt.Errorf("question %s: audio answer without audio record", qid)
		}
		return nil
	default:
		return fmt.Errorf("question %s: unknown answer kind %q", qid, a.Kind)
	}
}

// Normalize derives processed answers from raw answers. The raw map and its
// audio records are never aliased by the result.
func Normalize(raw map[QuestionID]RawAnswer) map[QuestionID]ProcessedAnswer {
	out := make(map[QuestionID]ProcessedAnswer, len(raw))
	for qid, a := range raw {
		p := ProcessedAnswer{Kind: a.Kind}
		switch a.Kind {
		case AnswerText:
			p.Text = strings.TrimSpace(a.Text)
		case AnswerChoice:
			p.Choice = strings.TrimSpace(a.Choice)
		case AnswerChoices:
			p.Choices = normalizeChoices(a.Choices)
		case AnswerScale:
			if a.Scale != nil {
				v := *a.Scale
				p.Scale = &v
			}
		case AnswerAudio:
			if a.Audio != nil {
				cp := *a.Audio
				cp.Path = strings.TrimSpace(cp.Path)
				cp.Analysis = copyAnalysis(a.Audio.Analysis)
				p.Audio = &cp
			}
		}
		out[qid] = p
	}
	return out
}

func copyAnalysis(a *AudioAnalysis) *AudioAnalysis {
	if a == nil {
		return nil
	}
	cp := *a
	if a.EmotionalScores != nil {
		cp.EmotionalScores = make(map[string]float64, len(a.EmotionalScores))
		for k, v := range a.EmotionalScores {
			cp.EmotionalScores[k] = v
		}
	}
	cp.Observations = append([]string(nil), a.Observations...)
	return &cp
}

func normalizeChoices(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// NonEmptyRawCount counts submitted answers that carry a value.
func (r *Response) NonEmptyRawCount() int {
	n := 0
	for _, a := range r.RawResponses {
		if !a.IsEmpty() {
			n++
		}
	}
	return n
}

// AudioQuestions lists the question ids whose raw answer is audio.
func (r *Response) AudioQuestions() []QuestionID {
	var out []QuestionID
	for qid, a := range r.RawResponses {
		if a.Kind == AnswerAudio && a.Audio != nil {
			out = append(out, qid)
		}
	}
	return out
}
