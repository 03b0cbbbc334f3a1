package scoring

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

func f(v float64) *float64 { return &v }

func choiceQuestion(id string, qt questionnaire.QuestionType, scores ...float64) questionnaire.Question {
	q := questionnaire.Question{ID: id, Type: qt}
	for i, s := range scores {
		v := string(rune('a' + i))
		q.Options = append(q.Options, questionnaire.Option{Value: v, Label: strings.ToUpper(v), Score: s})
	}
	return q
}

func TestForType(t *testing.T) {
	for _, tc := range []struct {
		in   questionnaire.Type
		want questionnaire.Type
	}{
		{"reflective_questions", questionnaire.TypeReflectiveQuestions},
		{"audio_based", questionnaire.TypeReflectiveQuestions},
		{"personality", questionnaire.TypeBigFive},
		{"big_five", questionnaire.TypeBigFive},
		{"multiple_choice", questionnaire.TypeMultipleChoice},
		{"single_choice", questionnaire.TypeSingleChoice},
		{"text_response", questionnaire.TypeTextResponse},
		{"scale_rating", questionnaire.TypeScaleRating},
	} {
		s, err := ForType(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if s.Type() != tc.want {
			t.Fatalf("%s resolved to %s, want %s", tc.in, s.Type(), tc.want)
		}
	}
}

func TestForTypeUnknown(t *testing.T) {
	_, err := ForType("mystery_test")
	var ue *UnsupportedScoringTypeError
	if !errors.As(err, &ue) || ue.Type != "mystery_test" {
		t.Fatalf("expected UnsupportedScoringTypeError, got %v", err)
	}
}

func TestSingleChoice(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		choiceQuestion("q1", questionnaire.QuestionSingleChoice, 0, 1, 3),
		choiceQuestion("q2", questionnaire.QuestionSingleChoice, 2, 0),
		choiceQuestion("q3", questionnaire.QuestionSingleChoice, 1, 5),
	}}
	out, err := singleChoiceStrategy{}.Compute(Input{
		Questionnaire: qn,
		Logger:        zerolog.Nop(),
		Answers: map[response.QuestionID]response.ProcessedAnswer{
			"q1": {Kind: response.AnswerChoice, Choice: "c"},
			"q2": {Kind: response.AnswerChoice, Choice: "zzz"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalScore != 3 || out.PossibleScore != 10 || out.Percentage != 30 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	pts := out.Payload.Points
	if pts == nil || pts.AnsweredCount != 2 || pts.FullMarks != 1 {
		t.Fatalf("unexpected payload %+v", pts)
	}
	if pts.Questions[1].Note != "unknown option" || pts.Questions[1].Score != 0 {
		t.Fatalf("unknown option not scored 0: %+v", pts.Questions[1])
	}
}

func TestMultipleChoiceFloorsAtZero(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		choiceQuestion("q1", questionnaire.QuestionMultipleChoice, 2, 3, -4),
		choiceQuestion("q2", questionnaire.QuestionMultipleChoice, 1, -5),
	}}
	out, err := multipleChoiceStrategy{}.Compute(Input{
		Questionnaire: qn,
		Logger:        zerolog.Nop(),
		Answers: map[response.QuestionID]response.ProcessedAnswer{
			"q1": {Kind: response.AnswerChoices, Choices: []string{"a", "b"}},
			"q2": {Kind: response.AnswerChoices, Choices: []string{"b"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalScore != 5 || out.PossibleScore != 6 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Payload.Points.Questions[1].Score != 0 {
		t.Fatalf("negative sum not floored: %+v", out.Payload.Points.Questions[1])
	}
}

func TestScaleRatingClampsAndReverses(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		{ID: "q1", Type: questionnaire.QuestionScale},
		{ID: "q2", Type: questionnaire.QuestionScale, Reverse: true},
		{ID: "q3", Type: questionnaire.QuestionScale, ScaleMin: 0, ScaleMax: 10},
		{ID: "q4", Type: questionnaire.QuestionScale},
	}}
	out, err := scaleStrategy{}.Compute(Input{
		Questionnaire: qn,
		Logger:        zerolog.Nop(),
		Answers: map[response.QuestionID]response.ProcessedAnswer{
			"q1": {Kind: response.AnswerScale, Scale: f(9)},
			"q2": {Kind: response.AnswerScale, Scale: f(2)},
			"q3": {Kind: response.AnswerText, Text: "5"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	sp := out.Payload.Scale
	if sp.Questions[0].Score != 5 {
		t.Fatalf("out of range not clamped: %+v", sp.Questions[0])
	}
	if sp.Questions[1].Score != 4 {
		t.Fatalf("reverse not mirrored: %+v", sp.Questions[1])
	}
	if sp.Questions[2].Percentage != 50 {
		t.Fatalf("normalised percentage = %v", sp.Questions[2].Percentage)
	}
	// q4 is unanswered but still counts toward the possible score.
	if out.TotalScore != 14 || out.PossibleScore != 25 || out.Percentage != 56 || sp.AnsweredCount != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if sp.Questions[3].Answered || sp.Questions[3].Possible != 5 {
		t.Fatalf("unanswered question = %+v", sp.Questions[3])
	}
	if sp.Mean != 4.67 {
		t.Fatalf("mean = %v", sp.Mean)
	}
}

func TestBigFive(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		{ID: "o1", Type: questionnaire.QuestionScale, Trait: "O"},
		{ID: "o2", Type: questionnaire.QuestionScale, Trait: "O"},
		{ID: "c1", Type: questionnaire.QuestionScale, Trait: "C", Reverse: true},
		{ID: "e1", Type: questionnaire.QuestionScale, Trait: "E"},
		{ID: "x1", Type: questionnaire.QuestionText},
	}}
	out, err := bigFiveStrategy{}.Compute(Input{
		Questionnaire: qn,
		Logger:        zerolog.Nop(),
		Answers: map[response.QuestionID]response.ProcessedAnswer{
			"o1": {Kind: response.AnswerScale, Scale: f(5)},
			"o2": {Kind: response.AnswerScale, Scale: f(4)},
			"c1": {Kind: response.AnswerScale, Scale: f(4)},
			"e1": {Kind: response.AnswerScale, Scale: f(3)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	traits := out.Payload.Personality.Traits
	if got := traits["openness"]; got.Percentage != 87.5 || got.Level != "high" || got.Items != 2 {
		t.Fatalf("openness = %+v", got)
	}
	if got := traits["conscientiousness"]; got.Percentage != 25 || got.Level != "low" {
		t.Fatalf("conscientiousness = %+v", got)
	}
	if got := traits["extraversion"]; got.Percentage != 50 || got.Level != "medium" {
		t.Fatalf("extraversion = %+v", got)
	}
	if _, ok := traits["agreeableness"]; ok {
		t.Fatal("unanswered trait should be absent")
	}
	if out.Payload.Personality.DominantTrait != "openness" {
		t.Fatalf("dominant = %s", out.Payload.Personality.DominantTrait)
	}
	if out.TotalScore != 54.17 || out.PossibleScore != 100 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestTextResponsePoints(t *testing.T) {
	long := strings.Repeat("palabra ", 55)
	medium := strings.Repeat("palabra ", 25)
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		{ID: "q1", Type: questionnaire.QuestionText},
		{ID: "q2", Type: questionnaire.QuestionText},
		{ID: "q3", Type: questionnaire.QuestionText},
		{ID: "q4", Type: questionnaire.QuestionText},
		{ID: "q5", Type: questionnaire.QuestionText},
	}}
	out, err := textStrategy{}.Compute(Input{
		Questionnaire: qn,
		Logger:        zerolog.Nop(),
		Answers: map[response.QuestionID]response.ProcessedAnswer{
			"q1": {Kind: response.AnswerText, Text: long, AIInterpretation: &response.QuestionInterpretation{Confidence: 0.9}},
			"q2": {Kind: response.AnswerText, Text: medium, AIInterpretation: &response.QuestionInterpretation{Confidence: 0.6}},
			"q3": {Kind: response.AnswerText, Text: "uno dos tres cuatro cinco"},
			"q4": {Kind: response.AnswerText, Text: "sí", AIInterpretation: &response.QuestionInterpretation{Confidence: 0.2}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 8, 4, 2, 0}
	for i, qs := range out.Payload.Text.Questions {
		if qs.Score != want[i] {
			t.Fatalf("%s score = %v, want %v", qs.QuestionID, qs.Score, want[i])
		}
	}
	if out.TotalScore != 24 || out.PossibleScore != 50 || out.Percentage != 48 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Payload.Text.TotalWords != 86 {
		t.Fatalf("total words = %d", out.Payload.Text.TotalWords)
	}
}

func TestReflective(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{
		{ID: "q1", Type: questionnaire.QuestionAudio},
		{ID: "q2", Type: questionnaire.QuestionAudio},
		{ID: "q3", Type: questionnaire.QuestionText},
	}}
	answers := map[response.QuestionID]response.ProcessedAnswer{
		"q1": {
			Kind:          response.AnswerAudio,
			Transcription: "me siento tranquilo con el equipo",
			Audio: &response.AudioAnswer{Path: "a.wav", Analysis: &response.AudioAnalysis{
				EmotionalScores: map[string]float64{"joy": 0.6, "fear": 0.1},
			}},
		},
		"q2": {
			Kind:          response.AnswerAudio,
			Transcription: "fue difícil",
			Audio: &response.AudioAnswer{Path: "b.wav", Analysis: &response.AudioAnalysis{
				EmotionalScores: map[string]float64{"joy": 0.2, "fear": 0.5},
			}},
		},
		"q3": {Kind: response.AnswerText, Text: "respuesta escrita"},
	}
	ai := &response.AIAnalysis{Source: response.InterpretationStructured, SoftSkills: map[string]response.SoftSkill{
		"comunicacion": {Score: 8, Confidence: 0.8},
		"liderazgo":    {Score: 6, Confidence: 0.7},
		"empatia":      {Score: 14},
	}}
	out, err := reflectiveStrategy{}.Compute(Input{Questionnaire: qn, Answers: answers, AIAnalysis: ai, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	rp := out.Payload.Reflective
	if rp.TranscribedCount != 2 {
		t.Fatalf("transcribed = %d", rp.TranscribedCount)
	}
	if rp.Questions[0].DominantEmotion != "joy" || rp.Questions[1].DominantEmotion != "fear" {
		t.Fatalf("dominant emotions = %+v", rp.Questions)
	}
	if rp.EmotionalAverages["joy"] != 0.4 || rp.DominantEmotion != "joy" {
		t.Fatalf("averages = %v dominant = %s", rp.EmotionalAverages, rp.DominantEmotion)
	}
	if rp.SoftSkills["empatia"] != 10 {
		t.Fatalf("soft skill not clamped: %v", rp.SoftSkills)
	}
	if out.TotalScore != 8 || out.PossibleScore != 10 || out.Percentage != 80 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestReflectiveWithoutAI(t *testing.T) {
	qn := &questionnaire.Questionnaire{Questions: []questionnaire.Question{{ID: "q1", Type: questionnaire.QuestionAudio}}}
	skipped := &response.AIAnalysis{Source: response.InterpretationSkipped, SoftSkills: map[string]response.SoftSkill{"x": {Score: 9}}}
	out, err := reflectiveStrategy{}.Compute(Input{Questionnaire: qn, AIAnalysis: skipped, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalScore != 0 || out.Payload.Reflective.SoftSkills != nil {
		t.Fatalf("skipped analysis must not contribute: %+v", out)
	}
}
