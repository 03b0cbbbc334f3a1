package stages

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// Interpretation asks the gateway for a narrative and soft-skill reading
// of every answer. Unusable replies degrade to a deterministic fallback;
// only a failed gateway call fails the stage.
type Interpretation struct{}

func (Interpretation) Name() response.StageName { return response.StageAIInterpretation }

func (Interpretation) StartStates() []response.Status {
	return []response.Status{response.StatusTranscribed, response.StatusGeneratingAIInterpretation, response.StatusAIInterpretationFailed}
}

func (Interpretation) RunningState() response.Status {
	return response.StatusGeneratingAIInterpretation
}

func (Interpretation) FailedState() response.Status {
	return response.StatusAIInterpretationFailed
}

const (
	skippedInterpretation  = "No hay respuestas con contenido suficiente para interpretar."
	fallbackInterpretation = "No fue posible obtener una interpretación estructurada de las respuestas."
)

type signal struct {
	id       response.QuestionID
	question string
	answer   string
}

func (i Interpretation) Execute(ctx context.Context, sc *Context, at Attempt) (response.Status, error) {
	r := at.Response
	if r.AIAnalysis != nil && at.redelivered(i.RunningState(), r.AIAnalysis.GeneratedAt) {
		sc.Logger.Info().Msg("reusing checkpointed interpretation")
		return response.StatusAnalyzed, nil
	}

	var qn *questionnaire.Questionnaire
	if sc.Questionnaires != nil {
		var err error
		if qn, err = sc.Questionnaires.GetQuestionnaire(ctx, r.QuestionnaireID); err != nil {
			sc.Logger.Warn().Err(err).Msg("questionnaire unavailable, interpreting without question text")
			qn = nil
		}
	}
	signals := collectSignals(r, qn)
	if len(signals) == 0 {
		r.AIAnalysis = minimalAnalysis(skippedInterpretation, response.InterpretationSkipped, sc.now())
		sc.Logger.Info().Msg("no answer signal, interpretation skipped")
		return response.StatusAnalyzed, nil
	}

	r.RecordGatewayCall(gatewayKey(response.StageAIInterpretation, ""), sc.now())
	if err := sc.save(ctx, r); err != nil {
		return "", fmt.Errorf("record gateway call: %w", err)
	}
	reply, err := sc.Gateway.GenerateText(ctx, gateway.TextRequest{
		Op:      string(response.StageAIInterpretation),
		System:  interpretationSystemPrompt,
		Prompt:  fmt.Sprintf(interpretationPrompt, respondentBlock(r, qn), qaBlock(signals)),
		Timeout: sc.Timeouts.Text,
	})
	if err != nil && !errors.Is(err, gateway.ErrEmptyReply) {
		return "", err
	}

	analysis := ParseInterpretation(reply)
	analysis.Model = sc.Gateway.ModelName()
	analysis.GeneratedAt = sc.now()
	r.AIAnalysis = analysis
	// Questions absent from this analysis lose readings from earlier runs.
	for qid, p := range r.ProcessedResponses {
		p.AIInterpretation = nil
		if qi, ok := analysis.QuestionInterpretations[qid]; ok {
			v := qi
			p.AIInterpretation = &v
		}
		r.ProcessedResponses[qid] = p
	}
	if err := sc.save(ctx, r); err != nil {
		return "", fmt.Errorf("persist interpretation: %w", err)
	}
	sc.Logger.Info().Str("source", analysis.Source).Float64("overall_confidence", analysis.OverallConfidence).
		Str("content_richness", analysis.QualityIndicators.ContentRichness).Msg("interpretation stored")
	return response.StatusAnalyzed, nil
}

// collectSignals returns one entry per answered question, in questionnaire
// order when the questionnaire is known.
func collectSignals(r *response.Response, qn *questionnaire.Questionnaire) []signal {
	var order []response.QuestionID
	text := map[response.QuestionID]string{}
	if qn != nil {
		for _, q := range qn.Questions {
			order = append(order, response.QuestionID(q.ID))
			text[response.QuestionID(q.ID)] = q.Text
		}
	}
	seen := map[response.QuestionID]bool{}
	for _, id := range order {
		seen[id] = true
	}
	var extra []response.QuestionID
	for id := range r.RawResponses {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order = append(order, extra...)

	var out []signal
	for _, id := range order {
		answer := answerSignal(r, id, qn)
		if answer == "" {
			continue
		}
		out = append(out, signal{id: id, question: text[id], answer: answer})
	}
	return out
}

func answerSignal(r *response.Response, id response.QuestionID, qn *questionnaire.Questionnaire) string {
	if t := strings.TrimSpace(r.Transcriptions[id]); t != "" {
		return t
	}
	p, ok := r.ProcessedResponses[id]
	if !ok {
		p = response.Normalize(map[response.QuestionID]response.RawAnswer{id: r.RawResponses[id]})[id]
	}
	if qn != nil {
		if q, found := qn.Question(string(id)); found && len(q.Options) > 0 {
			values := p.Choices
			if p.Choice != "" {
				values = []string{p.Choice}
			}
			var labels []string
			for _, v := range values {
				if o, ok := q.Option(v); ok && o.Label != "" {
					labels = append(labels, o.Label)
				} else {
					labels = append(labels, v)
				}
			}
			if len(labels) > 0 {
				return strings.Join(labels, ", ")
			}
		}
	}
	if s := p.TextSignal(); s != "" {
		return s
	}
	return strings.TrimSpace(r.RawResponses[id].Text)
}

func respondentBlock(r *response.Response, qn *questionnaire.Questionnaire) string {
	var b strings.Builder
	b.WriteString("Persona evaluada:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", r.Respondent.Name)
	if r.Respondent.Type != "" {
		fmt.Fprintf(&b, "- Tipo: %s\n", r.Respondent.Type)
	}
	if r.Respondent.Age > 0 {
		fmt.Fprintf(&b, "- Edad: %d\n", r.Respondent.Age)
	}
	keys := make([]string, 0, len(r.Respondent.AdditionalInfo))
	for k := range r.Respondent.AdditionalInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, r.Respondent.AdditionalInfo[k])
	}
	if qn != nil {
		fmt.Fprintf(&b, "Cuestionario: %s\n", qn.Title)
	}
	return b.String()
}

func qaBlock(signals []signal) string {
	var b strings.Builder
	for _, s := range signals {
		q := s.question
		if q == "" {
			q = string(s.id)
		}
		fmt.Fprintf(&b, "[%s] P: %s\nR: %s\n\n", s.id, q, s.answer)
	}
	return b.String()
}

// ParseInterpretation turns a model reply into an analysis record. It never
// fails: unstructured text becomes a narrative reading with heuristic soft
// skills and blank text becomes a fallback record.
func ParseInterpretation(reply string) *response.AIAnalysis {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return minimalAnalysis(fallbackInterpretation, response.InterpretationFallback, time.Time{})
	}
	doc, err := parser.Parse(reply)
	if err != nil {
		a := &response.AIAnalysis{
			Interpretation: reply,
			Summary:        parser.FirstSentences(reply, 2),
			SoftSkills:     heuristicSoftSkills(reply),
			Source:         response.InterpretationNarrative,
		}
		finishAnalysis(a)
		return a
	}
	a := &response.AIAnalysis{
		Interpretation:  strings.TrimSpace(firstString(doc, "interpretation", "analysis")),
		Summary:         strings.TrimSpace(doc.Get("summary").String()),
		SoftSkills:      parseSoftSkills(doc.Get("soft_skills")),
		Recommendations: parser.Strings(doc.Get("recommendations")),
		Source:          response.InterpretationStructured,
	}
	a.QuestionInterpretations = parseQuestionInterpretations(doc.Get("question_interpretations"))
	if a.Interpretation == "" && a.Summary == "" && len(a.SoftSkills) == 0 && len(a.QuestionInterpretations) == 0 {
		return minimalAnalysis(fallbackInterpretation, response.InterpretationFallback, time.Time{})
	}
	if a.Interpretation == "" {
		a.Interpretation = a.Summary
	}
	if len(a.SoftSkills) == 0 {
		a.SoftSkills = heuristicSoftSkills(a.Interpretation + " " + a.Summary)
	}
	finishAnalysis(a)
	return a
}

func parseSoftSkills(r gjson.Result) map[string]response.SoftSkill {
	if !r.IsObject() {
		return nil
	}
	out := map[string]response.SoftSkill{}
	r.ForEach(func(k, v gjson.Result) bool {
		name := strings.TrimSpace(k.String())
		if name == "" {
			return true
		}
		s := response.SoftSkill{Source: "ai"}
		if v.IsObject() {
			score, ok := parser.Number(v.Get("score"))
			if !ok {
				return true
			}
			s.Score = parser.Clamp(score, 0, 10)
			if c, ok := parser.Number(v.Get("confidence")); ok {
				s.Confidence = normalizeConfidence(c)
			}
		} else if score, ok := parser.Number(v); ok {
			s.Score = parser.Clamp(score, 0, 10)
		} else {
			return true
		}
		out[name] = s
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseQuestionInterpretations(r gjson.Result) map[response.QuestionID]response.QuestionInterpretation {
	if !r.IsObject() {
		return nil
	}
	out := map[response.QuestionID]response.QuestionInterpretation{}
	r.ForEach(func(k, v gjson.Result) bool {
		qi := response.QuestionInterpretation{}
		if v.IsObject() {
			qi.Interpretation = strings.TrimSpace(v.Get("interpretation").String())
			if c, ok := parser.Number(v.Get("confidence")); ok {
				qi.Confidence = normalizeConfidence(c)
			}
		} else {
			qi.Interpretation = strings.TrimSpace(v.String())
		}
		if qi.Interpretation != "" {
			out[response.QuestionID(k.String())] = qi
		}
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeConfidence accepts 0..1 or percentages.
func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c = c / 100
	}
	return parser.Clamp(c, 0, 1)
}

var skillKeywords = []struct {
	skill    string
	keywords []string
}{
	{"comunicacion", []string{"comunic", "expres", "escuch", "communicat", "listen"}},
	{"liderazgo", []string{"lider", "líder", "dirig", "guiar", "lead"}},
	{"trabajo_en_equipo", []string{"equipo", "colabor", "team", "cooperat"}},
	{"resolucion_de_problemas", []string{"problema", "soluci", "resolv", "problem", "solve"}},
	{"adaptabilidad", []string{"adapt", "cambio", "flexib", "change"}},
	{"empatia", []string{"empat", "comprend", "emocion", "empath"}},
	{"creatividad", []string{"creativ", "innova", "idea"}},
}

// heuristicSoftSkills scores each known skill from keyword hits. The result
// carries zero confidence so it never raises the overall confidence.
func heuristicSoftSkills(text string) map[string]response.SoftSkill {
	lower := strings.ToLower(text)
	out := map[string]response.SoftSkill{}
	for _, sk := range skillKeywords {
		hits := 0
		for _, kw := range sk.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits == 0 {
			continue
		}
		out[sk.skill] = response.SoftSkill{Score: math.Min(10, float64(4+2*hits)), Source: "heuristic"}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func minimalAnalysis(text, source string, at time.Time) *response.AIAnalysis {
	a := &response.AIAnalysis{Interpretation: text, Source: source, GeneratedAt: at}
	a.QualityIndicators = qualityOf(a)
	return a
}

func finishAnalysis(a *response.AIAnalysis) {
	var confidences []float64
	for _, s := range a.SoftSkills {
		if s.Source == "ai" {
			confidences = append(confidences, s.Confidence)
		}
	}
	for _, qi := range a.QuestionInterpretations {
		confidences = append(confidences, qi.Confidence)
	}
	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		a.OverallConfidence = math.Round(sum/float64(len(confidences))*100) / 100
	}
	a.QualityIndicators = qualityOf(a)
}

func qualityOf(a *response.AIAnalysis) response.InterpretationQuality {
	populated := 0
	for _, ok := range []bool{
		strings.TrimSpace(a.Interpretation) != "",
		len(a.SoftSkills) > 0,
		strings.TrimSpace(a.Summary) != "",
		len(a.QuestionInterpretations) > 0,
		len(a.Recommendations) > 0,
	} {
		if ok {
			populated++
		}
	}
	met := 0
	for _, ok := range []bool{
		strings.TrimSpace(a.Interpretation) != "",
		len(a.SoftSkills) > 0,
		strings.TrimSpace(a.Summary) != "",
		a.OverallConfidence > 0,
	} {
		if ok {
			met++
		}
	}
	return response.InterpretationQuality{
		HasInterpretations:    strings.TrimSpace(a.Interpretation) != "" || len(a.QuestionInterpretations) > 0,
		HasSoftSkillsAnalysis: len(a.SoftSkills) > 0,
		ContentRichness:       richness(populated),
		AnalysisCompleteness:  float64(met) / 4,
	}
}

func richness(populated int) string {
	switch {
	case populated >= 5:
		return "very_high"
	case populated >= 3:
		return "high"
	case populated == 2:
		return "medium"
	case populated == 1:
		return "low"
	default:
		return "minimal"
	}
}
