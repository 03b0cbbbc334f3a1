package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// Report asks the gateway for the narrative report and parses it into
// sections and scored competencies. A failed or unusable reply is replaced
// by the fixed fallback narrative; only persistence failures fail the stage.
type Report struct{}

func (Report) Name() response.StageName { return response.StageReport }

func (Report) StartStates() []response.Status {
	return []response.Status{response.StatusScoringCompleted, response.StatusGeneratingReport, response.StatusReportFailed}
}

func (Report) RunningState() response.Status { return response.StatusGeneratingReport }
func (Report) FailedState() response.Status  { return response.StatusReportFailed }

const (
	SectionPersonality  = "RESUMEN DESCRIPTIVO DE PERSONALIDAD"
	SectionCompetencies = "EVALUACIÓN DE COMPETENCIAS"
	SectionStrengths    = "FORTALEZAS"
	SectionDevelopment  = "ÁREAS DE DESARROLLO"
	SectionReskilling   = "PROPUESTA DE RESKILLING"
	SectionIntroduction = "Introducción"
)

// ReportSections is the fixed section order of every report.
var ReportSections = []string{SectionPersonality, SectionCompetencies, SectionStrengths, SectionDevelopment, SectionReskilling}

type competencyDef struct {
	name    string
	aliases []string
}

// competencySet is the fixed set scored in every report.
var competencySet = []competencyDef{
	{"Comunicación", []string{"comunicacion", "communication"}},
	{"Liderazgo", []string{"liderazgo", "leadership"}},
	{"Trabajo en equipo", []string{"trabajo_en_equipo", "teamwork", "colaboracion"}},
	{"Resolución de problemas", []string{"resolucion_de_problemas", "problem_solving"}},
	{"Adaptabilidad", []string{"adaptabilidad", "adaptability", "flexibilidad"}},
	{"Pensamiento crítico", []string{"pensamiento_critico", "critical_thinking"}},
	{"Creatividad", []string{"creatividad", "creativity", "innovacion"}},
	{"Inteligencia emocional", []string{"inteligencia_emocional", "empatia", "emotional_intelligence"}},
	{"Gestión del tiempo", []string{"gestion_del_tiempo", "time_management", "organizacion"}},
	{"Orientación a resultados", []string{"orientacion_a_resultados", "results_orientation", "iniciativa"}},
}

const (
	FallbackGatewayError = "gateway_error"
	FallbackUnstructured = "unstructured_reply"
)

func (rp Report) Execute(ctx context.Context, sc *Context, at Attempt) (response.Status, error) {
	r := at.Response
	if r.ComprehensiveReport != nil && at.redelivered(rp.RunningState(), r.ComprehensiveReport.Metadata.GeneratedAt) {
		sc.Logger.Info().Msg("reusing checkpointed report")
		return response.StatusReportCompleted, nil
	}

	var qn *questionnaire.Questionnaire
	if sc.Questionnaires != nil {
		var err error
		if qn, err = sc.Questionnaires.GetQuestionnaire(ctx, r.QuestionnaireID); err != nil {
			sc.Logger.Warn().Err(err).Msg("questionnaire unavailable, reporting without title")
			qn = nil
		}
	}

	r.RecordGatewayCall(gatewayKey(response.StageReport, ""), sc.now())
	if err := sc.save(ctx, r); err != nil {
		return "", fmt.Errorf("record gateway call: %w", err)
	}
	reply, err := sc.Gateway.GenerateText(ctx, gateway.TextRequest{
		Op:      string(response.StageReport),
		System:  reportSystemPrompt,
		Prompt:  fmt.Sprintf(reportPrompt, reportData(r, qn, sc.now()), competencyList()),
		Timeout: sc.Timeouts.Report,
	})

	var report *response.Report
	switch {
	case err != nil:
		sc.Logger.Warn().Err(err).Msg("report generation failed, using fallback narrative")
		report = FallbackReport(r.AIAnalysis, FallbackGatewayError)
	default:
		report = ParseReport(reply)
		if !hasHeadedSection(report) {
			sc.Logger.Warn().Int("reply_chars", len(reply)).Msg("report reply has no sections, using fallback narrative")
			report = FallbackReport(r.AIAnalysis, FallbackUnstructured)
		} else {
			report.Metadata.Model = sc.Gateway.ModelName()
		}
	}
	report.Metadata.GeneratedAt = sc.now()
	r.ComprehensiveReport = report
	if err := sc.save(ctx, r); err != nil {
		return "", fmt.Errorf("persist report: %w", err)
	}
	sc.Logger.Info().
		Int("sections", len(report.Sections)).
		Int("competencies", len(report.Competencies)).
		Bool("fallback", report.Metadata.IsFallback).
		Msg("report stored")
	return response.StatusReportCompleted, nil
}

var competencyLine = regexp.MustCompile(`^\s*(\d+)\s*[.)]\s*\**\s*([^:*]+?)\s*\**\s*:\s*\**\s*(\d+(?:[.,]\d+)?)\s*/\s*10\s*\**\s*(?:[-–—:]\s*(.*))?$`)

// ParseReport splits a narrative on level-3 headings. Text before the first
// heading becomes an introduction section; the competencies section is
// further parsed into scored lines.
func ParseReport(text string) *response.Report {
	report := &response.Report{}
	var (
		title   string
		body    []string
		started bool
	)
	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		switch {
		case started:
			report.Sections = append(report.Sections, response.ReportSection{Title: title, Content: content})
		case content != "":
			report.Sections = append(report.Sections, response.ReportSection{Title: SectionIntroduction, Content: content})
		}
		body = body[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### ") {
			flush()
			title = strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "### ")), "*: ")
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()

	words := 0
	for _, s := range report.Sections {
		words += parser.WordCount(s.Content)
		if isCompetencySection(s.Title) && report.Competencies == nil {
			report.Competencies = ParseCompetencies(s.Content)
		}
	}
	report.Metadata.WordCount = words
	return report
}

// ParseCompetencies reads every "N. Name: score/10 - description" line.
func ParseCompetencies(content string) []response.Competency {
	var out []response.Competency
	for _, line := range strings.Split(content, "\n") {
		m := competencyLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(strings.ReplaceAll(m[3], ",", "."), 64)
		if err != nil {
			continue
		}
		out = append(out, response.Competency{
			Number:      n,
			Name:        strings.TrimSpace(m[2]),
			Score:       parser.Clamp(score, 0, 10),
			Max:         10,
			Description: strings.TrimSpace(strings.Trim(m[4], "*")),
		})
	}
	return out
}

func isCompetencySection(title string) bool {
	return strings.Contains(strings.ToUpper(title), "COMPETENCIA")
}

func hasHeadedSection(r *response.Report) bool {
	for _, s := range r.Sections {
		if s.Title != SectionIntroduction {
			return true
		}
	}
	return false
}

var fallbackContent = map[string]string{
	SectionPersonality: "No fue posible generar el resumen descriptivo de personalidad de forma automática. " +
		"Las respuestas y puntuaciones registradas siguen disponibles para su revisión por un especialista.",
	SectionStrengths:   "Las fortalezas se determinarán en la revisión manual de las respuestas.",
	SectionDevelopment: "Las áreas de desarrollo se determinarán en la revisión manual de las respuestas.",
	SectionReskilling:  "Se recomienda una sesión de seguimiento para definir un plan de reskilling personalizado.",
}

// FallbackReport builds the fixed narrative used when no usable report
// could be generated. Competency lines come from the soft-skill map when
// one is present.
func FallbackReport(ai *response.AIAnalysis, reason string) *response.Report {
	competencies := fallbackCompetencies(ai)
	report := &response.Report{
		Competencies: competencies,
		Metadata:     response.ReportMetadata{IsFallback: true, FallbackReason: reason},
	}
	for _, title := range ReportSections {
		content := fallbackContent[title]
		if title == SectionCompetencies {
			content = competencyContent(competencies)
		}
		report.Sections = append(report.Sections, response.ReportSection{Title: title, Content: content})
	}
	for _, s := range report.Sections {
		report.Metadata.WordCount += parser.WordCount(s.Content)
	}
	return report
}

func fallbackCompetencies(ai *response.AIAnalysis) []response.Competency {
	if ai == nil || len(ai.SoftSkills) == 0 {
		return nil
	}
	var out []response.Competency
	for i, c := range competencySet {
		skill, ok := lookupSkill(ai.SoftSkills, c.aliases)
		if !ok {
			continue
		}
		out = append(out, response.Competency{
			Number:      i + 1,
			Name:        c.name,
			Score:       round2(skill.Score),
			Max:         10,
			Description: "Estimación derivada del análisis de habilidades blandas.",
		})
	}
	return out
}

func lookupSkill(skills map[string]response.SoftSkill, aliases []string) (response.SoftSkill, bool) {
	for _, a := range aliases {
		for name, s := range skills {
			if skillKey(name) == a {
				return s, true
			}
		}
	}
	return response.SoftSkill{}, false
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", " ", "_", "-", "_")

func skillKey(name string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(name)))
}

func competencyContent(cs []response.Competency) string {
	if len(cs) == 0 {
		return "No se dispone de puntuaciones de competencias para esta evaluación."
	}
	var b strings.Builder
	for _, c := range cs {
		fmt.Fprintf(&b, "%d. %s: %s/10 - %s\n", c.Number, c.Name, strconv.FormatFloat(c.Score, 'f', -1, 64), c.Description)
	}
	return strings.TrimSpace(b.String())
}

func competencyList() string {
	var b strings.Builder
	for i, c := range competencySet {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.name)
	}
	return b.String()
}

// reportData renders every collected artifact of the response into the
// aggregation prompt.
func reportData(r *response.Response, qn *questionnaire.Questionnaire, at time.Time) string {
	var b strings.Builder
	b.WriteString(respondentBlock(r, qn))
	if r.CampaignID != "" {
		fmt.Fprintf(&b, "Campaña: %s\n", r.CampaignID)
	}

	qids := make([]response.QuestionID, 0, len(r.Transcriptions))
	for id := range r.Transcriptions {
		qids = append(qids, id)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })
	if len(qids) > 0 {
		b.WriteString("\nTranscripciones:\n")
		for _, id := range qids {
			fmt.Fprintf(&b, "[%s] %s\n", id, r.Transcriptions[id])
			if p, ok := r.ProsodicAnalysis[id]; ok {
				fmt.Fprintf(&b, "  prosodia: velocidad %.2f, pausas %.2f, tono %.2f, volumen %.2f; emoción dominante %s\n",
					p.Metrics.SpeechRate, p.Metrics.PauseFrequency, p.Metrics.PitchVariation, p.Metrics.VolumeConsistency,
					orDash(p.DominantEmotion))
			}
		}
	}

	if signals := collectSignals(r, qn); len(signals) > 0 {
		b.WriteString("\nRespuestas:\n")
		b.WriteString(qaBlock(signals))
	}

	if ai := r.AIAnalysis; ai.Usable() {
		b.WriteString("\nAnálisis de IA:\n")
		fmt.Fprintf(&b, "Interpretación: %s\n", ai.Interpretation)
		if ai.Summary != "" {
			fmt.Fprintf(&b, "Resumen: %s\n", ai.Summary)
		}
		names := make([]string, 0, len(ai.SoftSkills))
		for name := range ai.SoftSkills {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := ai.SoftSkills[name]
			fmt.Fprintf(&b, "- %s: %.1f/10 (confianza %.2f)\n", name, s.Score, s.Confidence)
		}
	}

	if s := r.QuestionnaireScores; s != nil {
		b.WriteString("\nPuntuaciones:\n")
		fmt.Fprintf(&b, "Tipo: %s; total %.2f de %.2f (%.2f%%)\n", s.ScoringType, s.TotalScore, s.PossibleScore, s.Percentage)
		fmt.Fprintf(&b, "Completitud: %.2f%%; fiabilidad: %s\n", s.CompletionPercentage, s.QualityIndicators.DataReliability)
		if p := s.Payload.Personality; p != nil {
			traits := make([]string, 0, len(p.Traits))
			for t := range p.Traits {
				traits = append(traits, t)
			}
			sort.Strings(traits)
			for _, t := range traits {
				ts := p.Traits[t]
				fmt.Fprintf(&b, "- %s: %.2f%% (%s)\n", t, ts.Percentage, ts.Level)
			}
		}
	}
	fmt.Fprintf(&b, "\nFecha: %s\n", at.Format("2006-01-02"))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
