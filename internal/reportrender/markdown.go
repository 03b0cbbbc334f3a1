// Package reportrender exports a response's comprehensive report as
// markdown, HTML and PDF.
package reportrender

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// ErrNoReport is returned for responses without a comprehensive report.
var ErrNoReport = errors.New("response has no comprehensive report")

// Markdown renders the report of r. qn may be nil.
func Markdown(r *response.Response, qn *questionnaire.Questionnaire) (string, error) {
	rep := r.ComprehensiveReport
	if rep == nil {
		return "", ErrNoReport
	}
	var b strings.Builder
	title := "Informe de evaluación"
	if qn != nil && strings.TrimSpace(qn.Title) != "" {
		title += ": " + sanitizeLine(qn.Title)
	}
	b.WriteString("# " + title + "\n\n")

	if name := sanitizeLine(r.Respondent.Name); name != "" {
		fmt.Fprintf(&b, "- **Participante:** %s\n", name)
	}
	if r.CampaignID != "" {
		fmt.Fprintf(&b, "- **Campaña:** %s\n", sanitizeLine(r.CampaignID))
	}
	if !rep.Metadata.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "- **Fecha:** %s\n", rep.Metadata.GeneratedAt.UTC().Format(time.DateOnly))
	}
	if sc := r.QuestionnaireScores; sc != nil {
		fmt.Fprintf(&b, "- **Puntuación:** %.2f / %.2f (%.2f%%)\n", sc.TotalScore, sc.PossibleScore, sc.Percentage)
		fmt.Fprintf(&b, "- **Completitud:** %.2f%% · **Fiabilidad:** %s\n", sc.CompletionPercentage, sc.QualityIndicators.DataReliability)
	}
	b.WriteString("\n")

	for _, s := range rep.Sections {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		b.WriteString("## " + sanitizeLine(s.Title) + "\n\n")
		if content := strings.TrimSpace(s.Content); content != "" {
			b.WriteString(content + "\n\n")
		}
	}

	if len(rep.Competencies) > 0 {
		b.WriteString("## Resumen de competencias\n\n")
		b.WriteString("| # | Competencia | Puntuación | Observación |\n|---|---|---|---|\n")
		comps := append([]response.Competency(nil), rep.Competencies...)
		sort.SliceStable(comps, func(i, j int) bool { return comps[i].Number < comps[j].Number })
		for _, c := range comps {
			fmt.Fprintf(&b, "| %d | %s | %s/%s | %s |\n", c.Number, cell(c.Name), trimFloat(c.Score), trimFloat(c.Max), cell(c.Description))
		}
		b.WriteString("\n")
	}

	if rep.Metadata.IsFallback {
		b.WriteString("> Este informe se generó con contenido de respaldo porque la generación automática no estuvo disponible.\n")
	}
	return b.String(), nil
}

func sanitizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(sanitizeLine(s), "|", "\\|")
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
