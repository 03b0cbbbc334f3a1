package reportrender

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

func sampleResponse() *response.Response {
	return &response.Response{
		ID:         "resp-1",
		CampaignID: "camp-1",
		Respondent: response.Respondent{Name: "Ana  Pérez"},
		QuestionnaireScores: &response.ScoreResult{
			TotalScore: 7, PossibleScore: 10, Percentage: 70, CompletionPercentage: 80,
			QualityIndicators: response.QualityIndicators{DataReliability: "high"},
		},
		ComprehensiveReport: &response.Report{
			Sections: []response.ReportSection{
				{Title: "RESUMEN DESCRIPTIVO DE PERSONALIDAD", Content: "Persona curiosa."},
				{Title: "PROPUESTA DE RESKILLING", Content: "Curso de liderazgo."},
			},
			Competencies: []response.Competency{
				{Number: 2, Name: "Liderazgo", Score: 6, Max: 10, Description: "En desarrollo | medio"},
				{Number: 1, Name: "Comunicación", Score: 7.5, Max: 10, Description: "Clara"},
			},
			Metadata: response.ReportMetadata{GeneratedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), IsFallback: true},
		},
	}
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(sampleResponse(), &questionnaire.Questionnaire{Title: "Reflexivo"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# Informe de evaluación: Reflexivo",
		"**Participante:** Ana Pérez",
		"**Fecha:** 2026-03-02",
		"## RESUMEN DESCRIPTIVO DE PERSONALIDAD\n\nPersona curiosa.",
		"| 1 | Comunicación | 7.5/10 | Clara |",
		`| 2 | Liderazgo | 6/10 | En desarrollo \| medio |`,
		"contenido de respaldo",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Index(md, "| 1 |") > strings.Index(md, "| 2 |") {
		t.Error("competencies not ordered by number")
	}
}

func TestMarkdownWithoutReport(t *testing.T) {
	r := sampleResponse()
	r.ComprehensiveReport = nil
	if _, err := Markdown(r, nil); !errors.Is(err, ErrNoReport) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTMLRendersTablesAndPageBreaks(t *testing.T) {
	md, err := Markdown(sampleResponse(), nil)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := HTML(md, "Informe <Ana>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "<title>Informe &lt;Ana&gt;</title>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(doc, "<table>") {
		t.Error("GFM table not rendered")
	}
	if !strings.Contains(doc, `<h2 data-page-break-before="true">PROPUESTA DE RESKILLING</h2>`) {
		t.Errorf("page break hook missing:\n%s", doc)
	}
}

func TestApplyPrintLayoutHooksNoopWithoutHeading(t *testing.T) {
	in := "<h2>FORTALEZAS</h2><p>x</p>"
	if out := applyPrintLayoutHooks(in); out != in {
		t.Fatalf("unexpected change: %s", out)
	}
}
