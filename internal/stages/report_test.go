package stages

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/joelkehle/insight-pipeline/internal/response"
)

func scoredResponse(t *testing.T) *response.Response {
	t.Helper()
	r := reflectiveResponse(t, response.StatusScoringCompleted)
	r.Transcriptions = map[response.QuestionID]string{"q1": "Resolví un problema con mi equipo."}
	r.AIAnalysis = ParseInterpretation(interpretationReply)
	r.QuestionnaireScores = &response.ScoreResult{ScoringType: "reflective_questions", TotalScore: 7.5, PossibleScore: 10, Percentage: 75}
	return r
}

func TestReportGatewayFailureUsesFallback(t *testing.T) {
	repo := newMemRepo(t, scoredResponse(t))
	sc := newTestContext(t, repo, &fakeGateway{textErr: errServer}, questionnaireMap{"reflexivo": reflectiveQuestionnaire()})

	r, err := Run(context.Background(), sc, Report{}, "resp-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Status != response.StatusReportCompleted {
		t.Fatalf("status = %s", r.Status)
	}
	rep := repo.load(t, "resp-1").ComprehensiveReport
	if rep == nil || !rep.Metadata.IsFallback || rep.Metadata.FallbackReason != FallbackGatewayError {
		t.Fatalf("report metadata = %+v", rep)
	}
	if rep.Metadata.Error != "" {
		t.Fatalf("metadata.error = %q", rep.Metadata.Error)
	}
	if _, ok := rep.Section("RESUMEN DESCRIPTIVO DE PERSONALIDAD"); !ok {
		t.Fatalf("fallback lacks personality section: %+v", rep.Sections)
	}
	if len(rep.Sections) != len(ReportSections) {
		t.Fatalf("sections = %d", len(rep.Sections))
	}
	if len(rep.Competencies) != 2 || rep.Competencies[0].Name != "Comunicación" || rep.Competencies[0].Score != 8 {
		t.Fatalf("competencies = %+v", rep.Competencies)
	}
	if _, ok := r.GatewayCalls["report"]; !ok {
		t.Fatalf("gateway call not recorded: %v", r.GatewayCalls)
	}
}

func TestReportParsesReply(t *testing.T) {
	repo := newMemRepo(t, scoredResponse(t))
	gw := &fakeGateway{text: []string{reportReply}}
	sc := newTestContext(t, repo, gw, questionnaireMap{"reflexivo": reflectiveQuestionnaire()})

	r, err := Run(context.Background(), sc, Report{}, "resp-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rep := r.ComprehensiveReport
	if rep.Metadata.IsFallback || rep.Metadata.Model != "fake-model" || rep.Metadata.WordCount == 0 {
		t.Fatalf("metadata = %+v", rep.Metadata)
	}
	prompt := gw.textCalls[0].Prompt
	for _, want := range []string{"camp-1", "Preguntas reflexivas", "Resolví un problema", "comunicacion", "Orientación a resultados", "75.00%"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt lacks %q", want)
		}
	}
	if gw.textCalls[0].Timeout != sc.Timeouts.Report {
		t.Fatalf("timeout = %v", gw.textCalls[0].Timeout)
	}
}

func TestReportUnstructuredReplyFallsBack(t *testing.T) {
	repo := newMemRepo(t, scoredResponse(t))
	sc := newTestContext(t, repo, &fakeGateway{text: []string{"Lo siento, no puedo ayudar con eso."}}, nil)

	r, err := Run(context.Background(), sc, Report{}, "resp-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep := r.ComprehensiveReport; !rep.Metadata.IsFallback || rep.Metadata.FallbackReason != FallbackUnstructured {
		t.Fatalf("metadata = %+v", rep.Metadata)
	}
}

func TestReportPersistFailureFailsStage(t *testing.T) {
	repo := newMemRepo(t, scoredResponse(t))
	sc := newTestContext(t, repo, &fakeGateway{text: []string{reportReply}}, nil)
	sc.Responses = &failingRepo{memRepo: repo, failOn: 3}

	if _, err := Run(context.Background(), sc, Report{}, "resp-1"); err == nil {
		t.Fatal("expected a persist failure to fail the stage")
	}
	if got := repo.load(t, "resp-1").Status; got != response.StatusReportFailed {
		t.Fatalf("status = %s", got)
	}
}

func TestReportReusesCheckpoint(t *testing.T) {
	r := scoredResponse(t)
	r.Status = response.StatusGeneratingReport
	started := t0
	r.Audit = map[response.StageName]response.StageAudit{response.StageReport: {StartedAt: &started}}
	r.ComprehensiveReport = ParseReport(reportReply)
	r.ComprehensiveReport.Metadata.GeneratedAt = t0.Add(5)
	repo := newMemRepo(t, r)
	gw := &fakeGateway{}
	sc := newTestContext(t, repo, gw, nil)

	got, err := Run(context.Background(), sc, Report{}, "resp-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != response.StatusReportCompleted || len(gw.textCalls) != 0 {
		t.Fatalf("status=%s calls=%d", got.Status, len(gw.textCalls))
	}
}

func TestParseReport(t *testing.T) {
	rep := ParseReport(reportReply)
	titles := make([]string, 0, len(rep.Sections))
	for _, s := range rep.Sections {
		titles = append(titles, s.Title)
	}
	want := append([]string{SectionIntroduction}, ReportSections...)
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Fatalf("titles = %v", titles)
	}
	if rep.Sections[0].Content != "Informe preparado para Ana." {
		t.Fatalf("introduction = %q", rep.Sections[0].Content)
	}
	wantComp := []response.Competency{
		{Number: 1, Name: "Comunicación", Score: 8, Max: 10, Description: "Se expresa con claridad"},
		{Number: 2, Name: "Liderazgo", Score: 6, Max: 10, Description: "Asume iniciativa en ocasiones"},
		{Number: 3, Name: "Trabajo en equipo", Score: 7.5, Max: 10, Description: "Colabora activamente"},
	}
	if len(rep.Competencies) != len(wantComp) {
		t.Fatalf("competencies = %+v", rep.Competencies)
	}
	for i, c := range wantComp {
		if rep.Competencies[i] != c {
			t.Fatalf("competency %d = %+v, want %+v", i, rep.Competencies[i], c)
		}
	}
}

const boldReportReply = `**Informe** para Luis, elaborado a partir de sus respuestas.

### **EVALUACIÓN DE COMPETENCIAS**:
1. **Comunicación**: **8/10** - **Clara y directa**
2) Liderazgo: 5,5/10 — Prefiere seguir a dirigir
Texto libre entre líneas.

### FORTALEZAS
Constancia.`

// renderReply writes a parsed report back in the heading layout the
// parser reads.
func renderReply(rep *response.Report) string {
	var b strings.Builder
	for _, s := range rep.Sections {
		if s.Title != SectionIntroduction {
			b.WriteString("### " + s.Title + "\n")
		}
		b.WriteString(s.Content + "\n\n")
	}
	return b.String()
}

func TestParseReportIsIdempotent(t *testing.T) {
	for name, reply := range map[string]string{"plain": reportReply, "bold": boldReportReply} {
		t.Run(name, func(t *testing.T) {
			first := ParseReport(reply)
			if again := ParseReport(reply); !reflect.DeepEqual(first, again) {
				t.Fatalf("parse not deterministic:\n%+v\n%+v", first, again)
			}
			if reparsed := ParseReport(renderReply(first)); !reflect.DeepEqual(first, reparsed) {
				t.Fatalf("reparse differs:\n%+v\n%+v", first, reparsed)
			}
		})
	}

	rep := ParseReport(boldReportReply)
	if rep.Sections[0].Title != SectionIntroduction || rep.Sections[1].Title != "EVALUACIÓN DE COMPETENCIAS" {
		t.Fatalf("sections = %+v", rep.Sections)
	}
	want := []response.Competency{
		{Number: 1, Name: "Comunicación", Score: 8, Max: 10, Description: "Clara y directa"},
		{Number: 2, Name: "Liderazgo", Score: 5.5, Max: 10, Description: "Prefiere seguir a dirigir"},
	}
	if !reflect.DeepEqual(rep.Competencies, want) {
		t.Fatalf("competencies = %+v", rep.Competencies)
	}
}

func TestParseReportWithoutHeadings(t *testing.T) {
	rep := ParseReport("solo texto")
	if len(rep.Sections) != 1 || rep.Sections[0].Title != SectionIntroduction || hasHeadedSection(rep) {
		t.Fatalf("sections = %+v", rep.Sections)
	}
	if rep := ParseReport("   "); len(rep.Sections) != 0 {
		t.Fatalf("blank reply produced sections: %+v", rep.Sections)
	}
}

func TestFallbackReportWithoutSkills(t *testing.T) {
	rep := FallbackReport(nil, FallbackGatewayError)
	if len(rep.Competencies) != 0 {
		t.Fatalf("competencies = %+v", rep.Competencies)
	}
	for _, s := range rep.Sections {
		if strings.TrimSpace(s.Content) == "" {
			t.Fatalf("section %s is empty", s.Title)
		}
	}
	if len(competencySet) != 10 {
		t.Fatalf("competency set has %d entries", len(competencySet))
	}
}
