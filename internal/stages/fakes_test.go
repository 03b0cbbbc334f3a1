package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/media"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// memRepo stores responses as JSON so every load returns a fresh copy,
// the way a real store would.
type memRepo struct {
	mu      sync.Mutex
	items   map[string][]byte
	saves   int
	saveErr error
}

func newMemRepo(t *testing.T, rs ...*response.Response) *memRepo {
	t.Helper()
	m := &memRepo{items: map[string][]byte{}}
	for _, r := range rs {
		if err := m.SaveResponse(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	m.saves = 0
	return m
}

func (m *memRepo) GetResponse(_ context.Context, id string) (*response.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("response %s: %w", id, response.ErrNotFound)
	}
	var r response.Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *memRepo) SaveResponse(_ context.Context, r *response.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.items[r.ID] = b
	m.saves++
	return nil
}

func (m *memRepo) load(t *testing.T, id string) *response.Response {
	t.Helper()
	r, err := m.GetResponse(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return r
}

type questionnaireMap map[string]*questionnaire.Questionnaire

func (q questionnaireMap) GetQuestionnaire(_ context.Context, id string) (*questionnaire.Questionnaire, error) {
	if qn, ok := q[id]; ok {
		return qn, nil
	}
	return nil, fmt.Errorf("questionnaire %s: %w", id, response.ErrNotFound)
}

type fakeGateway struct {
	text       []string
	textErr    error
	audio      map[string]string
	audioErr   error
	textCalls  []gateway.TextRequest
	audioCalls []gateway.AudioRequest
}

func (f *fakeGateway) GenerateText(_ context.Context, req gateway.TextRequest) (string, error) {
	f.textCalls = append(f.textCalls, req)
	if f.textErr != nil {
		return "", f.textErr
	}
	if len(f.text) == 0 {
		return "", nil
	}
	out := f.text[0]
	f.text = f.text[1:]
	return out, nil
}

func (f *fakeGateway) AnalyzeAudio(_ context.Context, req gateway.AudioRequest) (string, error) {
	f.audioCalls = append(f.audioCalls, req)
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return f.audio[filepath.Base(req.Path)], nil
}

func (f *fakeGateway) ModelName() string { return "fake-model" }

// fakeTranscoder writes a wav header next to the source.
type fakeTranscoder struct {
	calls int
	err   error
}

func (f *fakeTranscoder) Transcode(_ context.Context, src string, from media.Container) (string, error) {
	f.calls++
	if f.err != nil {
		return "", &media.ConversionError{Src: src, From: from, Err: f.err}
	}
	dst := src + ".converted.wav"
	if err := os.WriteFile(dst, wavHeader(), 0o600); err != nil {
		return "", err
	}
	return dst, nil
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) StageFinished(stage, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, stage+":"+outcome)
}

var errServer = &gateway.GatewayError{Op: "test", StatusCode: 500, Class: gateway.ClassServer, Err: errors.New("status code: 500")}

func wavHeader() []byte {
	h := make([]byte, 44)
	copy(h, "RIFF")
	copy(h[8:], "WAVEfmt ")
	return h
}

func webmHeader() []byte {
	return append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 60)...)
}

// tickingClock advances one second per read so stamps are strictly ordered.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestContext(t *testing.T, repo *memRepo, gw gateway.Gateway, qs questionnaireMap) *Context {
	t.Helper()
	storage, err := media.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	return &Context{
		Logger:           zerolog.Nop(),
		Timeouts:         DefaultTimeouts(),
		ProcessorVersion: "test",
		Gateway:          gw,
		Storage:          storage,
		Transcoder:       &fakeTranscoder{},
		Responses:        repo,
		Questionnaires:   qs,
		Now:              tickingClock(t0),
	}
}

func writeAudio(t *testing.T, sc *Context, rel string, data []byte) {
	t.Helper()
	p, err := sc.Storage.Resolve(rel)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func scale(v float64) *float64 { return &v }

func reflectiveQuestionnaire() *questionnaire.Questionnaire {
	return &questionnaire.Questionnaire{
		ID:                 "reflexivo",
		Title:              "Preguntas reflexivas",
		ScoringType:        questionnaire.TypeReflectiveQuestions,
		RequiresAIAnalysis: true,
		RequiresReport:     true,
		Questions: []questionnaire.Question{
			{ID: "q1", Text: "Describe un reto reciente", Type: questionnaire.QuestionAudio},
			{ID: "q2", Text: "¿Cómo trabajas en equipo?", Type: questionnaire.QuestionText},
		},
	}
}

func reflectiveResponse(t *testing.T, status response.Status) *response.Response {
	t.Helper()
	r, err := response.New("resp-1", "camp-1", "reflexivo", response.Respondent{Name: "Ana", Email: "ana@example.com"},
		map[response.QuestionID]response.RawAnswer{
			"q1": {Kind: response.AnswerAudio, Audio: &response.AudioAnswer{Path: "resp-1/q1.wav"}},
			"q2": {Kind: response.AnswerText, Text: "Me gusta colaborar con el equipo y escuchar a todos."},
		}, t0)
	if err != nil {
		t.Fatalf("new response: %v", err)
	}
	r.Status = status
	return r
}

const audioReply = "```json\n" + `{
  "transcription": "El mes pasado resolví un problema de integración con mi equipo.",
  "duration_seconds": 42,
  "emotional_analysis": {"joy": 0.6, "neutral": 0.3, "fear": 0.1},
  "prosodic_metrics": {"speech_rate": 2.4, "pause_frequency": 0.2, "pitch_variation": 0.5, "volume_consistency": 0.8},
  "psychological_indicators": {"stress_level": 0.2, "confidence_level": 0.8, "engagement": 0.9, "authenticity": 0.85},
  "observations": ["habla con seguridad"]
}` + "\n```"

const interpretationReply = `Aquí está el análisis:
{
  "interpretation": "Persona colaborativa con buena comunicación.",
  "summary": "Colabora y comunica con claridad.",
  "soft_skills": {"comunicacion": {"score": 8, "confidence": 0.8}, "trabajo_en_equipo": {"score": 7, "confidence": 0.6}},
  "question_interpretations": {"q2": {"interpretation": "Valora el trabajo en equipo.", "confidence": 0.7}},
  "recommendations": ["Asumir roles de coordinación",]
}`

const reportReply = `Informe preparado para Ana.

### RESUMEN DESCRIPTIVO DE PERSONALIDAD
Ana es una persona colaborativa.

### EVALUACIÓN DE COMPETENCIAS
1. Comunicación: 8/10 - Se expresa con claridad
2. **Liderazgo**: 6/10 - Asume iniciativa en ocasiones
3. Trabajo en equipo: 7,5/10 - Colabora activamente

### FORTALEZAS
Escucha activa.

### ÁREAS DE DESARROLLO
Delegación.

### PROPUESTA DE RESKILLING
Curso de liderazgo situacional.`
