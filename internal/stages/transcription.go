package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/media"
	"github.com/joelkehle/insight-pipeline/internal/parser"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// Transcription transcribes and analyses every audio answer that has no
// transcript yet. Per-question problems skip that question; only persistence
// failures fail the stage.
type Transcription struct{}

func (Transcription) Name() response.StageName { return response.StageTranscription }

func (Transcription) StartStates() []response.Status {
	return []response.Status{response.StatusProcessing, response.StatusTranscribing, response.StatusTranscriptionFailed}
}

func (Transcription) RunningState() response.Status { return response.StatusTranscribing }
func (Transcription) FailedState() response.Status  { return response.StatusTranscriptionFailed }

type preparedAudio struct {
	path     string
	mimeType string
	cleanup  func()
}

func (t Transcription) Execute(ctx context.Context, sc *Context, at Attempt) (response.Status, error) {
	r := at.Response
	if r.ProcessedResponses == nil {
		r.ProcessedResponses = response.Normalize(r.RawResponses)
	}
	if r.Transcriptions == nil {
		r.Transcriptions = map[response.QuestionID]string{}
	}
	if r.ProsodicAnalysis == nil {
		r.ProsodicAnalysis = map[response.QuestionID]response.ProsodicAnalysis{}
	}
	questionText := map[string]string{}
	if sc.Questionnaires != nil {
		if qn, err := sc.Questionnaires.GetQuestionnaire(ctx, r.QuestionnaireID); err == nil {
			for _, q := range qn.Questions {
				questionText[q.ID] = q.Text
			}
		} else {
			sc.Logger.Warn().Err(err).Msg("questionnaire unavailable, using generic audio prompt")
		}
	}

	qids := r.AudioQuestions()
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })

	transcribed := 0
	for _, qid := range qids {
		log := sc.Logger.With().Str("question_id", string(qid)).Logger()
		raw := r.RawResponses[qid]
		proc, ok := r.ProcessedResponses[qid]
		if !ok {
			proc = response.Normalize(map[response.QuestionID]response.RawAnswer{qid: raw})[qid]
		}
		if strings.TrimSpace(proc.Transcription) != "" {
			transcribed++
			continue
		}
		existing := strings.TrimSpace(raw.Audio.Transcript)
		if existing == "" && raw.Audio.Analysis != nil {
			existing = strings.TrimSpace(raw.Audio.Analysis.Transcript)
		}
		if existing != "" {
			proc.Transcription = existing
			if prior := raw.Audio.Analysis; prior != nil {
				if proc.Audio == nil {
					cp := *raw.Audio
					proc.Audio = &cp
				}
				proc.Audio.Analysis = prior
				r.ProsodicAnalysis[qid] = prosodicSummary(prior)
			}
			r.ProcessedResponses[qid] = proc
			r.Transcriptions[qid] = existing
			if err := sc.save(ctx, r); err != nil {
				return "", fmt.Errorf("persist transcript %s: %w", qid, err)
			}
			transcribed++
			log.Debug().Msg("copied existing transcript")
			continue
		}

		audio, err := t.prepare(ctx, sc, raw.Audio)
		if err != nil {
			logSkip(log, err)
			continue
		}

		r.RecordGatewayCall(gatewayKey(response.StageTranscription, qid), sc.now())
		if err := sc.save(ctx, r); err != nil {
			audio.cleanup()
			return "", fmt.Errorf("record gateway call %s: %w", qid, err)
		}
		prompt := questionText[string(qid)]
		if prompt == "" {
			prompt = "respuesta de audio"
		}
		reply, err := sc.Gateway.AnalyzeAudio(ctx, gateway.AudioRequest{
			Op:       string(response.StageTranscription),
			Path:     audio.path,
			MIMEType: audio.mimeType,
			Prompt:   fmt.Sprintf(audioAnalysisPrompt, prompt),
			Timeout:  sc.Timeouts.Audio,
		})
		audio.cleanup()
		if err != nil {
			logSkip(log, err)
			continue
		}

		analysis := parseAudioReply(reply)
		if strings.TrimSpace(analysis.Transcript) == "" {
			log.Warn().Msg("audio reply carried no transcript")
			continue
		}
		proc.Transcription = analysis.Transcript
		if proc.Audio == nil {
			cp := *raw.Audio
			proc.Audio = &cp
		}
		proc.Audio.Analysis = analysis
		r.ProcessedResponses[qid] = proc
		r.Transcriptions[qid] = analysis.Transcript
		r.ProsodicAnalysis[qid] = prosodicSummary(analysis)
		if err := sc.save(ctx, r); err != nil {
			return "", fmt.Errorf("persist transcript %s: %w", qid, err)
		}
		transcribed++
		log.Info().Int("words", parser.WordCount(analysis.Transcript)).Msg("question transcribed")
	}
	sc.Logger.Info().Int("audio_questions", len(qids)).Int("transcribed", transcribed).Msg("transcription summary")
	return response.StatusTranscribed, nil
}

var (
	errAudioMissing     = errors.New("audio file not found")
	errUnsupportedAudio = errors.New("unsupported audio format")
)

func (Transcription) prepare(ctx context.Context, sc *Context, a *response.AudioAnswer) (preparedAudio, error) {
	if sc.Storage == nil {
		return preparedAudio{}, errors.New("no audio storage configured")
	}
	ok, err := sc.Storage.Exists(a.Path)
	if err != nil {
		return preparedAudio{}, err
	}
	if !ok {
		return preparedAudio{}, fmt.Errorf("%w: %s", errAudioMissing, a.Path)
	}
	abs, err := sc.Storage.Resolve(a.Path)
	if err != nil {
		return preparedAudio{}, err
	}
	rc, err := sc.Storage.Open(a.Path)
	if err != nil {
		return preparedAudio{}, err
	}
	container, err := media.SniffReader(rc)
	rc.Close()
	if err != nil {
		return preparedAudio{}, err
	}
	if container == media.ContainerUnknown {
		return preparedAudio{}, fmt.Errorf("%w: %s", errUnsupportedAudio, a.Path)
	}
	out := preparedAudio{path: abs, mimeType: container.MIMEType(), cleanup: func() {}}
	if !container.NeedsTranscode() {
		return out, nil
	}
	if sc.Transcoder == nil {
		return preparedAudio{}, &media.ConversionError{Src: abs, From: container, Err: errors.New("no transcoder configured")}
	}
	tctx := ctx
	if sc.Timeouts.Audio > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, sc.Timeouts.Audio)
		defer cancel()
	}
	dst, err := sc.Transcoder.Transcode(tctx, abs, container)
	if err != nil {
		return preparedAudio{}, err
	}
	return preparedAudio{
		path:     dst,
		mimeType: media.ContainerWAV.MIMEType(),
		cleanup:  func() { _ = os.Remove(dst) },
	}, nil
}

func logSkip(log zerolog.Logger, err error) {
	var ce *media.ConversionError
	var ge *gateway.GatewayError
	reason := "error"
	switch {
	case errors.Is(err, errAudioMissing):
		reason = "file_not_found"
	case errors.Is(err, errUnsupportedAudio):
		reason = "unsupported_format"
	case errors.As(err, &ce):
		reason = "conversion_failed"
	case errors.As(err, &ge):
		reason = "gateway_failed"
	}
	log.Warn().Err(err).Str("reason", reason).Msg("audio question skipped")
}

func gatewayKey(stage response.StageName, qid response.QuestionID) string {
	if qid == "" {
		return string(stage)
	}
	return string(stage) + ":" + string(qid)
}

// parseAudioReply reads the structured audio analysis. A reply without a
// JSON object is taken as the bare transcript.
func parseAudioReply(reply string) *response.AudioAnalysis {
	doc, err := parser.Parse(reply)
	if err != nil {
		return &response.AudioAnalysis{Transcript: strings.TrimSpace(reply)}
	}
	a := &response.AudioAnalysis{
		Transcript:   strings.TrimSpace(firstString(doc, "transcription", "transcript", "text")),
		Observations: parser.Strings(doc.Get("observations")),
	}
	if v, ok := parser.Number(doc.Get("duration_seconds")); ok {
		a.DurationSeconds = v
	}
	emo := doc.Get("emotional_analysis")
	if emo.Get("scores").IsObject() {
		emo = emo.Get("scores")
	}
	a.EmotionalScores = parser.FloatMap(emo)

	pm := doc.Get("prosodic_metrics")
	a.Prosodic = response.ProsodicMetrics{
		SpeechRate:        num(pm, "speech_rate"),
		PauseFrequency:    num(pm, "pause_frequency"),
		PitchVariation:    num(pm, "pitch_variation"),
		VolumeConsistency: num(pm, "volume_consistency"),
	}
	pi := doc.Get("psychological_indicators")
	a.PsychologicalIndicators = response.PsychologicalIndicators{
		StressLevel:     num(pi, "stress_level"),
		ConfidenceLevel: num(pi, "confidence_level"),
		Engagement:      num(pi, "engagement"),
		Authenticity:    num(pi, "authenticity"),
	}
	return a
}

func prosodicSummary(a *response.AudioAnalysis) response.ProsodicAnalysis {
	p := response.ProsodicAnalysis{
		DurationSeconds:         a.DurationSeconds,
		Metrics:                 a.Prosodic,
		EmotionalScores:         a.EmotionalScores,
		PsychologicalIndicators: a.PsychologicalIndicators,
	}
	best := -1.0
	keys := make([]string, 0, len(a.EmotionalScores))
	for k := range a.EmotionalScores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := a.EmotionalScores[k]; v > best {
			best, p.DominantEmotion = v, k
		}
	}
	return p
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type == gjson.String {
			return v.Str
		}
	}
	return ""
}

func num(doc gjson.Result, key string) float64 {
	v, _ := parser.Number(doc.Get(key))
	return v
}
