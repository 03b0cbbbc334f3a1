// Package httpapi is the operator HTTP surface of the insight pipeline.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/pipeline"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/reportrender"
	"github.com/joelkehle/insight-pipeline/internal/response"
	"github.com/joelkehle/insight-pipeline/internal/store"
)

const maxBodyBytes = 8 << 20

type Processor interface {
	Submit(ctx context.Context, s pipeline.Submission) (*response.Response, error)
	Process(ctx context.Context, id string) (*response.Response, error)
	Reprocess(ctx context.Context, id string) (*response.Response, error)
}

type Reader interface {
	GetResponse(ctx context.Context, id string) (*response.Response, error)
	ListResponses(ctx context.Context, f store.Filter) ([]store.Summary, error)
	GetQuestionnaire(ctx context.Context, id string) (*questionnaire.Questionnaire, error)
	ListQuestionnaires(ctx context.Context) ([]*questionnaire.Questionnaire, error)
	Ping(ctx context.Context) error
}

type PDFRenderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

type Options struct {
	Pipeline Processor
	Store    Reader
	// PDF is optional; PDF exports answer 501 without it.
	PDF PDFRenderer
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

type Server struct {
	pipeline Processor
	store    Reader
	pdf      PDFRenderer
	log      zerolog.Logger
}

func NewServer(opts Options) http.Handler {
	s := &Server{pipeline: opts.Pipeline, store: opts.Store, pdf: opts.PDF, log: opts.Logger}
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "route_not_found", "no route for "+req.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", req.Method+" not allowed on "+req.URL.Path)
	})

	r.HandleFunc("/v1/responses", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/v1/responses", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/responses/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/responses/{id}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/responses/{id}/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/v1/responses/{id}/process", s.handleProcess).Methods(http.MethodPost)
	r.HandleFunc("/v1/responses/{id}/reprocess", s.handleReprocess).Methods(http.MethodPost)
	r.HandleFunc("/v1/questionnaires", s.handleListQuestionnaires).Methods(http.MethodGet)
	r.HandleFunc("/v1/questionnaires/{id}", s.handleGetQuestionnaire).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).
			Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("http_request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"code": code, "message": message},
	})
}

// writeDomainError maps pipeline and store errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, response.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, pipeline.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, "invalid_submission", err.Error())
	case errors.Is(err, pipeline.ErrUnknownQuestionnaire):
		writeError(w, http.StatusUnprocessableEntity, "unknown_questionnaire", err.Error())
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.log.Error().Err(err).Msg("http_internal_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeBody(r *http.Request, dst any) error {
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(blob, dst)
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub pipeline.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	resp, err := s.pipeline.Submit(r.Context(), sub)
	if err != nil {
		if resp == nil {
			s.writeDomainError(w, err)
			return
		}
		// Stored but not started; the operator can retry with /process.
		s.log.Warn().Err(err).Str("response_id", resp.ID).Msg("submission_not_started")
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":          true,
		"response_id": resp.ID,
		"status":      resp.Status,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{CampaignID: q.Get("campaign_id"), Limit: parseInt(q.Get("limit"), 0)}
	if raw := q.Get("status"); raw != "" {
		st, err := response.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		f.Status = st
	}
	items, err := s.store.ListResponses(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "responses": items})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.GetResponse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicView(resp))
}

// publicView hides processing errors and any derived field whose owning
// stage has not reached a terminal state on the current run.
func publicView(r *response.Response) *response.Response {
	v := *r
	v.ProcessingError = ""
	rank := r.Status.Rank()
	if rank < response.StatusTranscribed.Rank() {
		v.Transcriptions = nil
		v.ProsodicAnalysis = nil
	}
	if rank < response.StatusAnalyzed.Rank() {
		v.AIAnalysis = nil
	}
	if rank < response.StatusCompleted.Rank() {
		v.QuestionnaireScores = nil
	}
	if rank < response.StatusReportCompleted.Rank() {
		v.ComprehensiveReport = nil
	}
	return &v
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.GetResponse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"response_id":      resp.ID,
		"status":           resp.Status,
		"completed":        resp.Status.IsTerminal() && !resp.Status.IsFailed(),
		"failed":           resp.Status.IsFailed(),
		"processing_error": resp.ProcessingError,
		"audit":            resp.Audit,
		"updated_at":       resp.UpdatedAt,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.pipeline.Process)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.pipeline.Reprocess)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*response.Response, error)) {
	resp, err := action(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "response_id": resp.ID, "status": resp.Status})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.GetResponse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.Status != response.StatusReportCompleted || resp.ComprehensiveReport == nil {
		writeError(w, http.StatusNotFound, "report_not_ready", "report not available in status "+string(resp.Status))
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, resp.ComprehensiveReport)
		return
	}

	qn, err := s.store.GetQuestionnaire(r.Context(), resp.QuestionnaireID)
	if err != nil {
		qn = nil
	}
	md, err := reportrender.Markdown(resp, qn)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	switch format {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, md)
	case "html", "pdf":
		doc, err := reportrender.HTML(md, "Informe "+resp.ID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if format == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, doc)
			return
		}
		if s.pdf == nil {
			writeError(w, http.StatusNotImplemented, "pdf_unavailable", "pdf rendering is not configured")
			return
		}
		pdf, err := s.pdf.Render(r.Context(), doc)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="informe-`+resp.ID+`.pdf"`)
		_, _ = w.Write(pdf)
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be json, markdown, html or pdf")
	}
}

func (s *Server) handleListQuestionnaires(w http.ResponseWriter, r *http.Request) {
	qs, err := s.store.ListQuestionnaires(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "questionnaires": qs})
}

func (s *Server) handleGetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	qn, err := s.store.GetQuestionnaire(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
