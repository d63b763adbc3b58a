package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/config"
	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
	"github.com/kirillkom/heritage-ocr/internal/observability/metrics"
)

const (
	apiKeyHeader = "X-API-Key"
	// multipartOverhead leaves room for form fields around the file part.
	multipartOverhead = 1 << 20
)

type Services struct {
	Sessions  ports.SessionService
	Digitizer ports.DocumentDigitizer
	Reasoner  ports.DocumentReasoner
	Ledger    ports.LedgerService
	Exporter  ports.RecordExporter
	Metrics   *metrics.HTTPServerMetrics
	// Languages offered in the UI language selector.
	Languages []string
}

type Router struct {
	cfg       config.Config
	services  Services
	validator *requestValidator
	ui        *uiPage
}

func NewRouter(cfg config.Config, services Services) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	ui, err := newUIPage(services.Languages, cfg.OCRDefaultLang, !services.Reasoner.RequiresAPIKey())
	if err != nil {
		return nil, err
	}
	return &Router{cfg: cfg, services: services, validator: validator, ui: ui}, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/sessions", rt.openSession)
	api.HandleFunc("GET /v1/sessions/{id}", rt.getSession)
	api.HandleFunc("DELETE /v1/sessions/{id}", rt.endSession)
	api.HandleFunc("PUT /v1/sessions/{id}/api-key", rt.setAPIKey)
	api.HandleFunc("POST /v1/sessions/{id}/documents", rt.digitize)
	api.HandleFunc("GET /v1/sessions/{id}/artifacts/{kind}", rt.artifact)
	api.HandleFunc("POST /v1/sessions/{id}/translate", rt.translate)
	api.HandleFunc("POST /v1/sessions/{id}/chat", rt.ask)
	api.HandleFunc("GET /v1/sessions/{id}/chat", rt.history)
	api.HandleFunc("GET /v1/sessions/{id}/export.xlsx", rt.export)
	api.HandleFunc("POST /v1/reason", rt.reason)
	api.HandleFunc("GET /v1/ledger", rt.listLedger)
	api.HandleFunc("POST /v1/ledger/verify", rt.verifyRecord)
	api.HandleFunc("GET /v1/ledger/integrity", rt.ledgerIntegrity)

	var apiHandler http.Handler = api
	apiHandler = rt.validator.Middleware(apiHandler)
	apiHandler = backpressureMiddleware(apiHandler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	root := http.NewServeMux()
	root.Handle("/v1/", apiHandler)
	root.HandleFunc("GET /healthz", rt.healthz)
	root.HandleFunc("GET /openapi.json", rt.validator.serveSpec)
	root.HandleFunc("GET /{$}", rt.ui.serve)
	if rt.services.Metrics != nil {
		root.Handle("GET /metrics", rt.services.Metrics.Handler())
	}

	var handler http.Handler = root
	if rt.services.Metrics != nil {
		handler = rt.services.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionView struct {
	SessionID  string                    `json:"session_id"`
	HasAPIKey  bool                      `json:"has_api_key"`
	Processed  *domain.ProcessedDocument `json:"processed,omitempty"`
	Turns      int                       `json:"turns"`
	CreatedAt  time.Time                 `json:"created_at"`
	LastSeenAt time.Time                 `json:"last_seen_at"`
}

func newSessionView(s *domain.Session) sessionView {
	return sessionView{
		SessionID:  s.ID,
		HasAPIKey:  s.HasAPIKey(),
		Processed:  s.Processed,
		Turns:      len(s.Turns),
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
	}
}

func (rt *Router) openSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := rt.services.Sessions.Open(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(session))
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := rt.services.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.services.Sessions.End(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.services.Sessions.SetAPIKey(r.Context(), r.PathValue("id"), req.APIKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) digitize(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	preprocess, err := formBool(r, "preprocess", true)
	if err != nil {
		writeError(w, err)
		return
	}
	skipReasoning, err := formBool(r, "skip_reasoning", false)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := rt.services.Digitizer.Digitize(r.Context(), domain.DigitizeRequest{
		SessionID:     r.PathValue("id"),
		Filename:      header.Filename,
		MimeType:      header.Header.Get("Content-Type"),
		Body:          file,
		Language:      r.FormValue("language"),
		Preprocess:    preprocess,
		SkipReasoning: skipReasoning,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) artifact(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseArtifactKind(r.PathValue("kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown artifact"})
		return
	}
	rc, contentType, err := rt.services.Digitizer.OpenArtifact(r.Context(), r.PathValue("id"), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (rt *Router) translate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetLanguage string `json:"target_language"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := rt.services.Sessions.Translate(r.Context(), r.PathValue("id"), req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question       string `json:"question"`
		TargetLanguage string `json:"target_language"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	turn, err := rt.services.Sessions.Ask(r.Context(), r.PathValue("id"), req.Question, req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	turns, err := rt.services.Sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (rt *Router) export(w http.ResponseWriter, r *http.Request) {
	session, err := rt.services.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Processed == nil {
		writeError(w, domain.WrapError(domain.ErrNotFound, "export", fmt.Errorf("no processed document")))
		return
	}

	var buf bytes.Buffer
	if err := rt.services.Exporter.Export(&buf, session.Processed); err != nil {
		writeError(w, err)
		return
	}
	name := session.Processed.Document.Filename
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" {
		name = session.Processed.Document.ID
	}
	w.Header().Set("Content-Type", rt.services.Exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) reason(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode           string `json:"mode"`
		Text           string `json:"text"`
		Question       string `json:"question"`
		TargetLanguage string `json:"target_language"`
		LanguageHint   string `json:"language_hint"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, ok := domain.ParseReasoningMode(req.Mode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be structure, translate or answer"})
		return
	}
	result, err := rt.services.Reasoner.Reason(r.Context(), domain.ReasoningRequest{
		Mode:           mode,
		Text:           req.Text,
		Question:       req.Question,
		TargetLanguage: req.TargetLanguage,
		LanguageHint:   req.LanguageHint,
		APIKey:         r.Header.Get(apiKeyHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listLedger(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := rt.services.Ledger.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit, "offset": offset})
}

func (rt *Router) verifyRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Record domain.StructuredRecord `json:"record"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := rt.services.Ledger.Verify(r.Context(), req.Record)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) ledgerIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := rt.services.Ledger.CheckIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func decodeOptionalJSON(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.WrapError(domain.ErrInvalidInput, "parse form", fmt.Errorf("%s must be a boolean", key))
	}
	return v, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse query", fmt.Errorf("%s must be an integer", key))
	}
	return v, nil
}
