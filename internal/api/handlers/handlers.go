package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/apperr"
	"github.com/dvloznov/taxledger/internal/archive"
	"github.com/dvloznov/taxledger/internal/classify"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/ledger"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/pipeline"
)

// LedgerService is the subset of pipeline.Service the handlers use.
type LedgerService interface {
	AnalyzeDocument(ctx context.Context, session, documentType, text string) (*pipeline.IngestResult, error)
	SubmitForm(ctx context.Context, session, documentType string, fields []string, values map[string]string) (*pipeline.IngestResult, error)
	Result(ctx context.Context, session string) (*classify.Result, error)
	Analyze(ctx context.Context, session, kind string) (*pipeline.AnalysisResult, error)
	Debug(ctx context.Context, session string) ([]ledger.DebugEntry, error)
	DeleteSession(ctx context.Context, session string) error
}

// LedgerHandler handles document ingestion and ledger reads.
type LedgerHandler struct {
	svc            LedgerService
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(svc LedgerService, maxUploadBytes int64, log zerolog.Logger) *LedgerHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &LedgerHandler{svc: svc, maxUploadBytes: maxUploadBytes, log: log}
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, apperr.ErrExtractionEmpty):
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "No items could be extracted from the document",
		})
	case errors.Is(err, apperr.ErrInvalidInput):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNoData):
		middleware.WriteError(w, http.StatusNotFound, "No ledger data for this session")
	case apperr.IsRetryable(err):
		log.Warn().Err(err).Msg("Upstream unavailable")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Upstream service unavailable, retry later")
	default:
		log.Error().Err(err).Msg("Request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeSuccess(w http.ResponseWriter, result interface{}) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// AnalyzeDocument handles POST /api/documents/analyze. It accepts either a
// multipart form with a "file" part and a "document_type" field, or JSON
// {"document_type": ..., "text": ...}.
func (h *LedgerHandler) AnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	documentType, text, err := h.readDocument(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.AnalyzeDocument(r.Context(), middleware.SessionFromContext(r.Context()), documentType, text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

func (h *LedgerHandler) readDocument(r *http.Request) (documentType, text string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return "", "", fmt.Errorf("invalid multipart body")
		}
		documentType = r.FormValue("document_type")
		file, _, err := r.FormFile("file")
		if err != nil {
			return "", "", fmt.Errorf("file is required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", fmt.Errorf("failed to read file")
		}
		text = string(data)
	} else {
		var req struct {
			DocumentType string `json:"document_type"`
			Text         string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", "", fmt.Errorf("invalid request body")
		}
		documentType, text = req.DocumentType, req.Text
	}

	documentType = strings.TrimSpace(documentType)
	if documentType == "" {
		return "", "", fmt.Errorf("document_type is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("document text is empty")
	}
	return documentType, text, nil
}

// FormItem is one manually entered line.
type FormItem struct {
	Field  string `json:"field"`
	Amount string `json:"amount"`
}

// SubmitForm handles POST /api/documents/form.
func (h *LedgerHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentType string     `json:"document_type"`
		Items        []FormItem `json:"items"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.DocumentType) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "document_type is required")
		return
	}

	fields := make([]string, 0, len(req.Items))
	values := make(map[string]string, len(req.Items))
	for _, it := range req.Items {
		if _, seen := values[it.Field]; !seen {
			fields = append(fields, it.Field)
		}
		values[it.Field] = it.Amount
	}

	res, err := h.svc.SubmitForm(r.Context(), middleware.SessionFromContext(r.Context()), strings.TrimSpace(req.DocumentType), fields, values)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

// Result handles GET /api/result.
func (h *LedgerHandler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Result(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

// Analysis handles GET /api/analysis/{kind}.
func (h *LedgerHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Analyze(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "kind"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, res)
}

// Debug handles GET /api/debug/ledger.
func (h *LedgerHandler) Debug(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	entries, err := h.svc.Debug(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   session,
		"total_fields": len(entries),
		"entries":      entries,
	})
}

// DeleteSession handles DELETE /api/session.
func (h *LedgerHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), middleware.SessionFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// JobsHandler exposes the caller's archive jobs.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}. Jobs of other sessions are reported as
// not found.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	sessionHash := archive.HashSession(middleware.SessionFromContext(r.Context()))

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil || job.SessionHash != sessionHash {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		SessionHash: archive.HashSession(middleware.SessionFromContext(ctx)),
		Status:      jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
