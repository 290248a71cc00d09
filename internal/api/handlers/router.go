package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/jobs"
)

// RouterConfig wires the HTTP adapter. Jobs is optional.
type RouterConfig struct {
	Service        LedgerService
	Sessions       middleware.SessionEnsurer
	Jobs           jobs.JobStore
	Session        middleware.SessionOptions
	MaxUploadBytes int64
	Log            zerolog.Logger
}

// NewRouter builds the API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	ledgerHandler := NewLedgerHandler(cfg.Service, cfg.MaxUploadBytes, cfg.Log)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Session(cfg.Sessions, cfg.Session))

		r.Post("/documents/analyze", ledgerHandler.AnalyzeDocument)
		r.Post("/documents/form", ledgerHandler.SubmitForm)
		r.Get("/result", ledgerHandler.Result)
		r.Get("/analysis/{kind}", ledgerHandler.Analysis)
		r.Get("/debug/ledger", ledgerHandler.Debug)
		r.Delete("/session", ledgerHandler.DeleteSession)

		if cfg.Jobs != nil {
			jobsHandler := NewJobsHandler(cfg.Jobs, cfg.Log)
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{id}", jobsHandler.GetJob)
		}
	})

	return r
}
