package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pagebatch/internal/batch"
	"pagebatch/internal/domain"
	"pagebatch/internal/infra"
	"pagebatch/internal/storage"
)

// Limits bounds multipart uploads.
type Limits struct {
	MaxUploadBytes     int64
	MaxBatchFiles      int
	MaxAppendFiles     int
	MaxParseBatchFiles int
}

// LimitsFromConfig copies the upload limits out of cfg.
func LimitsFromConfig(cfg *infra.Config) Limits {
	return Limits{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MaxBatchFiles:      cfg.MaxBatchFiles,
		MaxAppendFiles:     cfg.MaxAppendFiles,
		MaxParseBatchFiles: cfg.MaxParseBatchFiles,
	}
}

type App struct {
	Jobs         domain.JobRepository
	Orchestrator *batch.Orchestrator
	Query        *batch.Query
	Processor    batch.Processor
	// Spool retains uploaded pages between append-files calls. Nil disables it.
	Spool  *storage.PageSpool
	Limits Limits
	Logger zerolog.Logger
	// RunContext bounds background runs; it is cancelled on shutdown.
	RunContext context.Context
}

type apiStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type envelope struct {
	Status apiStatus `json:"status"`
	Data   any       `json:"data"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) ok(w http.ResponseWriter, code int, message string, data any) {
	a.json(w, code, envelope{Status: apiStatus{Success: true, Message: message}, Data: data})
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, envelope{Status: apiStatus{Success: false, Message: message}})
}

// fail renders err under prefix with the status matching its sentinel.
func (a *App) fail(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg(prefix)
	}
	a.error(w, code, prefix+": "+err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, batch.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) runContext() context.Context {
	if a.RunContext != nil {
		return a.RunContext
	}
	return context.Background()
}
