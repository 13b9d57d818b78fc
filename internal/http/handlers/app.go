// Package handlers translates HTTP requests into orchestrator operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/orchestrate"
	"forge3d/internal/storage"
)

// App carries the collaborators every handler needs.
type App struct {
	Orch      *orchestrate.Orchestrator
	Artifacts *storage.FileStore
	Logger    infra.Logger

	// MaxUploadBytes bounds multipart image uploads before they are read
	// into memory.
	MaxUploadBytes int64
}

// NewApp wires a handler container.
func NewApp(orch *orchestrate.Orchestrator, artifacts *storage.FileStore, logger infra.Logger, maxUploadBytes int64) *App {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &App{
		Orch:           orch,
		Artifacts:      artifacts,
		Logger:         logger,
		MaxUploadBytes: maxUploadBytes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps domain errors onto HTTP status codes and a JSON error envelope.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handler failed")
	}
	a.json(w, code, map[string]string{"error": err.Error()})
}
