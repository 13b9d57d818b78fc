package handlers

import "net/http"

// Health handles GET /healthz. It reports degraded when the job store stops
// answering.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.Orch.Ping(r.Context()); err != nil {
		a.Logger.Error().Err(err).Msg("health: store ping failed")
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
