package handlers

import "net/http"

// Stats handles GET /api/stats.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Orch.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}
