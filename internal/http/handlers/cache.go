package handlers

import (
	"fmt"
	"net/http"

	"forge3d/internal/domain"
)

// CacheLookup handles GET /api/cache/lookup: an advisory probe for a prior
// completed job. Callers pass either an already-derived key, or the raw
// inputs (prompt for text, digest plus optional prompt for image) and let the
// server derive it.
func (a *App) CacheLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobType := domain.JobType(q.Get("type"))

	var (
		job *domain.Job
		err error
	)
	if key := q.Get("key"); key != "" {
		job, err = a.Orch.LookupKey(r.Context(), jobType, key)
	} else {
		job, err = a.Orch.Lookup(r.Context(), jobType, q.Get("prompt"), q.Get("digest"))
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job == nil {
		a.fail(w, r, fmt.Errorf("%w: no cached result", domain.ErrNotFound))
		return
	}
	a.json(w, http.StatusOK, job)
}
