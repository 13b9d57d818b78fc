package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"forge3d/internal/domain"
	"forge3d/internal/middleware"
	"forge3d/internal/orchestrate"
	"forge3d/pkg/zip"
)

type submitTextRequest struct {
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Cached    bool             `json:"cached"`
	Coalesced bool             `json:"coalesced,omitempty"`
}

type feedbackRequest struct {
	Rating int    `json:"rating"`
	Notes  string `json:"notes"`
}

// allowedImageMIMEs is the upload whitelist for image-to-3D submissions.
var allowedImageMIMEs = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

// SubmitText handles POST /api/generations.
func (a *App) SubmitText(w http.ResponseWriter, r *http.Request) {
	var req submitTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidInput))
		return
	}

	result, err := a.Orch.SubmitText(r.Context(), req.Prompt, middleware.CountryFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.submitted(w, result)
}

// SubmitImage handles POST /api/generations/image (multipart: image file plus
// an optional prompt field).
func (a *App) SubmitImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		a.fail(w, r, fmt.Errorf("%w: malformed multipart body", domain.ErrInvalidInput))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: image file is required", domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.MaxUploadBytes+1))
	if err != nil {
		a.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > a.MaxUploadBytes {
		a.fail(w, r, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, a.MaxUploadBytes))
		return
	}

	mime := imageMIME(header.Header.Get("Content-Type"), data)
	if _, ok := allowedImageMIMEs[mime]; !ok {
		a.fail(w, r, fmt.Errorf("%w: unsupported image type %q", domain.ErrInvalidInput, mime))
		return
	}

	result, err := a.Orch.SubmitImage(r.Context(), data, mime, r.FormValue("prompt"), middleware.CountryFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.submitted(w, result)
}

// submitted renders a submit result: 200 for a cache hit (the work already
// exists), 202 otherwise.
func (a *App) submitted(w http.ResponseWriter, result *orchestrate.SubmitResult) {
	code := http.StatusAccepted
	if result.Cached {
		code = http.StatusOK
	}
	a.json(w, code, submitResponse{
		JobID:     result.Job.ID,
		Status:    result.Job.Status,
		Cached:    result.Cached,
		Coalesced: result.Coalesced,
	})
}

// GetJob handles GET /api/generations/{id}.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// ListJobs handles GET /api/generations?limit=n.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	jobs, err := a.Orch.Recent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// RecordFeedback handles POST /api/generations/{id}/feedback.
func (a *App) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidInput))
		return
	}

	job, err := a.Orch.RecordFeedback(r.Context(), chi.URLParam(r, "id"), req.Rating, req.Notes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// DownloadArtifact handles GET /api/generations/{id}/download.
func (a *App) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !job.CacheEligible() {
		a.fail(w, r, fmt.Errorf("%w: job has no downloadable artifact", domain.ErrNotFound))
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+"."+job.Artifact.Format+`"`)
	http.ServeFile(w, r, job.Artifact.Path)
}

// DownloadBundle handles GET /api/generations/{id}/bundle: the artifact plus
// its scorecard and job record in one zip.
func (a *App) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !job.CacheEligible() {
		a.fail(w, r, fmt.Errorf("%w: job has no downloadable artifact", domain.ErrNotFound))
		return
	}

	blob, err := a.Artifacts.Read(r.Context(), job.ID+"."+job.Artifact.Format)
	if err != nil {
		a.fail(w, r, fmt.Errorf("load artifact: %w", err))
		return
	}

	entries := []zip.Entry{{Name: "model." + job.Artifact.Format, Data: blob}}
	if record, err := json.MarshalIndent(job, "", "  "); err == nil {
		entries = append(entries, zip.Entry{Name: "job.json", Data: record})
	}
	if job.Scorecard != nil {
		if card, err := json.MarshalIndent(job.Scorecard, "", "  "); err == nil {
			entries = append(entries, zip.Entry{Name: "scorecard.json", Data: card})
		}
	}

	archive, err := zip.Archive(entries)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.zip"`)
	_, _ = w.Write(archive)
}

// imageMIME picks the upload's MIME type, preferring the client-declared
// header and falling back to content sniffing.
func imageMIME(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}
