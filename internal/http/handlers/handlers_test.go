package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"forge3d/internal/domain"
	"forge3d/internal/evaluate"
	"forge3d/internal/http/handlers"
	"forge3d/internal/http/httpapi"
	"forge3d/internal/infra"
	"forge3d/internal/jobstore"
	"forge3d/internal/orchestrate"
	"forge3d/internal/providers/synthetic"
	"forge3d/internal/scheduler"
	"forge3d/internal/storage"
)

type submitBody struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Cached    bool   `json:"cached"`
	Coalesced bool   `json:"coalesced"`
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	artifacts, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store, err := jobstore.OpenFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	provider, err := synthetic.New(synthetic.Options{Store: artifacts})
	if err != nil {
		t.Fatalf("synthetic.New: %v", err)
	}

	logger := infra.Logger(zerolog.New(io.Discard))
	orch, err := orchestrate.New(orchestrate.Options{
		Store:     store,
		Provider:  provider,
		Evaluator: evaluate.New(),
		Logger:    &logger,
		Config: orchestrate.Config{
			RatePerSec: 100,
			Poll: scheduler.Config{
				InitialInterval: time.Millisecond,
				Multiplier:      1.2,
				MaxInterval:     5 * time.Millisecond,
				Deadline:        5 * time.Second,
			},
		},
	})
	if err != nil {
		t.Fatalf("orchestrate.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Wait(ctx)
	})

	app := handlers.NewApp(orch, artifacts, logger, 10<<20)
	return httpapi.NewRouter(app, httpapi.Options{AllowedOrigins: []string{"*"}})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitDone(t *testing.T, h http.Handler, jobID string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, h, http.MethodGet, "/api/generations/"+jobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get job: status %d body %s", rec.Code, rec.Body.String())
		}
		job := decode[domain.Job](t, rec)
		switch job.Status {
		case domain.JobStatusDone:
			return job
		case domain.JobStatusError:
			t.Fatalf("job failed: %s", job.Error)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never completed", jobID)
	return domain.Job{}
}

func TestSubmitTextLifecycle(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "a red cube"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body.String())
	}
	accepted := decode[submitBody](t, rec)
	if accepted.JobID == "" || accepted.Cached {
		t.Fatalf("submit response = %+v", accepted)
	}

	job := waitDone(t, h, accepted.JobID)
	if job.Artifact == nil || !strings.HasPrefix(job.Artifact.URL, "/files/") {
		t.Fatalf("artifact = %+v", job.Artifact)
	}
	if job.Scorecard == nil || job.Scorecard.Score <= 0 {
		t.Fatalf("scorecard = %+v", job.Scorecard)
	}

	// A formatting-only variant of the prompt is a cache hit.
	rec = doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "  A Red CUBE "})
	if rec.Code != http.StatusOK {
		t.Fatalf("cached submit: status %d body %s", rec.Code, rec.Body.String())
	}
	cached := decode[submitBody](t, rec)
	if !cached.Cached || cached.JobID != accepted.JobID {
		t.Fatalf("cached response = %+v, want cached id %s", cached, accepted.JobID)
	}

	// The artifact file is served under /files/.
	fileRec := doJSON(t, h, http.MethodGet, job.Artifact.URL, nil)
	if fileRec.Code != http.StatusOK || fileRec.Body.Len() == 0 {
		t.Fatalf("artifact fetch: status %d, %d bytes", fileRec.Code, fileRec.Body.Len())
	}
}

func TestSubmitTextValidation(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, r)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want 400", rec2.Code)
	}
}

func TestSubmitImageLifecycle(t *testing.T) {
	h := newTestServer(t)

	// Minimal PNG header so MIME sniffing resolves to image/png.
	payload := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{1}, 32)...)

	submit := func() *httptest.ResponseRecorder {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write part: %v", err)
		}
		if err := mw.WriteField("prompt", "a toy robot"); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
		mw.Close()

		r := httptest.NewRequest(http.MethodPost, "/api/generations/image", body)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	rec := submit()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit image: status %d body %s", rec.Code, rec.Body.String())
	}
	accepted := decode[submitBody](t, rec)
	job := waitDone(t, h, accepted.JobID)
	if job.Type != domain.JobTypeImage || job.SourceDigest == "" {
		t.Fatalf("job = type %q digest %q", job.Type, job.SourceDigest)
	}

	// Identical bytes under a different request hit the cache once done.
	rec = submit()
	if rec.Code != http.StatusOK {
		t.Fatalf("resubmit: status %d body %s", rec.Code, rec.Body.String())
	}
	cached := decode[submitBody](t, rec)
	if !cached.Cached || cached.JobID != accepted.JobID {
		t.Fatalf("resubmit = %+v, want cached id %s", cached, accepted.JobID)
	}
}

func TestSubmitImageRequiresFile(t *testing.T) {
	h := newTestServer(t)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("prompt", "no image attached")
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/generations/image", body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "a pyramid"})
	accepted := decode[submitBody](t, rec)
	waitDone(t, h, accepted.JobID)

	rec = doJSON(t, h, http.MethodPost, "/api/generations/"+accepted.JobID+"/feedback",
		map[string]any{"rating": 1, "notes": "crisp edges"})
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback: status %d body %s", rec.Code, rec.Body.String())
	}
	job := decode[domain.Job](t, rec)
	if job.Feedback == nil || job.Feedback.Rating != 1 || job.Feedback.Notes != "crisp edges" {
		t.Fatalf("feedback = %+v", job.Feedback)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/generations/"+accepted.JobID+"/feedback",
		map[string]any{"rating": 5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rating: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/generations/missing/feedback",
		map[string]any{"rating": 1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: status = %d, want 404", rec.Code)
	}
}

func TestCacheLookupEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/cache/lookup?type=text&prompt=a+glass+vase", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("probe before submit: status = %d, want 404", rec.Code)
	}

	submitted := decode[submitBody](t, doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "a glass vase"}))
	done := waitDone(t, h, submitted.JobID)

	rec = doJSON(t, h, http.MethodGet, "/api/cache/lookup?type=text&prompt=A+GLASS+vase", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("probe: status %d body %s", rec.Code, rec.Body.String())
	}
	job := decode[domain.Job](t, rec)
	if job.ID != done.ID {
		t.Fatalf("probe id = %s, want %s", job.ID, done.ID)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/cache/lookup?type=text&key="+url.QueryEscape(job.CacheKey), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("probe by key: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/cache/lookup?type=bogus&prompt=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status = %d, want 400", rec.Code)
	}
}

func TestListStatsAndHealth(t *testing.T) {
	h := newTestServer(t)

	submitted := decode[submitBody](t, doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "a sphere"}))
	waitDone(t, h, submitted.JobID)

	rec := doJSON(t, h, http.MethodGet, "/api/generations?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	listing := decode[struct {
		Jobs []domain.Job `json:"jobs"`
	}](t, rec)
	if len(listing.Jobs) != 1 || listing.Jobs[0].ID != submitted.JobID {
		t.Fatalf("listing = %+v", listing.Jobs)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rec.Code)
	}
	stats := decode[domain.Stats](t, rec)
	if stats.Total != 1 || stats.ByStatus[domain.JobStatusDone] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
}

func TestDownloadAndBundle(t *testing.T) {
	h := newTestServer(t)

	submitted := decode[submitBody](t, doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "a cube"}))
	waitDone(t, h, submitted.JobID)

	rec := doJSON(t, h, http.MethodGet, "/api/generations/"+submitted.JobID+"/download", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("download: status %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, submitted.JobID) {
		t.Fatalf("content disposition = %q", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/generations/"+submitted.JobID+"/bundle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bundle: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("bundle content type = %q", got)
	}

	// A job that is not done yet has nothing to download.
	pending := decode[submitBody](t, doJSON(t, h, http.MethodPost, "/api/generations", map[string]string{"prompt": "still running elsewhere"}))
	rec = doJSON(t, h, http.MethodGet, "/api/generations/"+pending.JobID+"/download", nil)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusOK {
		// The synthetic provider finishes fast; accept either a 404 for an
		// unfinished job or a 200 when it already completed.
		t.Fatalf("pending download: status %d", rec.Code)
	}
}
