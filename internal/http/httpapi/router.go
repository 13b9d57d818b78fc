// Package httpapi assembles the service's HTTP surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"forge3d/internal/http/handlers"
	"forge3d/internal/middleware"
)

// Options tunes the router's middleware.
type Options struct {
	// AllowedOrigins feeds the CORS middleware; "*" allows any origin.
	AllowedOrigins []string
	// SubmitRatePerMin caps submissions per client IP per minute. Zero
	// disables the HTTP-level limit.
	SubmitRatePerMin int
	// CountryLookup resolves request countries when headers give nothing.
	CountryLookup middleware.CountryLookup
}

// NewRouter builds the chi router for the API and artifact files.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(app.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Country(opts.CountryLookup),
	)

	r.Get("/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/generations", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Get("/{id}", app.GetJob)
			r.Get("/{id}/download", app.DownloadArtifact)
			r.Get("/{id}/bundle", app.DownloadBundle)
			r.Post("/{id}/feedback", app.RecordFeedback)

			// Submissions carry a per-IP limit on top of the global
			// provider token bucket.
			r.Group(func(r chi.Router) {
				if opts.SubmitRatePerMin > 0 {
					r.Use(middleware.RateLimit(opts.SubmitRatePerMin, time.Minute))
				}
				r.Post("/", app.SubmitText)
				r.Post("/image", app.SubmitImage)
			})
		})

		r.Get("/cache/lookup", app.CacheLookup)
		r.Get("/stats", app.Stats)
	})

	if app.Artifacts != nil {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(app.Artifacts.BasePath())))
		r.Get("/files/*", files.ServeHTTP)
	}

	return r
}
