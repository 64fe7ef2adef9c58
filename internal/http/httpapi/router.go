package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"pagebatch/internal/http/handlers"
	"pagebatch/internal/middleware"
)

// Options controls the router's middleware stack.
type Options struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	// RateLimitPerMinute caps requests per client IP. Zero disables it.
	RateLimitPerMinute int
	DefaultLocale      language.Tag
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	locale := opts.DefaultLocale
	if locale == language.Und {
		locale = language.English
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.RateLimit(opts.RateLimitPerMinute, time.Minute),
		middleware.Locale(locale),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/pdf", func(r chi.Router) {
		r.Post("/parse-image", app.ParseImage)
		r.Post("/create-batch-job", app.CreateBatchJob)
		r.Post("/append-files/{jobId}", app.AppendFiles)
		r.Post("/parse-batch", app.ParseBatch)
		r.Get("/active-jobs", app.ActiveJobs)

		r.Route("/job/{jobId}", func(r chi.Router) {
			r.Get("/", app.JobInfo)
			r.Get("/results", app.JobResults)
			r.Get("/results.xlsx", app.JobResultsXLSX)
			r.Get("/results.zip", app.JobResultsZIP)
			r.Post("/pause", app.PauseJob)
		})
	})

	return r
}
