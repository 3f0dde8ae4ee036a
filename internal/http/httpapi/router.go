package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"creativehub/internal/http/handlers"
	"creativehub/internal/middleware"
)

type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// FilesDir is served under the path of FilesBaseURL when both are set.
	FilesDir     string
	FilesBaseURL string
	Logger       zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/auth/token", app.DevToken)
	mountFiles(r, opts.FilesDir, opts.FilesBaseURL)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(opts.JWTSecret),
			middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		)

		r.Get("/v1/events", app.Events)

		r.Route("/v1/requests", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.CreateRequest)
			r.Get("/", app.ListRequests)
			r.Get("/{id}", app.GetRequest)
			r.Get("/{id}/archive", app.RequestArchive)
		})

		r.Route("/v1/me", func(r chi.Router) {
			r.Get("/profile", app.GetProfile)
			r.Patch("/profile", app.PatchProfile)
			r.Put("/avatar", app.PutAvatar)
			r.Delete("/avatar", app.DeleteAvatar)
		})

		r.Post("/v1/jobs/process-next", app.ProcessNext)
		r.Post("/v1/reconcile", app.Reconcile)
	})

	return r
}

func mountFiles(r chi.Router, dir, baseURL string) {
	if dir == "" || baseURL == "" {
		return
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	prefix := "/" + strings.Trim(u.Path, "/")
	if prefix == "/" {
		return
	}
	r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(dir))))
}
