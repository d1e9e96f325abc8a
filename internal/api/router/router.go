package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/kine-assistant/internal/bilan"
	"github.com/wolfman30/kine-assistant/internal/exercises"
	httpmiddleware "github.com/wolfman30/kine-assistant/internal/http/middleware"
	"github.com/wolfman30/kine-assistant/internal/http/respond"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/transcription"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	PractitionerJWTSecret string
	RateLimitRPS          float64
	RateLimitBurst        int

	Practitioners  *practitioners.Handler
	Bilans         *bilan.Handler
	Transcriptions *transcription.Handler
	Exercises      *exercises.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Everything below acts on behalf of the practitioner named by the token.
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.PractitionerJWT(cfg.PractitionerJWTSecret))
		if cfg.RateLimitRPS > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}

		if cfg.Practitioners != nil {
			api.Route("/me", func(r chi.Router) {
				r.Get("/", cfg.Practitioners.Me)
				r.Put("/", cfg.Practitioners.UpdateDisplay)
				r.Post("/refresh", cfg.Practitioners.Refresh)
			})
		}

		if cfg.Bilans != nil {
			api.Route("/bilans", func(r chi.Router) {
				r.Post("/", cfg.Bilans.Submit)
				r.Get("/", cfg.Bilans.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Bilans.Get)
					r.Patch("/fields", cfg.Bilans.EditField)
					r.Post("/regions/toggle", cfg.Bilans.ToggleRegion)
					r.Post("/save", cfg.Bilans.Save)
					r.Post("/export", cfg.Bilans.Export)
					r.Get("/document", cfg.Bilans.Document)
				})
			})
		}

		if cfg.Transcriptions != nil {
			api.Post("/transcriptions", cfg.Transcriptions.Transcribe)
		}

		if cfg.Exercises != nil {
			api.Route("/exercise-sessions", func(r chi.Router) {
				r.Post("/", cfg.Exercises.Start)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Exercises.Get)
					r.Post("/generate", cfg.Exercises.Generate)
					r.Post("/messages", cfg.Exercises.SendMessage)
					r.Post("/export", cfg.Exercises.Export)
					r.Post("/form/toggle", cfg.Exercises.ToggleFormTag)
					r.Route("/exercises/{exID}", func(r chi.Router) {
						r.Post("/adapt", cfg.Exercises.AdaptExercise)
						r.Post("/select", cfg.Exercises.ToggleSelect)
						r.Post("/lock", cfg.Exercises.ToggleLock)
					})
				})
			})
		}
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
