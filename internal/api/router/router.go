// Package router assembles the HTTP surface: provider webhooks, the voice
// websocket, health, and metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumenspa/receptionist/internal/http/handlers"
	httpmiddleware "github.com/lumenspa/receptionist/internal/http/middleware"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Handlers       *handlers.Handlers
	MetricsHandler http.Handler
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/webhooks", func(wh chi.Router) {
		wh.Post("/sms", cfg.Handlers.SMSWebhook)
		wh.Post("/email", cfg.Handlers.EmailWebhook)
	})
	r.Get("/voice/session", cfg.Handlers.VoiceSession)

	return r
}
