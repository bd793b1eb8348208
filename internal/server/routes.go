package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Info)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /generate", h.Generate)
	mux.HandleFunc("GET /check/{task_id}", h.Check)
	mux.HandleFunc("POST /lyrics", h.Lyrics)
	mux.HandleFunc("POST /video", h.Video)
	mux.HandleFunc("POST /callback", h.Callback)
	mux.HandleFunc("GET /status/{audio_task_id}", h.Status)
	mux.HandleFunc("GET /media", h.MediaList)
	mux.HandleFunc("GET /media/{filename}", h.Media)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
