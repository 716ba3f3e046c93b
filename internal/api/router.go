package api

import (
	"net/http"

	"go.uber.org/zap"

	"ytdl-server/internal/config"
)

// NewRouter sets up routes and applies global middleware
func NewRouter(h *Handler, cfg *config.Config, throttle *Throttle, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /watch", h.Watch)
	mux.HandleFunc("GET /progress", h.Progress)
	mux.HandleFunc("GET /download", h.Download)
	mux.HandleFunc("GET /events", h.Events)
	mux.HandleFunc("GET /info", h.Info)
	mux.HandleFunc("GET /healthz", h.Healthz)

	var handler http.Handler = mux
	handler = throttle.Middleware(handler)
	handler = CORS(cfg.CORS.AllowedOrigins)(handler)
	handler = ClientIdentity(cfg.Server.TrustProxy)(handler)
	handler = Logging(logger)(handler)
	handler = Recovery(logger)(handler)
	handler = Trace(handler)
	return handler
}
