package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wsadapter "statsbridge/adapters/websocket"
	"statsbridge/engine"
	"statsbridge/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// MetricsPath, if set, serves Prometheus metrics on the same mux.
	MetricsPath string
	// Logger receives one line per request. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewMux builds an http.Handler exposing the stats and leaderboard facade and a WebSocket event stream.
// Routes:
//   - GET  {prefix}/stats/{name}
//   - PUT  {prefix}/stats/{name}                 {"value": 3}
//   - POST {prefix}/stats/store
//   - POST {prefix}/stats/reset?achievements=true
//   - POST {prefix}/leaderboards                 {"name": "weekly", "sort_method": 1, "display_type": 0}
//   - GET  {prefix}/leaderboards/by-name/{name}
//   - GET  {prefix}/leaderboards/{token}
//   - POST {prefix}/leaderboards/{token}/scores  {"method": 0, "score": 10, "details": [1, 2]}
//   - GET  {prefix}/leaderboards/{token}/entries?request=0&start=1&end=10&max_details=0
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
//
// Facade misses are answered with 200 and a JSON null; only malformed requests get 400.
func NewMux(svc *engine.StatsService, hub *realtime.Hub, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(metricsMiddleware)
	if opts.AllowCORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{opts.AllowCORSOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	if opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, promhttp.Handler())
	}

	r.Route(normalizePrefix(opts.PathPrefix), func(r chi.Router) {
		if len(opts.APIKeys) > 0 {
			r.Use(apiKeyAuth(opts.APIKeys))
		}
		if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
			r.Use(rateLimit(newKeyedLimiter(float64(opts.RateLimitRPM)/60, opts.RateLimitBurst)))
		}

		r.Get("/healthz", h.healthz)
		if hub != nil {
			r.Handle("/ws", wsadapter.Handler(hub))
		}

		r.Route("/stats", func(r chi.Router) {
			r.Post("/store", h.storeStats)
			r.Post("/reset", h.resetStats)
			r.Get("/{name}", h.getStat)
			r.Put("/{name}", h.setStat)
		})

		r.Route("/leaderboards", func(r chi.Router) {
			r.Post("/", h.findOrCreateLeaderboard)
			r.Get("/by-name/{name}", h.findLeaderboard)
			r.Route("/{token}", func(r chi.Router) {
				r.Get("/", h.leaderboardInfo)
				r.Post("/scores", h.uploadScore)
				r.Get("/entries", h.downloadEntries)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

func normalizePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return "/"
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}
	for len(prefix) > 1 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}
