package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the route table. Split out from Start so tests can serve
// the same routes through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/jobs", s.corsMiddleware(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.corsMiddleware(s.handleGetJob))

	mux.HandleFunc("GET /api/notifications", s.corsMiddleware(s.handleListNotifications))
	mux.HandleFunc("POST /api/notifications", s.corsMiddleware(s.handlePostNotification))
	mux.HandleFunc("DELETE /api/notifications", s.corsMiddleware(s.handleDeleteAllNotifications))
	mux.HandleFunc("GET /api/notifications/{id}", s.corsMiddleware(s.handleGetNotification))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.corsMiddleware(s.handleDeleteNotification))

	mux.HandleFunc("GET /api/updates", s.corsMiddleware(s.handleUpdates))

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.corsMiddleware(s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Preflight for any API path
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	return mux
}

// corsMiddleware adds CORS headers using the configured allowed origins.
// The same origin list gates websocket upgrades.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
