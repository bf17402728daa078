package httpserver

import (
	"net/http"
	"strings"

	"github.com/anirudhms/chatrelay/internal/origin"
)

// originMiddleware enforces the browser-origin allowlist on every route,
// including the WebSocket endpoint, and answers CORS preflight. Requests
// without an Origin header pass through untouched.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, originHost, ok := origin.Normalize(originHeader)
			if !ok || !origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins) {
				s.log.Warn("origin rejected", "origin", originHeader, "path", r.URL.Path)
				WriteError(w, http.StatusForbidden, "forbidden_origin", "origin not allowed")
				return
			}

			// Same-origin requests don't need CORS headers, but sending them is
			// harmless and lets the frontend run on a separate origin in dev.
			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
				if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
