// SPDX-License-Identifier: LGPL-3.0-or-later

// Package httpmw holds the small set of HTTP middleware shared by all
// four camofleet services: request logging (generalizing the teacher's
// daemon/api loggingMiddleware to a chi-compatible form) and CORS
// (spec §6's per-service CORS_ORIGINS setting; no CORS library appears
// anywhere in the reference corpus, so this is a deliberate, narrowly
// scoped stdlib implementation).
package httpmw

import (
	"net/http"
	"strings"
	"time"

	"camofleet/internal/config"
	"camofleet/internal/logger"
)

// Logging logs method, path, status, and duration at debug level, the
// same fields as the teacher's loggingMiddleware.
func Logging(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// CORS applies spec §6's origin/credential rule: ["*"] (the default)
// reflects any origin without Access-Control-Allow-Credentials; any other
// configured list only reflects a matching origin and allows credentials.
func CORS(base config.Base) func(http.Handler) http.Handler {
	wildcard := len(base.CORSOrigins) == 1 && base.CORSOrigins[0] == "*"
	allowed := make(map[string]struct{}, len(base.CORSOrigins))
	for _, o := range base.CORSOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Authorization"}, ", "))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
