package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// apiKeyAuth accepts the x-api-key header or an apiKey/apikey/api_key query parameter.
// With no keys configured every request passes.
func apiKeyAuth(keys []string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 || keyAllowed(keys, providedKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			log.Warnw("Missing or invalid API key.", "path", r.URL.Path, "ip", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		})
	}
}

func providedKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("x-api-key")); k != "" {
		return k
	}
	q := r.URL.Query()
	for _, name := range []string{"apiKey", "apikey", "api_key"} {
		if k := strings.TrimSpace(q.Get(name)); k != "" {
			return k
		}
	}
	return ""
}

func keyAllowed(keys []string, provided string) bool {
	if provided == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(provided)) == 1 {
			return true
		}
	}
	return false
}

// corsHandler lets any browser origin reach the API with the verbs and headers it uses.
func corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool { return origin != "" },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:  []string{"Content-Type", "X-Api-Key"},
		MaxAge:          300,
	})
}

func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debugw("HTTP request.",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
