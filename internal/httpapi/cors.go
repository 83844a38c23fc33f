package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"salesbot/internal/config"
)

// The status API is read-only, so only GET and preflight are advertised.
const (
	corsAllowHeaders = "Content-Type, Authorization"
	corsAllowMethods = "GET, OPTIONS"
	corsMaxAge       = 600
)

func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := allowedOrigin(cfg.AllowOrigins, r.Header.Get("Origin")); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Add("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(allow []string, origin string) string {
	for _, o := range allow {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
