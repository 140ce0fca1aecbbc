package gatehttp

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// originAllowed reports whether v starts with one of the allowed prefixes.
// Referers carry a path, so prefix matching covers both headers.
func originAllowed(allowed []string, v string) bool {
	if v == "" {
		return false
	}
	for _, a := range allowed {
		if a != "" && strings.HasPrefix(v, a) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and sets the allow headers for origins
// matching one of the allowed prefixes.
func CORS(allowed []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return originAllowed(allowed, origin)
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}
