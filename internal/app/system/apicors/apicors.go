// Package apicors provides CORS middleware for the bearer-token API.
//
// Tokens travel in the Authorization header, never in cookies, so
// credentials are not allowed and the wildcard origin is safe.
package apicors

import (
	"net/http"
	"strings"
)

const (
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowHeaders  = "Authorization, Content-Type, Accept, X-Filename"
	exposeHeaders = "Content-Disposition, Content-Length, X-Filename"
)

// Middleware returns CORS middleware for the API. With no origins, or with
// "*" among them, any origin is allowed; otherwise only the listed ones get
// CORS headers and the browser blocks the rest.
//
// Usage in routes.go:
//
//	r.Route("/api", func(r chi.Router) {
//	    r.Use(apicors.Middleware(appCfg.CORSOrigins...))
//	    r.Use(identity.Middleware(verifier, accounts, logger))
//	    ...
//	})
func Middleware(allowedOrigins ...string) func(http.Handler) http.Handler {
	any := len(allowedOrigins) == 0
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			any = true
		}
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if any {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); origin != "" {
				h.Add("Vary", "Origin")
				if _, ok := originSet[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
				}
			}
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			h.Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
