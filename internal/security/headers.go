package security

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

const defaultHSTSMaxAge = 365 * 24 * 60 * 60

// Headers adds browser hardening headers to every response.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// NoStore marks responses uncacheable; checkout and payment payloads
	// carry contact details.
	NoStore bool
}

func (h Headers) static() http.Header {
	out := http.Header{
		"X-Content-Type-Options": {"nosniff"},
		"X-Frame-Options":        {"DENY"},
		"Referrer-Policy":        {"no-referrer"},
		"Permissions-Policy":     {"camera=(), geolocation=(), microphone=(), payment=()"},
	}
	if h.NoStore {
		out.Set("Cache-Control", "no-store")
	}
	return out
}

func (h Headers) hsts() string {
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	v := fmt.Sprintf("max-age=%d", maxAge)
	if h.HSTSIncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

// Middleware applies the headers. HSTS is only sent on requests that arrived
// over TLS, directly or per X-Forwarded-Proto from the edge proxy.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	fixed := h.static()
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dst := w.Header()
		for k, v := range fixed {
			dst[k] = v
		}
		if h.EnableHSTS && (r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")) {
			dst.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS allows the listed storefront origins. A "*" entry allows any origin,
// in which case credentials are not allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	wildcard := slices.ContainsFunc(origins, func(o string) bool { return strings.TrimSpace(o) == "*" })
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID", "X-User-ID"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-Request-ID", "X-Total-Count"},

		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
