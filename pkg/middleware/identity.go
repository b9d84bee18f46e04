package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/users"
)

// DefaultIdentityHeader is set by the authenticating proxy in front of the service
const DefaultIdentityHeader = "X-Authenticated-Email"

// IdentityConfig configures Identity
type IdentityConfig struct {
	// Header holds the caller's verified email. Defaults to DefaultIdentityHeader.
	Header string
	// Required rejects requests without an identity with 401
	Required bool
	// Exempt paths pass through without an identity even when Required is set
	Exempt []string
}

// Identity copies the authenticated caller's email from the proxy header
// into the request context. Emails are normalized before they are stored.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	header := cfg.Header
	if header == "" {
		header = DefaultIdentityHeader
	}
	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, p := range cfg.Exempt {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := users.NormalizeEmail(r.Header.Get(header))
			if email == "" {
				if _, ok := exempt[r.URL.Path]; cfg.Required && !ok {
					writeJSONError(w, http.StatusUnauthorized, "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextkeys.WithActorEmail(r.Context(), email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
