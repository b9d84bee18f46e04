package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// RequireResource only lets requests through when the actor in the request
// context is authorized for resource. Every check is audited by Authorize.
func RequireResource(access *AccessControl, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}

			decision, err := access.Authorize(r.Context(), actor, resource, AccessContext{})
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !decision.Authorized {
				respondError(w, http.StatusForbidden, decision.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// EnsureRegistered creates a user record the first time an actor is seen.
// Users whose email domain is in approvedDomains start as active users;
// everyone else starts as a pending guest. Registration failures are logged
// and the request continues.
func EnsureRegistered(access *AccessControl, approvedDomains []string) func(http.Handler) http.Handler {
	approved := make(map[string]struct{}, len(approvedDomains))
	for _, d := range approvedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			approved[d] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := contextkeys.GetActorEmail(r.Context())
			if actor == "" {
				next.ServeHTTP(w, r)
				return
			}

			domain := emailDomain(actor)
			_, ok := approved[domain]
			if _, err := access.RegisterUser(r.Context(), actor, SignupContext{Domain: domain, ApprovedDomain: ok}); err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("user registration failed")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
