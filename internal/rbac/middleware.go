package rbac

import (
	"log/slog"
	"net/http"

	"github.com/aegis-iam/aegis-iam/internal/shared"
)

// Middleware wires authorization checks into HTTP handlers. Decisions
// come from the Voter; the principal is whatever the authentication
// layer put into the request context.
type Middleware struct {
	Voter  *Voter
	Logger *slog.Logger
	// Observe, when set, receives the outcome of every vote.
	Observe func(decision string)
}

func (m Middleware) observe(d Decision) {
	if m.Observe != nil {
		m.Observe(d.String())
	}
}

// Require ensures the current principal is granted the attribute. An
// abstaining vote (non-PERMISSION_ attribute) lets the request pass:
// the attribute is outside this module's scope and some other guard
// owns it.
func (m Middleware) Require(attribute string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := shared.PrincipalFromContext(r.Context())
			decision, err := m.Voter.Decide(r.Context(), attribute, principal)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization vote", slog.String("attribute", attribute), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			m.observe(decision)
			switch decision {
			case Denied:
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireAny ensures the principal is granted at least one attribute.
// Attributes the voter abstains on are skipped; when every attribute
// abstains the request passes.
func (m Middleware) RequireAny(attributes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := shared.PrincipalFromContext(r.Context())
			denied := false
			for _, attribute := range attributes {
				decision, err := m.Voter.Decide(r.Context(), attribute, principal)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("authorization vote", slog.String("attribute", attribute), slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				m.observe(decision)
				switch decision {
				case Granted:
					next.ServeHTTP(w, r)
					return
				case Denied:
					denied = true
				}
			}
			if denied {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
