package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/httpx"
	"github.com/stvsoc/internal-site/internal/shared"
)

// DefaultLoginPath is where unauthenticated browsers are sent.
const DefaultLoginPath = "/auth/login"

// Middleware wires the Guard into chi route groups.
type Middleware struct {
	Guard  *Guard
	Logger *slog.Logger
	// LoginPath overrides DefaultLoginPath.
	LoginPath string
	// Forbidden renders the 403 page. A plain-text 403 is used when nil.
	Forbidden http.Handler
}

// RequireAny lets the request through when the user holds at least one of
// perms. The resolved Principal is stored in the request context.
func (m Middleware) RequireAny(perms ...permissions.Permission) func(http.Handler) http.Handler {
	if len(perms) == 0 && m.Logger != nil {
		m.Logger.Error("rbac: RequireAny mounted without permissions; every request will be denied")
	}
	return m.wrap(func(r *http.Request) (Principal, error) {
		return m.Guard.Require(r, perms...)
	})
}

// Authenticated only requires a resolvable user.
func (m Middleware) Authenticated() func(http.Handler) http.Handler {
	return m.wrap(m.Guard.Principal)
}

func (m Middleware) wrap(check func(*http.Request) (Principal, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := check(r)
			if err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.WantsJSON(r) {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			m.logError(r, err)
		}
		httpx.RespondError(w, err)
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
		http.Redirect(w, r, m.loginURL(r), http.StatusSeeOther)
	case errors.Is(err, shared.ErrForbidden):
		if m.Forbidden != nil {
			m.Forbidden.ServeHTTP(w, r)
			return
		}
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		m.logError(r, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (m Middleware) loginURL(r *http.Request) string {
	path := m.LoginPath
	if path == "" {
		path = DefaultLoginPath
	}
	if r.Method != http.MethodGet {
		return path
	}
	return path + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

func (m Middleware) logError(r *http.Request, err error) {
	if m.Logger != nil {
		m.Logger.Error("rbac: authorize request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}
