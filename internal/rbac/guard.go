package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/shared"
)

// Decision outcomes reported to the DecisionObserver.
const (
	OutcomeAllowed         = "allowed"
	OutcomeForbidden       = "forbidden"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeMalformed       = "malformed"
	OutcomeError           = "error"
)

// DecisionObserver receives one outcome per authorization decision.
type DecisionObserver interface {
	ObserveDecision(outcome string)
}

// Guard is the server-side assertion. It is the security boundary; template
// gates only hide UI.
type Guard struct {
	resolver SessionResolver
	source   PermissionSource
	observer DecisionObserver
	logger   *slog.Logger
}

// NewGuard constructs a Guard. observer may be nil.
func NewGuard(resolver SessionResolver, source PermissionSource, observer DecisionObserver, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, source: source, observer: observer, logger: logger}
}

// Principal resolves the current user and their effective permissions.
func (g *Guard) Principal(r *http.Request) (Principal, error) {
	identity, err := g.resolver.Resolve(r)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("rbac: resolve session: %w", err)
	}
	perms, err := g.source.EffectivePermissions(r.Context(), identity.UserID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Identity: identity, Permissions: perms}, nil
}

// Require asserts that the current user holds at least one of the required
// permissions. It fails with shared.ErrNotAuthenticated when no user can be
// resolved and with shared.ErrForbidden when the check fails.
func (g *Guard) Require(r *http.Request, required ...permissions.Permission) (Principal, error) {
	if len(required) == 0 {
		g.observe(OutcomeMalformed)
		g.logger.Error("rbac: permission check without requirement", slog.String("path", r.URL.Path))
		return Principal{}, ErrEmptyRequirement
	}
	principal, err := g.Principal(r)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			g.observe(OutcomeUnauthenticated)
		} else {
			g.observe(OutcomeError)
		}
		return Principal{}, err
	}
	if !principal.Can(required...) {
		g.observe(OutcomeForbidden)
		return principal, fmt.Errorf("rbac: user %d lacks %v: %w", principal.UserID, required, shared.ErrForbidden)
	}
	g.observe(OutcomeAllowed)
	return principal, nil
}

func (g *Guard) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveDecision(outcome)
	}
}
