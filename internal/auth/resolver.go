package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/shared"
)

// Defaults for the legacy token cache.
const (
	DefaultLegacyCacheTTL  = 5 * time.Minute
	DefaultLegacyCacheSize = 1024
)

// ErrInvalidLegacyToken is returned for legacy cookies that fail verification.
var ErrInvalidLegacyToken = fmt.Errorf("auth: invalid legacy token: %w", shared.ErrNotAuthenticated)

// UserLoader loads accounts that are allowed to act on the site.
type UserLoader interface {
	ActiveUser(ctx context.Context, id int64) (*User, error)
}

// LegacyConfig describes the SSO cookie issued by the previous site.
// An empty CookieName or SigningKey disables legacy resolution.
type LegacyConfig struct {
	CookieName string
	SigningKey []byte
	CacheTTL   time.Duration
	CacheSize  int
}

func (c LegacyConfig) enabled() bool {
	return c.CookieName != "" && len(c.SigningKey) > 0
}

// legacyClockSkew tolerates drift between this host and the SSO issuer.
const legacyClockSkew = 30 * time.Second

type legacyClaims struct {
	ID int64 `json:"id"`
	jwt.RegisteredClaims
}

// Resolver implements rbac.SessionResolver. It reads the Redis session first
// and falls back to the legacy SSO cookie.
type Resolver struct {
	users  UserLoader
	legacy LegacyConfig
	cache  *expirable.LRU[string, rbac.Identity]
	group  singleflight.Group
	logger *slog.Logger
}

var _ rbac.SessionResolver = (*Resolver)(nil)

// NewResolver constructs a Resolver.
func NewResolver(users UserLoader, legacy LegacyConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if legacy.CacheTTL <= 0 {
		legacy.CacheTTL = DefaultLegacyCacheTTL
	}
	if legacy.CacheSize <= 0 {
		legacy.CacheSize = DefaultLegacyCacheSize
	}
	return &Resolver{
		users:  users,
		legacy: legacy,
		cache:  expirable.NewLRU[string, rbac.Identity](legacy.CacheSize, nil, legacy.CacheTTL),
		logger: logger,
	}
}

// Resolve returns the signed-in identity or an error wrapping
// shared.ErrNotAuthenticated.
func (r *Resolver) Resolve(req *http.Request) (rbac.Identity, error) {
	ctx := req.Context()
	if id, ok := shared.SessionFromContext(ctx).UserID(); ok {
		user, err := r.users.ActiveUser(ctx, id)
		if err == nil {
			return user.Identity(SourceSession), nil
		}
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			return rbac.Identity{}, err
		}
	}

	identity, ok, err := r.resolveLegacy(req)
	if err != nil || ok {
		return identity, err
	}
	return rbac.Identity{}, fmt.Errorf("auth: no session: %w", shared.ErrNotAuthenticated)
}

// CachedTokens reports how many legacy tokens are currently cached.
func (r *Resolver) CachedTokens() int {
	return r.cache.Len()
}

func (r *Resolver) resolveLegacy(req *http.Request) (rbac.Identity, bool, error) {
	if !r.legacy.enabled() {
		return rbac.Identity{}, false, nil
	}
	cookie, err := req.Cookie(r.legacy.CookieName)
	if err != nil || cookie.Value == "" {
		return rbac.Identity{}, false, nil
	}
	token := cookie.Value
	if identity, ok := r.cache.Get(token); ok {
		return identity, true, nil
	}

	ctx := context.WithoutCancel(req.Context())
	v, err, _ := r.group.Do(token, func() (any, error) {
		if identity, ok := r.cache.Get(token); ok {
			return identity, nil
		}
		userID, err := r.parseLegacy(token)
		if err != nil {
			return nil, err
		}
		user, err := r.users.ActiveUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		identity := user.Identity(SourceLegacy)
		r.cache.Add(token, identity)
		return identity, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			r.logger.Debug("auth: legacy cookie rejected", slog.Any("error", err))
			return rbac.Identity{}, false, nil
		}
		return rbac.Identity{}, false, err
	}
	return v.(rbac.Identity), true, nil
}

func (r *Resolver) parseLegacy(token string) (int64, error) {
	claims := &legacyClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.legacy.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(legacyClockSkew),
	)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidLegacyToken
	}
	if claims.ID <= 0 {
		return 0, fmt.Errorf("%w: missing id claim", ErrInvalidLegacyToken)
	}
	return claims.ID, nil
}
