package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stvsoc/internal-site/internal/auth"
	"github.com/stvsoc/internal-site/internal/shared"
)

var signingKey = []byte("0123456789abcdef0123456789abcdef")

const legacyCookie = "stv_legacy_token"

type countingLoader struct {
	users map[int64]*auth.User
	calls atomic.Int32
	err   error
}

func (l *countingLoader) ActiveUser(_ context.Context, id int64) (*auth.User, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	u, ok := l.users[id]
	if !ok || !u.IsActive {
		return nil, shared.ErrNotAuthenticated
	}
	return u, nil
}

func legacyToken(t *testing.T, method jwt.SigningMethod, key any, id int64, exp time.Time) string {
	t.Helper()
	return signClaims(t, method, key, jwt.MapClaims{"id": id, "exp": exp.Unix()})
}

func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func legacyRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: legacyCookie, Value: token})
	return req
}

func newResolver(loader auth.UserLoader, ttl time.Duration) *auth.Resolver {
	return auth.NewResolver(loader, auth.LegacyConfig{CookieName: legacyCookie, SigningKey: signingKey, CacheTTL: ttl, CacheSize: 8}, nil)
}

func TestResolveSessionUser(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "s", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	sess.SetUser(7)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	loader := &countingLoader{users: map[int64]*auth.User{7: {ID: 7, Email: "bob@stv.example", Name: "Bob", IsActive: true}}}
	identity, err := newResolver(loader, time.Minute).Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.UserID)
	assert.Equal(t, auth.SourceSession, identity.Source)
}

func TestResolveNoSessionIsNotAuthenticated(t *testing.T) {
	_, err := newResolver(&countingLoader{}, time.Minute).Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestResolveLegacyTokenIsCached(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, Name: "Carol", IsActive: true}}}
	resolver := newResolver(loader, time.Minute)
	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(time.Hour))

	for i := 0; i < 3; i++ {
		identity, err := resolver.Resolve(legacyRequest(token))
		require.NoError(t, err)
		assert.Equal(t, int64(3), identity.UserID)
		assert.Equal(t, auth.SourceLegacy, identity.Source)
	}
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 1, resolver.CachedTokens())
}

func TestResolveLegacyCacheExpires(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, IsActive: true}}}
	resolver := newResolver(loader, 20*time.Millisecond)
	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(time.Hour))

	_, err := resolver.Resolve(legacyRequest(token))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return resolver.CachedTokens() == 0 }, time.Second, 10*time.Millisecond)
	_, err = resolver.Resolve(legacyRequest(token))
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestResolveLegacyConcurrentMissLoadsOnce(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, IsActive: true}}}
	resolver := newResolver(loader, time.Minute)
	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Resolve(legacyRequest(token))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, loader.calls.Load(), int32(16))
	assert.Equal(t, 1, resolver.CachedTokens())
}

func TestResolveLegacyRejectsBadTokens(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, IsActive: true}, 4: {ID: 4, IsActive: false}}}
	resolver := newResolver(loader, time.Minute)

	cases := map[string]string{
		"wrong key":     legacyToken(t, jwt.SigningMethodHS256, []byte("another-key-another-key-another!!"), 3, time.Now().Add(time.Hour)),
		"wrong method":  legacyToken(t, jwt.SigningMethodHS512, signingKey, 3, time.Now().Add(time.Hour)),
		"expired":       legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(-time.Minute)),
		"missing id":    legacyToken(t, jwt.SigningMethodHS256, signingKey, 0, time.Now().Add(time.Hour)),
		"no expiry":     signClaims(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{"id": 3}),
		"disabled user": legacyToken(t, jwt.SigningMethodHS256, signingKey, 4, time.Now().Add(time.Hour)),
		"garbage":       "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolver.Resolve(legacyRequest(token))
			assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
		})
	}
	assert.Zero(t, resolver.CachedTokens())
}

func TestResolveLegacyAllowsSmallClockSkew(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, IsActive: true}}}
	resolver := newResolver(loader, time.Minute)

	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(-5*time.Second))
	identity, err := resolver.Resolve(legacyRequest(token))
	require.NoError(t, err)
	assert.Equal(t, int64(3), identity.UserID)
}

func TestResolveLegacyStoreErrorIsNotAuthentication(t *testing.T) {
	boom := errors.New("db down")
	resolver := newResolver(&countingLoader{err: boom}, time.Minute)
	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(time.Hour))

	_, err := resolver.Resolve(legacyRequest(token))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestResolveLegacyDisabledWithoutKey(t *testing.T) {
	loader := &countingLoader{users: map[int64]*auth.User{3: {ID: 3, IsActive: true}}}
	resolver := auth.NewResolver(loader, auth.LegacyConfig{CookieName: legacyCookie}, nil)
	token := legacyToken(t, jwt.SigningMethodHS256, signingKey, 3, time.Now().Add(time.Hour))

	_, err := resolver.Resolve(legacyRequest(token))
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.Zero(t, loader.calls.Load())
}
