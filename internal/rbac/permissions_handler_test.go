package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/rbac/rbactest"
	"github.com/stvsoc/internal-site/internal/view"
)

func permissionsRouter(t *testing.T, svc *rbac.Service, resolver rbac.SessionResolver, source rbac.PermissionSource) http.Handler {
	t.Helper()
	templates, err := view.NewEngine(svc.Catalog())
	require.NoError(t, err)
	mw := rbac.Middleware{Guard: rbac.NewGuard(resolver, source, nil, nil)}
	h := rbac.NewPermissionsHandler(nil, svc, templates, nil, mw)
	r := chi.NewRouter()
	r.Route("/permissions", h.MountRoutes)
	r.Route("/api/session", h.MountSessionAPI)
	return r
}

func post(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestPermissionsScreenRequiresAdminPermissions(t *testing.T) {
	svc, _, _ := newService(t)
	router := permissionsRouter(t, svc, signedIn(1), stubSource{1: permissions.NewSet(permissions.AdminRoles)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestPermissionsListShowsStored(t *testing.T) {
	svc, _, _ := newService(t)
	router := permissionsRouter(t, svc, signedIn(1), stubSource{1: permissions.NewSet(permissions.AdminPermissions)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/permissions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "<code>Calendar.Show.Admin</code>")
	assert.NotContains(t, body, "Add from catalog")
}

func TestPermissionsCreateValidatesAgainstCatalog(t *testing.T) {
	svc := rbac.NewService(rbactest.New(), permissions.MustCatalog(), nil, nil)
	router := permissionsRouter(t, svc, signedIn(1), stubSource{1: permissions.NewSet(permissions.SuperUser)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, post("/permissions", url.Values{"name": {"Quotes.Delete"}}))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Not a known permission name")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, post("/permissions", url.Values{"name": {"Quotes.Edit"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/permissions", rr.Header().Get("Location"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, post("/permissions", url.Values{"name": {"Quotes.Edit"}}))
	assert.Equal(t, http.StatusConflict, rr.Code)

	stored, err := svc.ListPermissions(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Add and edit quotes board entries", stored[0].Description)
}

func TestPermissionsSyncCatalog(t *testing.T) {
	svc := rbac.NewService(rbactest.New(), permissions.MustCatalog(), nil, nil)
	router := permissionsRouter(t, svc, signedIn(1), stubSource{1: permissions.NewSet(permissions.AdminPermissions)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, post("/permissions/sync", url.Values{}))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	stored, err := svc.ListPermissions(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, len(svc.Catalog().Definitions()))
}

func TestPermissionsDeleteUnknownIsNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	router := permissionsRouter(t, svc, signedIn(1), stubSource{1: permissions.NewSet(permissions.AdminPermissions)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, post("/permissions/9999/delete", url.Values{}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionPermissionsAPI(t *testing.T) {
	svc, _, _ := newService(t)
	router := permissionsRouter(t, svc, signedIn(4), stubSource{4: permissions.NewSet(permissions.WebcamsView, permissions.QuotesEdit)})

	req := httptest.NewRequest(http.MethodGet, "/api/session/permissions", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var body struct {
		UserID      int64    `json:"user_id"`
		SuperUser   bool     `json:"super_user"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.UserID)
	assert.False(t, body.SuperUser)
	assert.Equal(t, []string{"Quotes.Edit", "Webcams.View"}, body.Permissions)
}

func TestSessionPermissionsAPIAnonymous(t *testing.T) {
	svc, _, _ := newService(t)
	router := permissionsRouter(t, svc, anonymous(), stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/session/permissions", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
