package roles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/view"
)

type signedIn struct{}

func (signedIn) Resolve(*http.Request) (rbac.Identity, error) {
	return rbac.Identity{UserID: 1, Name: "Admin", Source: "session"}, nil
}

type fixedSource struct{ set permissions.Set }

func (s fixedSource) EffectivePermissions(context.Context, int64) (permissions.Set, error) {
	return s.set, nil
}

func newTestRouter(t *testing.T, f fixture, perms ...permissions.Permission) http.Handler {
	t.Helper()
	templates, err := view.NewEngine(f.rbac.Catalog())
	require.NoError(t, err)
	mw := rbac.Middleware{Guard: rbac.NewGuard(signedIn{}, fixedSource{permissions.NewSet(perms...)}, nil, nil)}
	h := NewHandler(nil, f.svc, templates, nil, mw)
	r := chi.NewRouter()
	r.Route("/roles", h.MountRoutes)
	return r
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestRolesRequireAdminRoles(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, permissions.AdminUsers, permissions.AdminAccess)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, postForm("/roles", url.Values{"name": {"Sneaky"}}))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	roles, err := f.svc.ListRoles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestRolesSuperUserCreates(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, permissions.SuperUser)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postForm("/roles", url.Values{"name": {" Producers "}, "description": {"Runs shows"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	list, err := f.svc.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Producers", list[0].Name)
	assert.Equal(t, "/roles/"+strconv.FormatInt(list[0].ID, 10), rr.Header().Get("Location"))
}

func TestRolesDuplicateNameConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), 1, "Producers", "")
	require.NoError(t, err)
	router := newTestRouter(t, f, permissions.AdminRoles)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postForm("/roles", url.Values{"name": {"Producers"}}))
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "is already used by another role")
}

func TestRolesShowRendersCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.Create(ctx, 1, "Producers", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPermissions(ctx, 1, role.ID, []string{"Webcams.View"}))
	router := newTestRouter(t, f, permissions.AdminRoles)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles/"+strconv.FormatInt(role.ID, 10), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `value="Webcams.View" checked`)
	assert.Contains(t, body, `value="Quotes.Edit">`)
}

func TestRolesSetPermissionsUnknownKeepsGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.Create(ctx, 1, "Producers", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPermissions(ctx, 1, role.ID, []string{"Webcams.View"}))
	router := newTestRouter(t, f, permissions.AdminRoles)
	target := "/roles/" + strconv.FormatInt(role.ID, 10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postForm(target+"/permissions", url.Values{"permissions": {"Quotes.Edit", "Quotes.Delete"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, target, rr.Header().Get("Location"))

	detail, err := f.svc.Get(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, permissions.WebcamsView, detail.Permissions[0].Name)
}

func TestRolesAddMember(t *testing.T) {
	f := newFixture(t)
	role, err := f.svc.Create(context.Background(), 1, "Producers", "")
	require.NoError(t, err)
	router := newTestRouter(t, f, permissions.AdminRoles)
	target := "/roles/" + strconv.FormatInt(role.ID, 10) + "/members"

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postForm(target, url.Values{"email": {"carol@stv.example"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, 1, f.store.MembershipCount())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, postForm(target, url.Values{"email": {"ghost@stv.example"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, 1, f.store.MembershipCount())
}

func TestRolesUnknownRoleNotFound(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, permissions.AdminRoles)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles/999", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
