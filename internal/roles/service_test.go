package roles

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/rbac/rbactest"
	"github.com/stvsoc/internal-site/internal/shared"
)

type directory map[string]int64

func (d directory) UserIDByEmail(_ context.Context, email string) (int64, error) {
	id, ok := d[strings.ToLower(email)]
	if !ok {
		return 0, ErrUnknownMember
	}
	return id, nil
}

type fixture struct {
	svc   *Service
	rbac  *rbac.Service
	store *rbactest.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog, err := permissions.NewCatalog()
	require.NoError(t, err)
	store := rbactest.New()
	store.AddUser(7, "carol@stv.example", "Carol")
	rbacSvc := rbac.NewService(store, catalog, nil, nil)
	return fixture{
		svc:   NewService(rbacSvc, directory{"carol@stv.example": 7}),
		rbac:  rbacSvc,
		store: store,
	}
}

func TestGetGroupsCatalogByNamespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.Create(ctx, 1, "Producers", "Runs shows")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPermissions(ctx, 1, role.ID, []string{"Calendar.Show.Admin", "Quotes.Edit"}))

	detail, err := f.svc.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Producers", detail.Role.Name)

	var namespaces []string
	granted := map[permissions.Permission]bool{}
	for _, g := range detail.Groups {
		namespaces = append(namespaces, g.Namespace)
		for _, c := range g.Choices {
			granted[c.Definition.Name] = c.Granted
		}
	}
	assert.Equal(t, []string{"Admin", "Calendar", "Quotes", "SuperUser", "Videos", "Webcams"}, namespaces)
	assert.Len(t, granted, len(f.rbac.Catalog().Definitions()))
	assert.True(t, granted[permissions.CalendarShowAdmin])
	assert.True(t, granted[permissions.QuotesEdit])
	assert.False(t, granted[permissions.SuperUser])
}

func TestSetPermissionsRejectsUnknownName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.Create(ctx, 1, "Editors", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPermissions(ctx, 1, role.ID, []string{"Quotes.Edit"}))

	err = f.svc.SetPermissions(ctx, 1, role.ID, []string{"Webcams.View", "Quotes.Delete"})
	require.ErrorIs(t, err, permissions.ErrUnknownPermission)

	detail, err := f.svc.Get(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, permissions.QuotesEdit, detail.Permissions[0].Name)
}

func TestAddMemberByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.Create(ctx, 1, "Producers", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.AddMemberByEmail(ctx, 1, role.ID, "  carol@stv.example "))
	require.NoError(t, f.svc.AddMemberByEmail(ctx, 1, role.ID, "carol@stv.example"))
	assert.Equal(t, 1, f.store.MembershipCount())

	err = f.svc.AddMemberByEmail(ctx, 1, role.ID, "nobody@stv.example")
	assert.ErrorIs(t, err, ErrUnknownMember)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, f.svc.RemoveMember(ctx, 1, role.ID, 7))
	assert.Zero(t, f.store.MembershipCount())
}

func TestGetUnknownRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
