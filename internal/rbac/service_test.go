package rbac_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/rbac/rbactest"
	"github.com/stvsoc/internal-site/internal/shared"
)

type auditSpy struct {
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newService(t *testing.T) (*rbac.Service, *rbactest.Store, *auditSpy) {
	t.Helper()
	store := rbactest.New()
	audit := &auditSpy{}
	svc := rbac.NewService(store, permissions.MustCatalog(), audit, nil)
	_, err := svc.SyncCatalog(context.Background())
	require.NoError(t, err)
	return svc, store, audit
}

func TestEffectivePermissionsFollowMembership(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	store.AddUser(7, "alice@example.org", "Alice")

	editors, err := svc.CreateRole(ctx, 1, "Editors", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, 1, editors.ID, []string{"Quotes.Edit"}))

	set, err := svc.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	assert.False(t, set.Has(permissions.QuotesEdit))

	require.NoError(t, svc.AddMember(ctx, 1, editors.ID, 7))
	set, err = svc.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	assert.True(t, set.Has(permissions.QuotesEdit))

	require.NoError(t, svc.RemoveMember(ctx, 1, editors.ID, 7))
	set, err = svc.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	assert.False(t, set.Has(permissions.QuotesEdit))
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	store.AddUser(3, "bob@example.org", "Bob")

	calendar, err := svc.CreateRole(ctx, 1, "Calendar", "")
	require.NoError(t, err)
	webcams, err := svc.CreateRole(ctx, 1, "Webcams", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, 1, calendar.ID, []string{"Calendar.Member"}))
	require.NoError(t, svc.SetRolePermissions(ctx, 1, webcams.ID, []string{"Webcams.View", "Calendar.Member"}))
	require.NoError(t, svc.AddMember(ctx, 1, calendar.ID, 3))
	require.NoError(t, svc.AddMember(ctx, 1, webcams.ID, 3))

	set, err := svc.EffectivePermissions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Calendar.Member", "Webcams.View"}, set.Names())
	assert.False(t, set.Has(permissions.QuotesEdit))
}

func TestEffectivePermissionsDropsUnknownNames(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	role, err := svc.CreateRole(ctx, 1, "Legacy", "")
	require.NoError(t, err)
	store.Grant(role.ID, store.SetRawPermission("Quotes.Delete"))
	require.NoError(t, svc.AddMember(ctx, 1, role.ID, 9))

	set, err := svc.EffectivePermissions(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestSetRolePermissionsRejectsUnknown(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	role, err := svc.CreateRole(ctx, 1, "Editors", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, 1, role.ID, []string{"Quotes.Edit"}))

	err = svc.SetRolePermissions(ctx, 1, role.ID, []string{"Quotes.Edit", "Quotes.Delete"})
	require.ErrorIs(t, err, permissions.ErrUnknownPermission)

	detail, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, permissions.QuotesEdit, detail.Permissions[0].Name)
	assert.Equal(t, 1, store.GrantCount())
}

func TestSetRolePermissionsReplaces(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	role, err := svc.CreateRole(ctx, 1, "Video", "")
	require.NoError(t, err)

	require.NoError(t, svc.SetRolePermissions(ctx, 1, role.ID, []string{"Videos.View", "Videos.Manage"}))
	require.NoError(t, svc.SetRolePermissions(ctx, 1, role.ID, []string{"Videos.View"}))

	detail, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, permissions.VideosView, detail.Permissions[0].Name)
}

func TestDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	svc, store, audit := newService(t)
	role, err := svc.CreateRole(ctx, 1, "Social", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, 1, role.ID, []string{"Calendar.Social.Admin"}))
	require.NoError(t, svc.AddMember(ctx, 1, role.ID, 4))

	require.NoError(t, svc.DeleteRole(ctx, 1, role.ID))
	assert.Zero(t, store.MembershipCount())
	assert.Zero(t, store.GrantCount())

	_, err = svc.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, shared.AuditDelete, audit.logs[len(audit.logs)-1].Action)
}

func TestDeletePermissionRemovesGrants(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	role, err := svc.CreateRole(ctx, 1, "Quotes", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(ctx, 1, role.ID, []string{"Quotes.Edit"}))
	require.NoError(t, svc.AddMember(ctx, 1, role.ID, 5))

	perms, err := svc.ListPermissions(ctx)
	require.NoError(t, err)
	var quotes rbac.PermissionRecord
	for _, p := range perms {
		if p.Name == permissions.QuotesEdit {
			quotes = p
		}
	}
	require.Equal(t, 1, quotes.RoleCount)

	require.NoError(t, svc.DeletePermission(ctx, 1, quotes.ID))
	assert.Zero(t, store.GrantCount())
	set, err := svc.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	assert.False(t, set.Has(permissions.QuotesEdit))
}

func TestCreateRoleValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.CreateRole(ctx, 1, "   ", "")
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)

	_, err = svc.CreateRole(ctx, 1, "Editors", "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, 1, " Editors ", "")
	assert.ErrorIs(t, err, rbac.ErrDuplicate)

	role, err := svc.CreateRole(ctx, 1, "Caf\u00e9 Crew", "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, 1, "Cafe\u0301 Crew", "")
	assert.ErrorIs(t, err, rbac.ErrDuplicate)
	assert.Equal(t, "Caf\u00e9 Crew", role.Name)
}

func TestCreateRoleNameLengthCountsCharacters(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.CreateRole(ctx, 1, strings.Repeat("\u00e9", 64), "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, 1, strings.Repeat("\u00e8", 65), "")
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
}

func TestCreatePermissionMustBeCatalogued(t *testing.T) {
	ctx := context.Background()
	store := rbactest.New()
	svc := rbac.NewService(store, permissions.MustCatalog(), nil, nil)

	_, err := svc.CreatePermission(ctx, 1, "Quotes.Delete", "")
	assert.ErrorIs(t, err, permissions.ErrUnknownPermission)

	rec, err := svc.CreatePermission(ctx, 1, "Quotes.Edit", "")
	require.NoError(t, err)
	assert.Equal(t, "Add and edit quotes board entries", rec.Description)

	_, err = svc.CreatePermission(ctx, 1, "Quotes.Edit", "")
	assert.ErrorIs(t, err, rbac.ErrDuplicate)
}

func TestEffectivePermissionsStoreError(t *testing.T) {
	store := rbactest.New()
	store.FailWith = errors.New("connection reset")
	svc := rbac.NewService(store, permissions.MustCatalog(), nil, nil)

	_, err := svc.EffectivePermissions(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrForbidden)
}
