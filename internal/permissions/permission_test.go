package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermissionMembership(t *testing.T) {
	catalog := MustCatalog()
	granted := NewSet(CalendarAdmin, AdminUsers)

	for _, def := range catalog.Definitions() {
		want := granted.Contains(def.Name)
		assert.Equal(t, want, HasPermission(granted, def.Name), "permission %s", def.Name)
	}
}

func TestHasPermissionEmptyRequirementFailsClosed(t *testing.T) {
	assert.False(t, HasPermission(NewSet(AdminUsers)))
	assert.False(t, HasPermission(NewSet(SuperUser)))
	assert.False(t, HasPermission(nil))
}

func TestHasPermissionIsOrderIndependentOR(t *testing.T) {
	granted := NewSet(CalendarAdmin)

	assert.True(t, HasPermission(granted, CalendarAdmin, AdminRoles))
	assert.True(t, HasPermission(granted, AdminRoles, CalendarAdmin))
	assert.False(t, HasPermission(granted, AdminRoles, AdminUsers))
	assert.False(t, HasPermission(granted, AdminUsers, AdminRoles))
}

func TestUnionOfRoles(t *testing.T) {
	r1 := NewSet(CalendarAdmin)
	r2 := NewSet(AdminUsers)

	effective := r1.Union(r2)

	assert.Equal(t, []string{"Admin.Users", "Calendar.Admin"}, effective.Names())
	assert.False(t, HasPermission(effective, AdminRoles))
	assert.True(t, HasPermission(effective, AdminUsers))
}

func TestSuperUserPassesEverything(t *testing.T) {
	catalog := MustCatalog(Definition{Name: "Content.Edit"})
	granted := NewSet(SuperUser)

	for _, def := range catalog.Definitions() {
		assert.True(t, HasPermission(granted, def.Name), "permission %s", def.Name)
	}
	assert.True(t, HasPermission(granted, Permission("Not.In.Catalog")))
}

func TestNilSetDenies(t *testing.T) {
	var granted Set
	assert.False(t, granted.Has(AdminUsers))
	assert.False(t, granted.IsSuperUser())
	assert.Empty(t, granted.Names())
}

func TestCatalogParse(t *testing.T) {
	catalog := MustCatalog()

	p, err := catalog.Parse(" Admin.Roles ")
	require.NoError(t, err)
	assert.Equal(t, AdminRoles, p)

	_, err = catalog.Parse("admin.roles")
	assert.ErrorIs(t, err, ErrUnknownPermission)

	_, err = catalog.Parse("")
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestCatalogParseAllDeduplicates(t *testing.T) {
	catalog := MustCatalog()

	perms, err := catalog.ParseAll([]string{"Admin.Users", "Calendar.Admin", "Admin.Users"})
	require.NoError(t, err)
	assert.Equal(t, []Permission{AdminUsers, CalendarAdmin}, perms)

	_, err = catalog.ParseAll([]string{"Admin.Users", "Bogus"})
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestCatalogExtensionValidation(t *testing.T) {
	_, err := NewCatalog(Definition{Name: "content.edit"})
	assert.Error(t, err)

	_, err = NewCatalog(Definition{Name: "Admin.Users"})
	assert.Error(t, err)

	catalog, err := NewCatalog(Definition{Name: "Content.Edit", Description: "Edit content"})
	require.NoError(t, err)
	assert.True(t, catalog.Contains("Content.Edit"))
	assert.Equal(t, "Edit content", catalog.Describe("Content.Edit"))
}
