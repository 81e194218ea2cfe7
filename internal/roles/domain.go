package roles

import (
	"context"
	"fmt"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/shared"
)

// ErrUnknownMember is returned when a member email matches no account.
var ErrUnknownMember = fmt.Errorf("roles: no account with that email: %w", shared.ErrNotFound)

// PermissionChoice is one checkbox on the role permission form.
type PermissionChoice struct {
	Definition permissions.Definition
	Granted    bool
}

// PermissionGroup gathers choices sharing the first name segment.
type PermissionGroup struct {
	Namespace string
	Choices   []PermissionChoice
}

// Detail is the role page view model.
type Detail struct {
	rbac.RoleDetail
	Groups []PermissionGroup
}

// Directory finds accounts for membership forms.
type Directory interface {
	UserIDByEmail(ctx context.Context, email string) (int64, error)
}

// RoleService is the slice of rbac.Service used by the role screens.
type RoleService interface {
	Catalog() *permissions.Catalog
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error)
	CreateRole(ctx context.Context, actorID int64, name, description string) (rbac.Role, error)
	UpdateRole(ctx context.Context, actorID, id int64, name, description string) (rbac.Role, error)
	DeleteRole(ctx context.Context, actorID, id int64) error
	SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error
	AddMember(ctx context.Context, actorID, roleID, userID int64) error
	RemoveMember(ctx context.Context, actorID, roleID, userID int64) error
}

var _ RoleService = (*rbac.Service)(nil)
