package rbac

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/httpx"
	"github.com/stvsoc/internal-site/internal/shared"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", shared.ErrNotFound)
	// ErrDuplicate indicates a unique name is already taken.
	ErrDuplicate = fmt.Errorf("rbac: name already taken: %w", httpx.ErrDuplicate)
	// ErrInvalidInput indicates a rejected form value.
	ErrInvalidInput = fmt.Errorf("rbac: %w", httpx.ErrValidation)
	// ErrEmptyRequirement is returned when a check is asked for no permissions.
	// It is a Forbidden condition so callers deny.
	ErrEmptyRequirement = fmt.Errorf("rbac: empty permission requirement: %w", shared.ErrForbidden)
)

// Role represents a named bundle of permissions.
type Role struct {
	ID              int64
	Name            string
	Description     string
	MemberCount     int
	PermissionCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PermissionRecord is a stored permission row.
type PermissionRecord struct {
	ID          int64
	Name        permissions.Permission
	Description string
	RoleCount   int
}

// Member is a user holding a role.
type Member struct {
	UserID    int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// RoleDetail bundles a role with its grants and members.
type RoleDetail struct {
	Role        Role
	Permissions []PermissionRecord
	Members     []Member
}

// Identity is the authenticated actor as resolved from the request.
type Identity struct {
	UserID int64
	Email  string
	Name   string
	// Source names the mechanism that resolved the identity.
	Source string
}

// Principal is an identity together with its effective permissions.
type Principal struct {
	Identity
	Permissions permissions.Set
}

// Can reports whether the principal passes the permission check.
func (p Principal) Can(required ...permissions.Permission) bool {
	return p.Permissions.Has(required...)
}

// SessionResolver returns the current user for a request. It must return an
// error wrapping shared.ErrNotAuthenticated when no user can be resolved.
type SessionResolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// PermissionSource returns the effective permission set of a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) (permissions.Set, error)
}

// Store is the persistence contract for roles, permissions and memberships.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	ListRolePermissions(ctx context.Context, roleID int64) ([]PermissionRecord, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, perms []permissions.Permission) error
	ListRoleMembers(ctx context.Context, roleID int64) ([]Member, error)
	AddRoleMember(ctx context.Context, roleID, userID int64) error
	RemoveRoleMember(ctx context.Context, roleID, userID int64) error
	ListUserRoles(ctx context.Context, userID int64) ([]Role, error)

	ListPermissions(ctx context.Context) ([]PermissionRecord, error)
	GetPermission(ctx context.Context, id int64) (PermissionRecord, error)
	CreatePermission(ctx context.Context, name permissions.Permission, description string) (PermissionRecord, error)
	EnsurePermission(ctx context.Context, name permissions.Permission, description string) (PermissionRecord, error)
	UpdatePermission(ctx context.Context, id int64, description string) (PermissionRecord, error)
	DeletePermission(ctx context.Context, id int64) error

	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal for the remainder of the request.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
