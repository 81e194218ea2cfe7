package users

import (
	"context"
	"fmt"
	"time"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/httpx"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/shared"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", shared.ErrNotFound)
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", httpx.ErrDuplicate)
	// ErrSelfDelete prevents admins from deleting their own account.
	ErrSelfDelete = fmt.Errorf("users: cannot delete the signed-in account: %w", httpx.ErrValidation)
	// errInvalid wraps form validation failures.
	errInvalid = fmt.Errorf("users: %w", httpx.ErrValidation)
)

// User represents a member account for management.
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Input carries create and update form values.
type Input struct {
	Email    string `validate:"required,email,max=254"`
	Name     string `validate:"required,max=120"`
	Password string `validate:"omitempty,min=8,max=72"`
	IsActive bool
}

// ListFilter narrows the user listing.
type ListFilter struct {
	Query   string
	Page    int
	PerPage int
}

// Page is one page of the user listing.
type Page struct {
	Users      []User
	Pagination shared.Pagination
	Query      string
	Errors     map[string]string
}

// Detail is a user together with their role memberships.
type Detail struct {
	User User
	// Roles the user belongs to.
	Roles []rbac.Role
	// Available lists roles the user could still join.
	Available []rbac.Role
	// Permissions is the sorted union granted by Roles.
	Permissions []string
}

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	CountUsers(ctx context.Context, query string) (int, error)
	ListUsers(ctx context.Context, query string, limit, offset int) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, in Input, passwordHash string) (User, error)
	// UpdateUser writes profile fields and, when passwordHash is not empty,
	// the new hash in the same statement.
	UpdateUser(ctx context.Context, id int64, in Input, passwordHash string) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// RoleAssigner is the slice of rbac.Service the user screens need.
type RoleAssigner interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	UserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
	EffectivePermissions(ctx context.Context, userID int64) (permissions.Set, error)
	AddMember(ctx context.Context, actorID, roleID, userID int64) error
	RemoveMember(ctx context.Context, actorID, roleID, userID int64) error
}
