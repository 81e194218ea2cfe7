package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/roles"
	"github.com/stvsoc/internal-site/internal/users"
)

// AdminRoleName is the role created for the first administrator.
const AdminRoleName = "Administrators"

// RoleAdmin is the slice of rbac.Service the seeder needs.
type RoleAdmin interface {
	SyncCatalog(ctx context.Context) (int, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	CreateRole(ctx context.Context, actorID int64, name, description string) (rbac.Role, error)
	SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error
	AddMember(ctx context.Context, actorID, roleID, userID int64) error
}

// AccountCreator creates user accounts.
type AccountCreator interface {
	Create(ctx context.Context, actorID int64, in users.Input) (users.User, error)
}

// SeedCLI bootstraps an empty database with the permission catalog and one
// administrator holding SuperUser. It is safe to run repeatedly.
type SeedCLI struct {
	Roles     RoleAdmin
	Accounts  AccountCreator
	Directory roles.Directory
}

// SeedInput names the first administrator.
type SeedInput struct {
	Email    string
	Name     string
	Password string
}

// SeedResult reports what the seeder did.
type SeedResult struct {
	Permissions int
	RoleID      int64
	UserID      int64
	CreatedUser bool
}

// Run syncs the catalog, ensures the admin role and adds the account to it.
func (c *SeedCLI) Run(ctx context.Context, in SeedInput) (SeedResult, error) {
	if c == nil || c.Roles == nil || c.Accounts == nil || c.Directory == nil {
		return SeedResult{}, errors.New("seed cli: not configured")
	}
	var res SeedResult
	n, err := c.Roles.SyncCatalog(ctx)
	if err != nil {
		return res, err
	}
	res.Permissions = n

	role, err := c.adminRole(ctx)
	if err != nil {
		return res, err
	}
	res.RoleID = role.ID
	if err := c.Roles.SetRolePermissions(ctx, 0, role.ID, []string{string(permissions.SuperUser)}); err != nil {
		return res, fmt.Errorf("seed cli: grant superuser: %w", err)
	}

	userID, err := c.Directory.UserIDByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, roles.ErrUnknownMember):
		user, err := c.Accounts.Create(ctx, 0, users.Input{Email: in.Email, Name: in.Name, Password: in.Password, IsActive: true})
		if err != nil {
			return res, fmt.Errorf("seed cli: create admin: %w", err)
		}
		userID = user.ID
		res.CreatedUser = true
	case err != nil:
		return res, err
	}
	res.UserID = userID
	if err := c.Roles.AddMember(ctx, 0, role.ID, userID); err != nil {
		return res, fmt.Errorf("seed cli: add admin to role: %w", err)
	}
	return res, nil
}

func (c *SeedCLI) adminRole(ctx context.Context) (rbac.Role, error) {
	existing, err := c.Roles.ListRoles(ctx)
	if err != nil {
		return rbac.Role{}, err
	}
	for _, role := range existing {
		if strings.EqualFold(role.Name, AdminRoleName) {
			return role, nil
		}
	}
	return c.Roles.CreateRole(ctx, 0, AdminRoleName, "Full access to the site")
}
