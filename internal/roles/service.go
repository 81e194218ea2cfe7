package roles

import (
	"context"
	"strings"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
)

// Service handles role screen logic on top of rbac.Service.
type Service struct {
	rbac      RoleService
	directory Directory
}

// NewService builds Service instance.
func NewService(rbac RoleService, directory Directory) *Service {
	return &Service{rbac: rbac, directory: directory}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.rbac.ListRoles(ctx)
}

// Get returns the role with its catalog checkboxes.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	role, err := s.rbac.GetRole(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	granted := make(map[permissions.Permission]struct{}, len(role.Permissions))
	for _, p := range role.Permissions {
		granted[p.Name] = struct{}{}
	}
	return Detail{RoleDetail: role, Groups: groupCatalog(s.rbac.Catalog(), granted)}, nil
}

// Create inserts a role.
func (s *Service) Create(ctx context.Context, actorID int64, name, description string) (rbac.Role, error) {
	return s.rbac.CreateRole(ctx, actorID, name, description)
}

// Update renames a role.
func (s *Service) Update(ctx context.Context, actorID, id int64, name, description string) (rbac.Role, error) {
	return s.rbac.UpdateRole(ctx, actorID, id, name, description)
}

// Delete removes a role with its grants and memberships.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	return s.rbac.DeleteRole(ctx, actorID, id)
}

// SetPermissions replaces the role's grants with names.
func (s *Service) SetPermissions(ctx context.Context, actorID, id int64, names []string) error {
	return s.rbac.SetRolePermissions(ctx, actorID, id, names)
}

// AddMemberByEmail adds the account registered under email to the role.
func (s *Service) AddMemberByEmail(ctx context.Context, actorID, roleID int64, email string) error {
	userID, err := s.directory.UserIDByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	return s.rbac.AddMember(ctx, actorID, roleID, userID)
}

// RemoveMember removes a user from the role.
func (s *Service) RemoveMember(ctx context.Context, actorID, roleID, userID int64) error {
	return s.rbac.RemoveMember(ctx, actorID, roleID, userID)
}

func groupCatalog(catalog *permissions.Catalog, granted map[permissions.Permission]struct{}) []PermissionGroup {
	var groups []PermissionGroup
	index := map[string]int{}
	for _, def := range catalog.Definitions() {
		ns, _, _ := strings.Cut(string(def.Name), ".")
		i, ok := index[ns]
		if !ok {
			i = len(groups)
			index[ns] = i
			groups = append(groups, PermissionGroup{Namespace: ns})
		}
		_, has := granted[def.Name]
		groups[i].Choices = append(groups[i].Choices, PermissionChoice{Definition: def, Granted: has})
	}
	return groups
}
