package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/shared"
)

const maxRoleNameLen = 64

// Service orchestrates RBAC operations.
type Service struct {
	store   Store
	catalog *permissions.Catalog
	audit   shared.AuditRecorder
	logger  *slog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(store Store, catalog *permissions.Catalog, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, catalog: catalog, audit: audit, logger: logger}
}

// Catalog exposes the permission catalog the service validates against.
func (s *Service) Catalog() *permissions.Catalog {
	return s.catalog
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role with its permissions and members.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	perms, err := s.store.ListRolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	members, err := s.store.ListRoleMembers(ctx, id)
	if err != nil {
		return RoleDetail{}, fmt.Errorf("rbac: list role members: %w", err)
	}
	return RoleDetail{Role: role, Permissions: perms, Members: members}, nil
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string) (Role, error) {
	name, err := normalizeRoleName(name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole renames or re-describes a role.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, name, description string) (Role, error) {
	name, err := normalizeRoleName(name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.store.UpdateRole(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditUpdate, "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// DeleteRole removes a role together with its memberships and grants.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, "role", id, nil)
	return nil
}

// SetRolePermissions replaces the permissions granted by a role. Every name
// must belong to the catalog.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error {
	perms, err := s.catalog.ParseAll(names)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := s.store.EnsurePermission(ctx, p, s.catalog.Describe(p)); err != nil {
			return fmt.Errorf("rbac: ensure permission %s: %w", p, err)
		}
	}
	if err := s.store.ReplaceRolePermissions(ctx, roleID, perms); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditGrant, "role", roleID, map[string]any{"permissions": names})
	return nil
}

// AddMember assigns a role to a user. Assigning twice is a no-op.
func (s *Service) AddMember(ctx context.Context, actorID, roleID, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if err := s.store.AddRoleMember(ctx, roleID, userID); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditGrant, "role_member", roleID, map[string]any{"user_id": userID})
	return nil
}

// RemoveMember removes a user from a role.
func (s *Service) RemoveMember(ctx context.Context, actorID, roleID, userID int64) error {
	if err := s.store.RemoveRoleMember(ctx, roleID, userID); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRevoke, "role_member", roleID, map[string]any{"user_id": userID})
	return nil
}

// UserRoles lists the roles a user belongs to.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.store.ListUserRoles(ctx, userID)
}

// ListPermissions returns stored permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]PermissionRecord, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermission fetches a stored permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (PermissionRecord, error) {
	return s.store.GetPermission(ctx, id)
}

// CreatePermission stores a catalog permission.
func (s *Service) CreatePermission(ctx context.Context, actorID int64, name, description string) (PermissionRecord, error) {
	p, err := s.catalog.Parse(name)
	if err != nil {
		return PermissionRecord{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = s.catalog.Describe(p)
	}
	rec, err := s.store.CreatePermission(ctx, p, description)
	if err != nil {
		return PermissionRecord{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, "permission", rec.ID, map[string]any{"name": string(p)})
	return rec, nil
}

// UpdatePermission edits the free-text description of a permission.
func (s *Service) UpdatePermission(ctx context.Context, actorID, id int64, description string) (PermissionRecord, error) {
	rec, err := s.store.UpdatePermission(ctx, id, strings.TrimSpace(description))
	if err != nil {
		return PermissionRecord{}, err
	}
	s.record(ctx, actorID, shared.AuditUpdate, "permission", id, nil)
	return rec, nil
}

// DeletePermission removes a permission and every grant of it.
func (s *Service) DeletePermission(ctx context.Context, actorID, id int64) error {
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, "permission", id, nil)
	return nil
}

// SyncCatalog makes sure every catalog permission has a stored row.
func (s *Service) SyncCatalog(ctx context.Context) (int, error) {
	defs := s.catalog.Definitions()
	for _, def := range defs {
		if _, err := s.store.EnsurePermission(ctx, def.Name, def.Description); err != nil {
			return 0, fmt.Errorf("rbac: sync %s: %w", def.Name, err)
		}
	}
	return len(defs), nil
}

// EffectivePermissions returns the union of permissions granted by every role
// the user belongs to. It is read fresh on every call.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (permissions.Set, error) {
	names, err := s.store.UserPermissionNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	set := make(permissions.Set, len(names))
	for _, name := range names {
		p, err := s.catalog.Parse(name)
		if err != nil {
			s.logger.Warn("rbac: stored permission outside catalog", slog.String("permission", name), slog.Int64("user_id", userID))
			continue
		}
		set[p] = struct{}{}
	}
	return set, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("rbac: audit record", slog.String("entity", entity), slog.Any("error", err))
	}
}

// normalizeRoleName composes the name to NFC so visually identical names
// collide on the unique index.
func normalizeRoleName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxRoleNameLen {
		return "", fmt.Errorf("%w: role name too long", ErrInvalidInput)
	}
	return name, nil
}
