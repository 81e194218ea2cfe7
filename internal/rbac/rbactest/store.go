// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/rbac"
)

type pair struct{ a, b int64 }

// Store is a concurrency-safe in-memory rbac.Store.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	roles    map[int64]rbac.Role
	perms    map[int64]rbac.PermissionRecord
	users    map[int64]rbac.Member
	members  map[pair]time.Time // (roleID, userID)
	grants   map[pair]struct{}  // (roleID, permissionID)
	FailWith error
}

var _ rbac.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		roles:   map[int64]rbac.Role{},
		perms:   map[int64]rbac.PermissionRecord{},
		users:   map[int64]rbac.Member{},
		members: map[pair]time.Time{},
		grants:  map[pair]struct{}{},
	}
}

// AddUser registers a user so memberships can reference it.
func (s *Store) AddUser(id int64, email, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = rbac.Member{UserID: id, Email: email, Name: name}
}

// RemoveUser drops a user and their memberships, mirroring the cascade the
// database applies when an account is deleted.
func (s *Store) RemoveUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	for k := range s.members {
		if k.b == id {
			delete(s.members, k)
		}
	}
}

// MembershipCount returns the number of membership rows, for cascade checks.
func (s *Store) MembershipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// GrantCount returns the number of role-permission rows.
func (s *Store) GrantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) decorate(role rbac.Role) rbac.Role {
	role.MemberCount, role.PermissionCount = 0, 0
	for k := range s.members {
		if k.a == role.ID {
			role.MemberCount++
		}
	}
	for k := range s.grants {
		if k.a == role.ID {
			role.PermissionCount++
		}
	}
	return role
}

func (s *Store) nameTaken(name string, except int64) bool {
	for _, r := range s.roles {
		if r.Name == name && r.ID != except {
			return true
		}
	}
	return false
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, s.decorate(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return s.decorate(r), nil
}

func (s *Store) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(name, 0) {
		return rbac.Role{}, rbac.ErrDuplicate
	}
	now := time.Now()
	r := rbac.Role{ID: s.id(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if s.nameTaken(name, id) {
		return rbac.Role{}, rbac.ErrDuplicate
	}
	r.Name, r.Description, r.UpdatedAt = name, description, time.Now()
	s.roles[id] = r
	return s.decorate(r), nil
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.roles, id)
	for k := range s.members {
		if k.a == id {
			delete(s.members, k)
		}
	}
	for k := range s.grants {
		if k.a == id {
			delete(s.grants, k)
		}
	}
	return nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.PermissionRecord
	for k := range s.grants {
		if k.a == roleID {
			out = append(out, s.perms[k.b])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []permissions.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	for k := range s.grants {
		if k.a == roleID {
			delete(s.grants, k)
		}
	}
	for _, p := range perms {
		for id, rec := range s.perms {
			if rec.Name == p {
				s.grants[pair{roleID, id}] = struct{}{}
			}
		}
	}
	return nil
}

func (s *Store) ListRoleMembers(ctx context.Context, roleID int64) ([]rbac.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.Member
	for k, at := range s.members {
		if k.a == roleID {
			m := s.users[k.b]
			m.UserID = k.b
			m.CreatedAt = at
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) AddRoleMember(ctx context.Context, roleID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok && len(s.users) > 0 {
		return rbac.ErrNotFound
	}
	if _, ok := s.members[pair{roleID, userID}]; !ok {
		s.members[pair{roleID, userID}] = time.Now()
	}
	return nil
}

func (s *Store) RemoveRoleMember(ctx context.Context, roleID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[pair{roleID, userID}]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.members, pair{roleID, userID})
	return nil
}

func (s *Store) ListUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.Role
	for k := range s.members {
		if k.b == userID {
			out = append(out, s.decorate(s.roles[k.a]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rbac.PermissionRecord, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, s.countRoles(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) countRoles(p rbac.PermissionRecord) rbac.PermissionRecord {
	p.RoleCount = 0
	for k := range s.grants {
		if k.b == p.ID {
			p.RoleCount++
		}
	}
	return p
}

func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return rbac.PermissionRecord{}, rbac.ErrNotFound
	}
	return s.countRoles(p), nil
}

func (s *Store) findPermission(name permissions.Permission) (rbac.PermissionRecord, bool) {
	for _, p := range s.perms {
		if p.Name == name {
			return p, true
		}
	}
	return rbac.PermissionRecord{}, false
}

func (s *Store) CreatePermission(ctx context.Context, name permissions.Permission, description string) (rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findPermission(name); ok {
		return rbac.PermissionRecord{}, rbac.ErrDuplicate
	}
	p := rbac.PermissionRecord{ID: s.id(), Name: name, Description: description}
	s.perms[p.ID] = p
	return p, nil
}

func (s *Store) EnsurePermission(ctx context.Context, name permissions.Permission, description string) (rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.findPermission(name); ok {
		return p, nil
	}
	p := rbac.PermissionRecord{ID: s.id(), Name: name, Description: description}
	s.perms[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePermission(ctx context.Context, id int64, description string) (rbac.PermissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return rbac.PermissionRecord{}, rbac.ErrNotFound
	}
	p.Description = description
	s.perms[id] = p
	return s.countRoles(p), nil
}

func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.perms, id)
	for k := range s.grants {
		if k.b == id {
			delete(s.grants, k)
		}
	}
	return nil
}

func (s *Store) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	seen := map[string]struct{}{}
	var out []string
	for m := range s.members {
		if m.b != userID {
			continue
		}
		for g := range s.grants {
			if g.a != m.a {
				continue
			}
			name := string(s.perms[g.b].Name)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetRawPermission stores a permission row bypassing catalog validation, to
// simulate legacy data.
func (s *Store) SetRawPermission(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := rbac.PermissionRecord{ID: s.id(), Name: permissions.Permission(name)}
	s.perms[p.ID] = p
	return p.ID
}

// Grant links a stored permission to a role directly.
func (s *Store) Grant(roleID, permissionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[pair{roleID, permissionID}] = struct{}{}
}
