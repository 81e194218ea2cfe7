package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/db"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL store.
func NewRepository(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

const roleColumns = `r.id, r.name, r.description, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM role_members rm WHERE rm.role_id = r.id),
	(SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id)`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &role.MemberCount, &role.PermissionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	return role, err
}

// ListRoles returns all roles ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
}

// CreateRole inserts a new role.
func (s *PGStore) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO roles (name, description, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING id`, name, description).Scan(&id)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return s.GetRole(ctx, id)
}

// UpdateRole updates an existing role.
func (s *PGStore) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`, id, name, description)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, ErrNotFound
	}
	return s.GetRole(ctx, id)
}

// DeleteRole removes a role and its membership and grant rows.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_members WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListRolePermissions returns the permissions granted by a role.
func (s *PGStore) ListRolePermissions(ctx context.Context, roleID int64) ([]PermissionRecord, error) {
	return s.queryPermissions(ctx, `SELECT p.id, p.name, p.description,
	(SELECT COUNT(*) FROM role_permissions x WHERE x.permission_id = p.id)
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
}

// ReplaceRolePermissions sets the exact permission set of a role.
func (s *PGStore) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []permissions.Permission) error {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions rp USING permissions p
WHERE rp.permission_id = p.id AND rp.role_id = $1 AND NOT (p.name = ANY($2))`, roleID, names); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at)
SELECT $1, p.id, NOW() FROM permissions p WHERE p.name = ANY($2)
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, names); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
		return err
	})
}

// ListRoleMembers returns the users holding a role.
func (s *PGStore) ListRoleMembers(ctx context.Context, roleID int64) ([]Member, error) {
	rows, err := s.pool.Query(ctx, `SELECT u.id, u.email, u.name, rm.created_at
FROM role_members rm JOIN users u ON u.id = rm.user_id
WHERE rm.role_id = $1 ORDER BY u.name, u.email`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Email, &m.Name, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddRoleMember assigns a role to a user; repeated assignment is a no-op.
func (s *PGStore) AddRoleMember(ctx context.Context, roleID, userID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO role_members (user_id, role_id, created_at)
VALUES ($1, $2, NOW()) ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return mapWriteError(err)
}

// RemoveRoleMember removes a role from a user.
func (s *PGStore) RemoveRoleMember(ctx context.Context, roleID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_members WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserRoles returns the roles held by a user.
func (s *PGStore) ListUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+`
FROM roles r JOIN role_members m ON m.role_id = r.id
WHERE m.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns all stored permissions ordered by name.
func (s *PGStore) ListPermissions(ctx context.Context) ([]PermissionRecord, error) {
	return s.queryPermissions(ctx, `SELECT p.id, p.name, p.description,
	(SELECT COUNT(*) FROM role_permissions x WHERE x.permission_id = p.id)
FROM permissions p ORDER BY p.name`)
}

// GetPermission fetches a permission by ID.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (PermissionRecord, error) {
	recs, err := s.queryPermissions(ctx, `SELECT p.id, p.name, p.description,
	(SELECT COUNT(*) FROM role_permissions x WHERE x.permission_id = p.id)
FROM permissions p WHERE p.id = $1`, id)
	if err != nil {
		return PermissionRecord{}, err
	}
	if len(recs) == 0 {
		return PermissionRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// CreatePermission inserts a permission, failing on duplicates.
func (s *PGStore) CreatePermission(ctx context.Context, name permissions.Permission, description string) (PermissionRecord, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2) RETURNING id`, string(name), description).Scan(&id)
	if err != nil {
		return PermissionRecord{}, mapWriteError(err)
	}
	return PermissionRecord{ID: id, Name: name, Description: description}, nil
}

// EnsurePermission inserts a permission unless it already exists.
func (s *PGStore) EnsurePermission(ctx context.Context, name permissions.Permission, description string) (PermissionRecord, error) {
	rec := PermissionRecord{Name: name}
	err := s.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, description`, string(name), description).Scan(&rec.ID, &rec.Description)
	if err != nil {
		return PermissionRecord{}, err
	}
	return rec, nil
}

// UpdatePermission changes the description of a permission.
func (s *PGStore) UpdatePermission(ctx context.Context, id int64, description string) (PermissionRecord, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE permissions SET description = $2 WHERE id = $1`, id, description)
	if err != nil {
		return PermissionRecord{}, err
	}
	if tag.RowsAffected() == 0 {
		return PermissionRecord{}, ErrNotFound
	}
	return s.GetPermission(ctx, id)
}

// DeletePermission removes a permission and its grants.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UserPermissionNames returns the distinct permission names granted to a user
// through any role.
func (s *PGStore) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT p.name
FROM role_members rm
JOIN role_permissions rp ON rp.role_id = rm.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE rm.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PGStore) queryPermissions(ctx context.Context, sql string, args ...any) ([]PermissionRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []PermissionRecord
	for rows.Next() {
		var rec PermissionRecord
		var name string
		if err := rows.Scan(&rec.ID, &name, &rec.Description, &rec.RoleCount); err != nil {
			return nil, err
		}
		rec.Name = permissions.Permission(name)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func lockRole(ctx context.Context, tx pgx.Tx, roleID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
