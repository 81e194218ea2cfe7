package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stvsoc/internal-site/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const userColumns = `id, email, name, is_active, created_at, updated_at`

const searchClause = ` WHERE ($1 = '' OR email ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

// CountUsers counts users matching the search query.
func (r *Repository) CountUsers(ctx context.Context, query string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+searchClause, query).Scan(&total)
	return total, err
}

// ListUsers returns one page of users ordered by name.
func (r *Repository) ListUsers(ctx context.Context, query string, limit, offset int) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users`+searchClause+`
ORDER BY lower(name), id LIMIT $2 OFFSET $3`, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, in Input, passwordHash string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING `+userColumns, in.Email, in.Name, passwordHash, in.IsActive))
	if db.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	return user, err
}

// UpdateUser updates profile fields. A non-empty passwordHash replaces the
// stored hash in the same statement.
func (r *Repository) UpdateUser(ctx context.Context, id int64, in Input, passwordHash string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `UPDATE users SET email = $2, name = $3, is_active = $4,
password_hash = COALESCE(NULLIF($5, ''), password_hash), updated_at = NOW()
WHERE id = $1 RETURNING `+userColumns, id, in.Email, in.Name, in.IsActive, passwordHash))
	if db.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	return user, err
}

// DeleteUser removes a user with their memberships and session records.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_members WHERE user_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
