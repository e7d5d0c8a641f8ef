// Package auth owns the users and roles tables and credential hashing.
package auth

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

// ErrNotFound is returned when no user or role matches.
var ErrNotFound = errors.New("not found")

type db interface {
	Get(ctx context.Context, dest any, query string, args ...any) error
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository reads and updates users and roles. Queries use `?` placeholders and
// are rebound by the database for its dialect.
type Repository struct {
	db db
}

func NewRepository(db db) *Repository {
	return &Repository{
		db: db,
	}
}

//go:embed migrations/*.sql
var migrations embed.FS

func (r *Repository) Migrations() fs.FS {
	m, _ := fs.Sub(migrations, "migrations")
	return m
}

const userColumns = "id, username, password, full_name, role_id, is_active, created_at, updated_at"

func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.db.Get(ctx, &user, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.Get(ctx, &user, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

func (r *Repository) GetRole(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.db.Get(ctx, &role, "SELECT id, name, description FROM roles WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// UpdatePassword replaces a user's hash, e.g. after a rehash at a higher cost.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if !IsHash(hash) {
		return errors.New("refusing to store a password that is not a bcrypt hash")
	}

	query := `
		UPDATE users
		SET password = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	res, err := r.db.Exec(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}
