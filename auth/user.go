package auth

import (
	"database/sql"
	"time"
)

// Role groups permissions granted to users.
type Role struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

// User is a staff account. Password always holds a bcrypt hash.
type User struct {
	ID        int64         `db:"id"`
	Username  string        `db:"username"`
	Password  string        `db:"password"`
	FullName  string        `db:"full_name"`
	RoleID    sql.NullInt64 `db:"role_id"`
	IsActive  bool          `db:"is_active"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}
