package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type migrationLog struct {
	Repository  string    `db:"repository"`
	MigrationID string    `db:"id"`
	Description string    `db:"description"`
	Timestamp   time.Time `db:"applied_at"`
}

// CheckFunc reports whether a step's effect is already present. It must not write.
type CheckFunc func(ctx context.Context, s *Session) (bool, error)

// ApplyFunc performs a step's schema change.
type ApplyFunc func(ctx context.Context, s *Session) error

// Step is one idempotent schema change. ID never changes once shipped: together
// with Repository it is the key of the migration ledger.
type Step struct {
	ID          string
	Description string
	// Check is evaluated right before Apply. A nil Check leaves the decision to the ledger.
	Check CheckFunc
	Apply ApplyFunc

	Repository string
}

func (s Step) key() string {
	return s.Repository + "/" + s.ID
}

func (s Step) describe() string {
	if s.Description != "" {
		return s.Description
	}
	return s.ID
}

// Statements returns an ApplyFunc running the statements in order.
func Statements(statements ...string) ApplyFunc {
	return func(ctx context.Context, s *Session) error {
		for _, stmt := range statements {
			if _, err := s.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// SQL builds a step from raw statements guarded by an arbitrary check.
func SQL(id, description string, check CheckFunc, statements ...string) Step {
	return Step{ID: id, Description: description, Check: check, Apply: Statements(statements...)}
}

// CreateTable creates a table unless it already exists.
// Column definitions may use `{{pk}}` for an auto-incrementing primary key.
func CreateTable(id, table string, columns ...string) Step {
	return Step{
		ID:          id,
		Description: "create table " + table,
		Check: func(ctx context.Context, s *Session) (bool, error) {
			return s.Schema.TableExists(ctx, table)
		},
		Apply: func(ctx context.Context, s *Session) error {
			if err := checkIdentifiers(table); err != nil {
				return err
			}
			_, err := s.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(columns, ",\n\t")))
			return err
		},
	}
}

// AddColumn adds a column unless it already exists.
func AddColumn(id, table, column, definition string) Step {
	return Step{
		ID:          id,
		Description: fmt.Sprintf("add column %s.%s", table, column),
		Check: func(ctx context.Context, s *Session) (bool, error) {
			return s.Schema.ColumnExists(ctx, table, column)
		},
		Apply: func(ctx context.Context, s *Session) error {
			if err := checkIdentifiers(table, column); err != nil {
				return err
			}
			_, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
			return err
		},
	}
}

// RenameColumn renames a column. The step counts as applied once the old column is
// gone and the new one is present; when neither exists the rename is attempted and fails.
func RenameColumn(id, table, from, to string) Step {
	return Step{
		ID:          id,
		Description: fmt.Sprintf("rename column %s.%s to %s", table, from, to),
		Check: func(ctx context.Context, s *Session) (bool, error) {
			oldExists, err := s.Schema.ColumnExists(ctx, table, from)
			if err != nil || oldExists {
				return false, err
			}
			return s.Schema.ColumnExists(ctx, table, to)
		},
		Apply: func(ctx context.Context, s *Session) error {
			if err := checkIdentifiers(table, from, to); err != nil {
				return err
			}
			_, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, from, to))
			return err
		},
	}
}

// AddUniqueIndex creates a unique index unless an index with that name exists.
func AddUniqueIndex(id, name, table string, columns ...string) Step {
	return Step{
		ID:          id,
		Description: fmt.Sprintf("add unique index %s on %s(%s)", name, table, strings.Join(columns, ", ")),
		Check: func(ctx context.Context, s *Session) (bool, error) {
			return s.Schema.IndexExists(ctx, name)
		},
		Apply: func(ctx context.Context, s *Session) error {
			if err := checkIdentifiers(append([]string{name, table}, columns...)...); err != nil {
				return err
			}
			_, err := s.Exec(ctx, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", name, table, strings.Join(columns, ", ")))
			return err
		},
	}
}

// AddConstraint adds a named table constraint unless it exists. Postgres only.
func AddConstraint(id, table, name, definition string) Step {
	return Step{
		ID:          id,
		Description: fmt.Sprintf("add constraint %s on %s", name, table),
		Check: func(ctx context.Context, s *Session) (bool, error) {
			return s.Schema.ConstraintExists(ctx, table, name)
		},
		Apply: func(ctx context.Context, s *Session) error {
			if err := checkIdentifiers(table, name); err != nil {
				return err
			}
			_, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", table, name, definition))
			return err
		},
	}
}

// SeedRows inserts reference rows keyed by keyColumn, leaving existing rows untouched.
// The step counts as applied when every key is present.
func SeedRows(id, table, keyColumn string, rows ...map[string]any) Step {
	return Step{
		ID:          id,
		Description: fmt.Sprintf("seed %d %s rows", len(rows), table),
		Check: func(ctx context.Context, s *Session) (bool, error) {
			if err := checkIdentifiers(table, keyColumn); err != nil {
				return false, err
			}

			exists, err := s.Schema.TableExists(ctx, table)
			if err != nil || !exists {
				return false, err
			}

			for _, row := range rows {
				var n int
				query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, keyColumn)
				if err := s.Get(ctx, &n, query, row[keyColumn]); err != nil {
					return false, err
				}
				if n == 0 {
					return false, nil
				}
			}
			return true, nil
		},
		Apply: func(ctx context.Context, s *Session) error {
			for _, row := range rows {
				if _, err := s.InsertIfAbsent(ctx, table, keyColumn, row[keyColumn], row); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
