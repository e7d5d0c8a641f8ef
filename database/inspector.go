package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ColumnDescriptor is a snapshot of one column as reported by the catalog.
type ColumnDescriptor struct {
	Table    string `db:"table_name"`
	Column   string `db:"column_name"`
	DataType string `db:"data_type"`
}

// Inspector answers read-only questions about the live schema.
// A table that does not exist yields false or an empty result, never an error.
// Names are unquoted identifiers and are matched the way the engine folds them.
type Inspector struct {
	q       sqlx.QueryerContext
	dialect Dialect
	timeout time.Duration
}

// NewInspector creates an inspector reading through q.
func NewInspector(q sqlx.QueryerContext, dialect Dialect) *Inspector {
	return &Inspector{q: q, dialect: dialect}
}

func (i *Inspector) count(ctx context.Context, query string, args ...any) (bool, error) {
	query = i.dialect.Bind(query, args)
	ctx, cancel := statementContext(ctx, i.timeout)
	defer cancel()

	var n int
	if err := sqlx.GetContext(ctx, i.q, &n, query, args...); err != nil {
		return false, newQueryError(query, err)
	}
	return n > 0, nil
}

// TableExists reports whether the table exists.
func (i *Inspector) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch i.dialect {
	case SQLite:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`
	default:
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?`
	}

	exists, err := i.count(ctx, query, i.dialect.fold(table))
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

// ColumnExists reports whether the column exists on the table.
func (i *Inspector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var query string
	switch i.dialect {
	case SQLite:
		query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ? COLLATE NOCASE`
	default:
		query = `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`
	}

	exists, err := i.count(ctx, query, i.dialect.fold(table), i.dialect.fold(column))
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

// ListColumns returns the columns of the table in ordinal order.
func (i *Inspector) ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	var query string
	var args []any
	switch i.dialect {
	case SQLite:
		query = `SELECT ? AS table_name, name AS column_name, type AS data_type
			FROM pragma_table_info(?) ORDER BY cid`
		args = []any{table, table}
	default:
		query = `SELECT table_name, column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position`
		args = []any{i.dialect.fold(table)}
	}
	query = i.dialect.Bind(query, args)
	ctx, cancel := statementContext(ctx, i.timeout)
	defer cancel()

	columns := []ColumnDescriptor{}
	if err := sqlx.SelectContext(ctx, i.q, &columns, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, newQueryError(query, err))
	}
	return columns, nil
}

// IndexExists reports whether an index with the given name exists.
func (i *Inspector) IndexExists(ctx context.Context, index string) (bool, error) {
	var query string
	switch i.dialect {
	case SQLite:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ? COLLATE NOCASE`
	default:
		query = `SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?`
	}

	exists, err := i.count(ctx, query, i.dialect.fold(index))
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	return exists, nil
}

// ConstraintExists reports whether a named table constraint exists.
// SQLite does not name constraints in its catalog and returns ErrUnsupported.
func (i *Inspector) ConstraintExists(ctx context.Context, table, constraint string) (bool, error) {
	if i.dialect == SQLite {
		return false, fmt.Errorf("constraint lookup: %w", ErrUnsupported)
	}

	exists, err := i.count(ctx, `SELECT COUNT(*) FROM information_schema.table_constraints
		WHERE table_schema = current_schema() AND table_name = ? AND constraint_name = ?`,
		i.dialect.fold(table), i.dialect.fold(constraint))
	if err != nil {
		return false, fmt.Errorf("failed to check constraint %s on %s: %w", constraint, table, err)
	}
	return exists, nil
}
