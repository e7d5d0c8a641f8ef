package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Session runs statements on either the pool or a migration transaction, rendering
// them for the database dialect and wrapping failures in QueryError.
type Session struct {
	ext     sqlx.ExtContext
	dialect Dialect
	// timeout bounds each statement; zero leaves the caller's context in charge.
	timeout time.Duration
	// Schema reads the catalog through the same session, so it sees uncommitted DDL.
	Schema *Inspector
}

func newSession(ext sqlx.ExtContext, dialect Dialect, timeout time.Duration) *Session {
	return &Session{
		ext:     ext,
		dialect: dialect,
		timeout: timeout,
		Schema:  &Inspector{q: ext, dialect: dialect, timeout: timeout},
	}
}

func statementContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Dialect returns the session dialect.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Exec runs a statement. Parameters use `?` placeholders.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.dialect.Bind(query, args)
	ctx, cancel := statementContext(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	return res, nil
}

// Get scans a single row into dest.
func (s *Session) Get(ctx context.Context, dest any, query string, args ...any) error {
	query = s.dialect.Bind(query, args)
	ctx, cancel := statementContext(ctx, s.timeout)
	defer cancel()

	return newQueryError(query, sqlx.GetContext(ctx, s.ext, dest, query, args...))
}

// Select scans all rows into dest.
func (s *Session) Select(ctx context.Context, dest any, query string, args ...any) error {
	query = s.dialect.Bind(query, args)
	ctx, cancel := statementContext(ctx, s.timeout)
	defer cancel()

	return newQueryError(query, sqlx.SelectContext(ctx, s.ext, dest, query, args...))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be spliced into a statement as a table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

// InsertIfAbsent inserts a row keyed by a unique natural key column and leaves an
// existing row untouched. It reports whether a row was created.
// The key column must carry a unique constraint.
func (s *Session) InsertIfAbsent(ctx context.Context, table, keyColumn string, keyValue any, payload map[string]any) (bool, error) {
	columns := make([]string, 0, len(payload)+1)
	for column := range payload {
		if column != keyColumn {
			columns = append(columns, column)
		}
	}
	slices.Sort(columns)
	columns = append([]string{keyColumn}, columns...)

	if err := checkIdentifiers(append([]string{table}, columns...)...); err != nil {
		return false, err
	}

	args := make([]any, 0, len(columns))
	args = append(args, keyValue)
	for _, column := range columns[1:] {
		args = append(args, payload[column])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table,
		strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
		keyColumn,
	)

	res, err := s.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// LookupID returns the id of the row whose key column equals value.
func (s *Session) LookupID(ctx context.Context, table, keyColumn string, value any) (int64, error) {
	if err := checkIdentifiers(table, keyColumn); err != nil {
		return 0, err
	}

	var id int64
	err := s.Get(ctx, &id, fmt.Sprintf("SELECT id FROM %s WHERE %s = ?", table, keyColumn), value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no %s row with %s = %v: %w", table, keyColumn, value, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", table, err)
	}
	return id, nil
}
