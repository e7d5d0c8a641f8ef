package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect describes how statements are rendered for one SQL engine.
type Dialect struct {
	name       string
	bindType   int
	primaryKey string
}

var (
	// Postgres is the production dialect, served by lib/pq.
	Postgres = Dialect{name: "postgres", bindType: sqlx.DOLLAR, primaryKey: "SERIAL PRIMARY KEY"} //nolint:gochecknoglobals
	// SQLite is the embedded dialect, served by modernc.org/sqlite.
	SQLite = Dialect{name: "sqlite", bindType: sqlx.QUESTION, primaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT"} //nolint:gochecknoglobals
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("%w: driver %q", ErrUnsupported, driver)
	}
}

// Name returns the driver name of the dialect.
func (d Dialect) Name() string {
	return d.name
}

// Render expands portable placeholders in a statement.
// `{{pk}}` becomes an auto-incrementing integer primary key.
func (d Dialect) Render(query string) string {
	return strings.ReplaceAll(query, "{{pk}}", d.primaryKey)
}

// Bind renders the statement and, when it carries arguments, rebinds `?` parameters
// to the dialect's bind style. Statements without arguments are sent as written, so
// a literal `?` in a string, a comment or a jsonb operator survives.
func (d Dialect) Bind(query string, args []any) string {
	query = d.Render(query)
	if len(args) == 0 {
		return query
	}
	return sqlx.Rebind(d.bindType, query)
}

// fold returns the name the catalog stores for an unquoted identifier.
// Postgres folds unquoted identifiers to lower case.
func (d Dialect) fold(name string) string {
	if d == Postgres {
		return strings.ToLower(name)
	}
	return name
}
