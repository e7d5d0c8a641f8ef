// Package database provides the connection pool, schema inspection and the
// transactional migration runner.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/platforma-dev/clinicdb/log"
)

// Options tunes the pool and the migration runner.
type Options struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
	Events           *log.WideEventLogger
}

// Database represents a database connection pool with migration capabilities.
type Database struct {
	conn         *sqlx.DB
	dialect      Dialect
	options      Options
	repositories []registration
	ledger       *repository
}

type registration struct {
	name       string
	repository any
}

// New opens a pool for the given driver and connection string and verifies it with a ping.
func New(ctx context.Context, driver, connection string, options Options) (*Database, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, &ConnectionError{Driver: driver, Err: err}
	}

	db, err := sqlx.ConnectContext(ctx, driver, connection)
	if err != nil {
		return nil, &ConnectionError{Driver: driver, Err: err}
	}

	if options.MaxOpenConns > 0 {
		db.SetMaxOpenConns(options.MaxOpenConns)
	}
	if options.MaxIdleConns > 0 {
		db.SetMaxIdleConns(options.MaxIdleConns)
	}
	if options.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(options.ConnMaxLifetime)
	}

	return &Database{conn: db, dialect: dialect, options: options, ledger: newRepository()}, nil
}

// Connection returns the underlying sqlx database connection.
func (db *Database) Connection() *sqlx.DB {
	return db.conn
}

// Dialect returns the SQL dialect of the database.
func (db *Database) Dialect() Dialect {
	return db.dialect
}

// Schema returns an inspector reading the catalog through the pool.
func (db *Database) Schema() *Inspector {
	return NewInspector(db.conn, db.dialect)
}

// Acquire takes a dedicated connection from the pool. Every statement issued on it,
// including BEGIN, COMMIT and ROLLBACK, runs on the same server session.
func (db *Database) Acquire(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := db.conn.Connx(ctx)
	if err != nil {
		return nil, &ConnectionError{Driver: db.dialect.Name(), Err: err}
	}
	return conn, nil
}

// Release returns a dedicated connection to the pool.
func (db *Database) Release(conn *sqlx.Conn) error {
	err := conn.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to release connection: %w", err)
	}
	return nil
}

// Exec runs a statement on the pool. Parameters use `?` placeholders.
func (db *Database) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = db.dialect.Bind(query, args)
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	return res, nil
}

// Get scans a single row into dest.
func (db *Database) Get(ctx context.Context, dest any, query string, args ...any) error {
	query = db.dialect.Bind(query, args)
	return newQueryError(query, db.conn.GetContext(ctx, dest, query, args...))
}

// Select scans all rows into dest.
func (db *Database) Select(ctx context.Context, dest any, query string, args ...any) error {
	query = db.dialect.Bind(query, args)
	return newQueryError(query, db.conn.SelectContext(ctx, dest, query, args...))
}

// Session returns a session bound to the pool, for callers that share code with migration steps.
func (db *Database) Session() *Session {
	return newSession(db.conn, db.dialect, 0)
}

// Close stops new queries from starting and waits for in-flight ones to finish.
func (db *Database) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RegisterRepository registers a repository in the database.
// If the repository provides steps (Steps() []Step) or SQL files (Migrations() fs.FS),
// they run when `Migrate` is called, in registration order.
func (db *Database) RegisterRepository(name string, repository any) {
	db.repositories = append(db.repositories, registration{name: name, repository: repository})
}

type stepProvider interface {
	Steps() []Step
}

type migrator interface {
	Migrations() fs.FS
}

// Plan returns every step of every registered repository in the order they run.
func (db *Database) Plan() ([]Step, error) {
	plan := []Step{}
	for _, reg := range db.repositories {
		var steps []Step
		switch repo := reg.repository.(type) {
		case stepProvider:
			steps = repo.Steps()
		case migrator:
			parsed, err := ParseMigrations(repo.Migrations())
			if err != nil {
				return nil, fmt.Errorf("failed to parse migrations for %s: %w", reg.name, err)
			}
			steps = parsed
		default:
			continue
		}

		for _, step := range steps {
			step.Repository = reg.name
			plan = append(plan, step)
		}
	}
	return plan, nil
}

// Migrate runs all pending steps of registered repositories in one transaction.
func (db *Database) Migrate(ctx context.Context) (*Run, error) {
	plan, err := db.Plan()
	if err != nil {
		return nil, err
	}

	return db.Runner().Run(ctx, plan)
}

// Runner returns a migration runner bound to this database.
func (db *Database) Runner() *Runner {
	return &Runner{
		db:      db,
		ledger:  db.ledger,
		timeout: db.options.StatementTimeout,
		events:  db.options.Events,
	}
}
