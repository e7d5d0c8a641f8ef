package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/platforma-dev/clinicdb/database"
)

func newSQLite(t *testing.T) *database.Database {
	t.Helper()

	return openSQLite(t, database.Options{})
}

func openSQLite(t *testing.T, options database.Options) *database.Database {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clinic.db")
	db, err := database.New(context.Background(), "sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", options)
	if err != nil {
		t.Fatalf("failed to open sqlite database: %s", err.Error())
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

type schemaSnapshot map[string][]database.ColumnDescriptor

func snapshot(t *testing.T, db *database.Database, tables ...string) schemaSnapshot {
	t.Helper()

	ctx := context.Background()
	snap := schemaSnapshot{}
	for _, table := range tables {
		exists, err := db.Schema().TableExists(ctx, table)
		if err != nil {
			t.Fatalf("failed to check table %s: %s", table, err.Error())
		}
		if !exists {
			continue
		}

		columns, err := db.Schema().ListColumns(ctx, table)
		if err != nil {
			t.Fatalf("failed to list columns of %s: %s", table, err.Error())
		}
		snap[table] = columns
	}
	return snap
}

func (s schemaSnapshot) equal(other schemaSnapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for table, columns := range s {
		otherColumns, ok := other[table]
		if !ok || len(columns) != len(otherColumns) {
			return false
		}
		for i := range columns {
			if columns[i] != otherColumns[i] {
				return false
			}
		}
	}
	return true
}

type stepRepo struct {
	steps []database.Step
}

func (r stepRepo) Steps() []database.Step {
	return r.steps
}
