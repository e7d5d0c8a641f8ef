package database_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/platforma-dev/clinicdb/database"
)

func wardSteps() []database.Step {
	return []database.Step{
		database.CreateTable("001_wards", "wards",
			"id {{pk}}",
			"name VARCHAR(100) NOT NULL UNIQUE",
		),
		database.AddColumn("002_wards_beds", "wards", "beds", "INTEGER NOT NULL DEFAULT 0"),
		database.SeedRows("003_wards_seed", "wards", "name",
			map[string]any{"name": "Maternity", "beds": 12},
			map[string]any{"name": "Pediatrics", "beds": 8},
		),
		database.AddUniqueIndex("004_wards_name_beds", "wards_name_beds_key", "wards", "name", "beds"),
	}
}

func TestRunner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies steps in order and commits", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		run, err := db.Runner().Run(ctx, wardSteps())
		if err != nil {
			t.Fatalf("failed to run migrations: %s", err.Error())
		}

		if run.Status != database.RunCommitted {
			t.Fatalf("expected committed run, got %s", run.Status)
		}

		expected := []string{"001_wards", "002_wards_beds", "003_wards_seed", "004_wards_name_beds"}
		if got := run.Outcomes(database.StepApplied); !slices.Equal(got, expected) {
			t.Fatalf("expected applied %v, got %v", expected, got)
		}

		var count int
		if err := db.Get(ctx, &count, "SELECT COUNT(*) FROM wards"); err != nil {
			t.Fatalf("failed to count wards: %s", err.Error())
		}
		if count != 2 {
			t.Fatalf("expected 2 wards, got %d", count)
		}
	})

	// Imitates repeated deployments: the second run changes nothing.
	t.Run("second run is a no-op", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		if _, err := db.Runner().Run(ctx, wardSteps()); err != nil {
			t.Fatalf("failed to run migrations: %s", err.Error())
		}
		before := snapshot(t, db, "wards", "schema_migrations")

		run, err := db.Runner().Run(ctx, wardSteps())
		if err != nil {
			t.Fatalf("failed to run migrations again: %s", err.Error())
		}

		if len(run.Outcomes(database.StepApplied)) != 0 {
			t.Fatalf("expected nothing applied, got %v", run.Outcomes(database.StepApplied))
		}
		for _, step := range run.Steps {
			if step.Reason != "ledger" {
				t.Errorf("expected %s to be skipped by ledger, got %q", step.StepID, step.Reason)
			}
		}

		if !before.equal(snapshot(t, db, "wards", "schema_migrations")) {
			t.Fatal("expected schema to be unchanged")
		}

		var count int
		if err := db.Get(ctx, &count, "SELECT COUNT(*) FROM wards"); err != nil {
			t.Fatalf("failed to count wards: %s", err.Error())
		}
		if count != 2 {
			t.Fatalf("expected seeded rows to stay unique, got %d", count)
		}
	})

	t.Run("failing step rolls back the whole run", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		if _, err := db.Exec(ctx, "CREATE TABLE expenses (id {{pk}}, amount NUMERIC(12,2))"); err != nil {
			t.Fatalf("failed to create table: %s", err.Error())
		}
		tables := []string{"expenses", "wards", "schema_migrations"}
		before := snapshot(t, db, tables...)

		plan := append(wardSteps(),
			database.AddColumn("005_expense_department", "expenses", "department", "VARCHAR(100)"),
			database.SQL("006_broken", "broken statement", nil, "not even SQL here"),
		)

		run, err := db.Runner().Run(ctx, plan)
		if err == nil {
			t.Fatal("expected run to fail")
		}

		var stepErr *database.StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("expected StepError, got %T: %v", err, err)
		}
		if stepErr.StepID != "006_broken" || stepErr.Description != "broken statement" {
			t.Errorf("expected failure to name the step, got %s (%s)", stepErr.StepID, stepErr.Description)
		}

		var queryErr *database.QueryError
		if !errors.As(err, &queryErr) {
			t.Errorf("expected QueryError inside StepError, got %v", err)
		}

		if run.Status != database.RunRolledBack {
			t.Fatalf("expected rolled-back run, got %s", run.Status)
		}
		if !errors.Is(run.Err, err) {
			t.Error("expected run to carry the error")
		}

		if !before.equal(snapshot(t, db, tables...)) {
			t.Fatalf("expected schema to be restored, got %v", snapshot(t, db, tables...))
		}
	})

	t.Run("rerun after fix proceeds from the failure point", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		broken := append(wardSteps()[:2], database.SQL("003_broken", "broken", nil, "not SQL"))
		if _, err := db.Runner().Run(ctx, broken); err == nil {
			t.Fatal("expected run to fail")
		}

		run, err := db.Runner().Run(ctx, wardSteps())
		if err != nil {
			t.Fatalf("expected fixed plan to succeed: %s", err.Error())
		}
		if len(run.Outcomes(database.StepApplied)) != 4 {
			t.Fatalf("expected all steps applied after rollback, got %v", run.Outcomes(database.StepApplied))
		}
	})

	t.Run("order matters", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		steps := wardSteps()[:2]
		reversed := []database.Step{steps[1], steps[0]}

		_, err := db.Runner().Run(ctx, reversed)
		if err == nil {
			t.Fatal("expected reversed plan to fail")
		}

		var stepErr *database.StepError
		if !errors.As(err, &stepErr) || stepErr.StepID != "002_wards_beds" {
			t.Fatalf("expected column step to fail, got %v", err)
		}

		if _, err := db.Runner().Run(ctx, steps); err != nil {
			t.Fatalf("expected declared order to succeed: %s", err.Error())
		}
	})

	t.Run("existing schema is adopted into the ledger", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		if _, err := db.Exec(ctx, "CREATE TABLE wards (id {{pk}}, name VARCHAR(100) NOT NULL UNIQUE, beds INTEGER NOT NULL DEFAULT 0)"); err != nil {
			t.Fatalf("failed to create table: %s", err.Error())
		}

		run, err := db.Runner().Run(ctx, wardSteps())
		if err != nil {
			t.Fatalf("failed to run migrations: %s", err.Error())
		}

		if got := run.Outcomes(database.StepSkipped); !slices.Equal(got, []string{"001_wards", "002_wards_beds"}) {
			t.Fatalf("expected table and column to be detected, got %v", got)
		}
		for _, step := range run.Steps[:2] {
			if step.Reason != "check" {
				t.Errorf("expected %s skipped by check, got %q", step.StepID, step.Reason)
			}
		}

		var recorded int
		if err := db.Get(ctx, &recorded, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("failed to read ledger: %s", err.Error())
		}
		if recorded != 4 {
			t.Fatalf("expected every step in the ledger, got %d", recorded)
		}
	})

	t.Run("rename checks the old column", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		if _, err := db.Exec(ctx, "CREATE TABLE daily_closings (id {{pk}}, closing_date DATE NOT NULL)"); err != nil {
			t.Fatalf("failed to create table: %s", err.Error())
		}

		rename := database.RenameColumn("rename_closing_date", "daily_closings", "closing_date", "date")

		run, err := db.Runner().Run(ctx, []database.Step{rename})
		if err != nil {
			t.Fatalf("failed to rename: %s", err.Error())
		}
		if len(run.Outcomes(database.StepApplied)) != 1 {
			t.Fatalf("expected rename to apply, got %v", run.Steps)
		}

		// A different ID bypasses the ledger, so only the check protects the rename.
		rename.ID = "rename_closing_date_again"
		run, err = db.Runner().Run(ctx, []database.Step{rename})
		if err != nil {
			t.Fatalf("expected second rename to be a no-op: %s", err.Error())
		}
		if len(run.Outcomes(database.StepSkipped)) != 1 {
			t.Fatalf("expected rename to be skipped, got %v", run.Steps)
		}

		hasNew, _ := db.Schema().ColumnExists(ctx, "daily_closings", "date")
		hasOld, _ := db.Schema().ColumnExists(ctx, "daily_closings", "closing_date")
		if !hasNew || hasOld {
			t.Fatalf("expected only the new column, got date=%v closing_date=%v", hasNew, hasOld)
		}
	})

	t.Run("rename without either column fails", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		if _, err := db.Exec(ctx, "CREATE TABLE daily_closings (id {{pk}})"); err != nil {
			t.Fatalf("failed to create table: %s", err.Error())
		}

		_, err := db.Runner().Run(ctx, []database.Step{
			database.RenameColumn("rename_closing_date", "daily_closings", "closing_date", "date"),
		})
		if err == nil {
			t.Fatal("expected rename of a missing column to fail")
		}
	})

	t.Run("rejects duplicate and incomplete steps", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		steps := wardSteps()
		_, err := db.Runner().Run(ctx, append(steps, steps[0]))
		if !errors.Is(err, database.ErrDuplicateStep) {
			t.Fatalf("expected ErrDuplicateStep, got %v", err)
		}

		_, err = db.Runner().Run(ctx, []database.Step{{ID: "no_apply"}})
		if !errors.Is(err, database.ErrInvalidStep) {
			t.Fatalf("expected ErrInvalidStep, got %v", err)
		}

		exists, _ := db.Schema().TableExists(ctx, "schema_migrations")
		if exists {
			t.Fatal("expected invalid plans to be rejected before touching the database")
		}
	})

	t.Run("abort between steps rolls back", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var ran []string
		plan := []database.Step{
			database.CreateTable("001_wards", "wards", "id {{pk}}", "name TEXT"),
			{
				ID: "002_cancel",
				Apply: func(ctx context.Context, s *database.Session) error {
					ran = append(ran, "002_cancel")
					cancel()
					// The statement in flight still completes.
					_, err := s.Exec(ctx, "CREATE TABLE beds (id {{pk}})")
					return err
				},
			},
			{
				ID: "003_never",
				Apply: func(context.Context, *database.Session) error {
					ran = append(ran, "003_never")
					return nil
				},
			},
		}

		run, err := db.Runner().Run(runCtx, plan)
		if !errors.Is(err, database.ErrRunAborted) {
			t.Fatalf("expected ErrRunAborted, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected cancellation cause, got %v", err)
		}
		if run.Status != database.RunRolledBack {
			t.Fatalf("expected rolled-back run, got %s", run.Status)
		}
		if !slices.Equal(ran, []string{"002_cancel"}) {
			t.Fatalf("expected only the second step to run, got %v", ran)
		}

		for _, table := range []string{"wards", "beds", "schema_migrations"} {
			exists, _ := db.Schema().TableExists(ctx, table)
			if exists {
				t.Errorf("expected %s to be rolled back", table)
			}
		}
	})

	t.Run("cancelled context never opens a transaction", func(t *testing.T) {
		t.Parallel()

		db := newSQLite(t)

		runCtx, cancel := context.WithCancel(ctx)
		cancel()

		run, err := db.Runner().Run(runCtx, wardSteps())
		if !errors.Is(err, database.ErrRunAborted) {
			t.Fatalf("expected ErrRunAborted, got %v", err)
		}
		if run.Status != database.RunPending {
			t.Fatalf("expected pending run, got %s", run.Status)
		}
	})

	// The timeout bounds single statements, so time spent before Apply does not count against it.
	t.Run("statement timeout applies per statement", func(t *testing.T) {
		t.Parallel()

		db := openSQLite(t, database.Options{StatementTimeout: 100 * time.Millisecond})

		slowCheck := database.Step{
			ID: "001_wards",
			Check: func(ctx context.Context, s *database.Session) (bool, error) {
				exists, err := s.Schema.TableExists(ctx, "wards")
				time.Sleep(300 * time.Millisecond)
				return exists, err
			},
			Apply: func(ctx context.Context, s *database.Session) error {
				_, err := s.Exec(ctx, "CREATE TABLE wards (id {{pk}}, name TEXT)")
				return err
			},
		}

		run, err := db.Runner().Run(ctx, []database.Step{slowCheck})
		if err != nil {
			t.Fatalf("failed to run migrations: %s", err.Error())
		}
		if run.Status != database.RunCommitted {
			t.Fatalf("expected committed run, got %s", run.Status)
		}
	})
}

func TestMigrateRegisteredRepositories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newSQLite(t)

	db.RegisterRepository("wards", stepRepo{steps: wardSteps()})
	db.RegisterRepository("not_a_migrator", struct{}{})
	db.RegisterRepository("beds", stepRepo{steps: []database.Step{
		database.CreateTable("001_beds", "beds", "id {{pk}}", "ward_id INTEGER NOT NULL REFERENCES wards (id)"),
	}})

	statuses, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("failed to read status: %s", err.Error())
	}
	if len(statuses) != 5 || database.Pending(statuses) != 5 {
		t.Fatalf("expected 5 pending steps, got %v", statuses)
	}

	run, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("failed to migrate: %s", err.Error())
	}
	if run.Steps[4].Repository != "beds" {
		t.Fatalf("expected registration order to be kept, got %v", run.Steps)
	}

	statuses, err = db.Status(ctx)
	if err != nil {
		t.Fatalf("failed to read status: %s", err.Error())
	}
	for _, s := range statuses {
		if s.State != database.StateApplied || s.AppliedAt == nil {
			t.Errorf("expected %s/%s to be applied, got %s", s.Repository, s.StepID, s.State)
		}
	}

	// Both repositories use their own namespace in the ledger.
	var ids []string
	if err := db.Select(ctx, &ids, "SELECT repository || '/' || id FROM schema_migrations ORDER BY repository, id"); err != nil {
		t.Fatalf("failed to read ledger: %s", err.Error())
	}
	if !slices.Contains(ids, "beds/001_beds") || !slices.Contains(ids, "wards/001_wards") {
		t.Fatalf("unexpected ledger %v", ids)
	}
}
