package database

import (
	"context"
	"fmt"
	"time"
)

const ledgerTable = "schema_migrations"

// repository reads and writes the migration ledger. Writes go through the run's
// session so ledger rows commit or roll back together with the schema change.
type repository struct {
	table string
}

func newRepository() *repository {
	return &repository{table: ledgerTable}
}

func (r *repository) ensureTable(ctx context.Context, s *Session) error {
	_, err := s.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+r.table+` (
		repository TEXT NOT NULL,
		id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (repository, id)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}
	return nil
}

// getMigrationLogs returns ledger rows. A missing ledger table yields no rows.
func (r *repository) getMigrationLogs(ctx context.Context, s *Session) ([]migrationLog, error) {
	exists, err := s.Schema.TableExists(ctx, r.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []migrationLog{}, nil
	}

	logs := []migrationLog{}
	err = s.Select(ctx, &logs, `SELECT repository, id, description, applied_at FROM `+r.table+` ORDER BY applied_at, repository, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select migration logs: %w", err)
	}
	return logs, nil
}

func (r *repository) saveMigrationLog(ctx context.Context, s *Session, step Step) error {
	_, err := s.Exec(ctx,
		`INSERT INTO `+r.table+` (repository, id, description, applied_at) VALUES (?, ?, ?, ?)`,
		step.Repository, step.ID, step.describe(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save migration log for %s: %w", step.key(), err)
	}
	return nil
}
