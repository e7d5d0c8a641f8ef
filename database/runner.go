package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/platforma-dev/clinicdb/log"
)

var (
	// ErrRunAborted is returned when the caller cancels a run between steps.
	ErrRunAborted = errors.New("migration run aborted")
	// ErrDuplicateStep is returned when two steps of a plan share a repository and ID.
	ErrDuplicateStep = errors.New("duplicate migration step")
	// ErrInvalidStep is returned for steps without an ID or an Apply function.
	ErrInvalidStep = errors.New("invalid migration step")
)

// RunStatus is the state of a migration run.
type RunStatus string

const (
	// RunPending means no transaction has been opened yet.
	RunPending RunStatus = "pending"
	// RunRunning means the transaction is open and steps are executing.
	RunRunning RunStatus = "running"
	// RunCommitted means every step was applied or skipped and the transaction committed.
	RunCommitted RunStatus = "committed"
	// RunRolledBack means a step failed or the run was aborted and nothing was kept.
	RunRolledBack RunStatus = "rolled-back"
)

// StepOutcome is what happened to one step during a run.
type StepOutcome string

const (
	// StepApplied means the step's Apply ran.
	StepApplied StepOutcome = "applied"
	// StepSkipped means the ledger or the step's Check reported it as already applied.
	StepSkipped StepOutcome = "skipped"
	// StepFailed means Check or Apply returned an error.
	StepFailed StepOutcome = "failed"
)

// StepResult records the outcome of one step.
type StepResult struct {
	Repository  string
	StepID      string
	Description string
	Outcome     StepOutcome
	// Reason tells why a step was skipped: "ledger" or "check".
	Reason   string
	Duration time.Duration
}

// Run is the transient record of one migration invocation.
type Run struct {
	ID         string
	Status     RunStatus
	Steps      []StepResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcomes returns the IDs of steps with the given outcome, in execution order.
func (r *Run) Outcomes(outcome StepOutcome) []string {
	ids := []string{}
	for _, step := range r.Steps {
		if step.Outcome == outcome {
			ids = append(ids, step.StepID)
		}
	}
	return ids
}

// StepError is returned when a step fails. The whole run has been rolled back.
type StepError struct {
	Repository  string
	StepID      string
	Description string
	Err         error
}

// Error returns the formatted error message for StepError.
func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %s/%s (%s) failed: %v", e.Repository, e.StepID, e.Description, e.Err)
}

// Unwrap returns the underlying error for StepError.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner applies a plan of steps inside a single transaction on a dedicated connection.
// It is not safe to run two Runners against the same database at the same time.
type Runner struct {
	db      *Database
	ledger  *repository
	timeout time.Duration
	events  *log.WideEventLogger
}

func validatePlan(plan []Step) error {
	seen := make(map[string]struct{}, len(plan))
	for i, step := range plan {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no ID", ErrInvalidStep, i)
		}
		if step.Apply == nil {
			return fmt.Errorf("%w: step %s has no Apply", ErrInvalidStep, step.key())
		}
		if _, ok := seen[step.key()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.key())
		}
		seen[step.key()] = struct{}{}
	}
	return nil
}

// Run executes the plan in order. Steps already in the ledger, or whose Check reports
// them applied, are skipped; the first failure rolls back every change of the run.
// Cancelling ctx aborts the run before the next step starts; a statement in flight
// is allowed to finish.
func (r *Runner) Run(ctx context.Context, plan []Step) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Status: RunPending, StartedAt: time.Now()}
	ctx = context.WithValue(ctx, log.RunIDKey, run.ID)

	event := log.NewEvent("migration.run")
	event.AddAttrs(map[string]any{"runId": run.ID, "dialect": r.db.dialect.Name(), "plannedSteps": len(plan)})
	defer func() {
		event.AddAttrs(map[string]any{"status": string(run.Status)})
		r.events.WriteEvent(ctx, event)
	}()

	fail := func(err error) (*Run, error) {
		run.Err = err
		run.FinishedAt = time.Now()
		event.AddError(err)
		return run, err
	}

	if err := validatePlan(plan); err != nil {
		return fail(err)
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrRunAborted, err))
	}

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := r.db.Release(conn); err != nil {
			log.ErrorContext(ctx, "failed to release migration connection", "error", err)
		}
	}()

	// The transaction outlives caller cancellation so that ROLLBACK is always ours to issue.
	txCtx := context.WithoutCancel(ctx)
	tx, err := conn.BeginTxx(txCtx, nil)
	if err != nil {
		return fail(newQueryError("BEGIN", err))
	}

	run.Status = RunRunning
	log.InfoContext(ctx, "migration run started", "steps", len(plan))

	rollback := func(cause error) (*Run, error) {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.ErrorContext(ctx, "failed to roll back migration run", "error", rbErr)
			cause = errors.Join(cause, newQueryError("ROLLBACK", rbErr))
		}
		run.Status = RunRolledBack
		log.ErrorContext(ctx, "migration run rolled back", "error", cause)
		return fail(cause)
	}

	session := newSession(tx, r.db.dialect, r.timeout)

	if err := r.begin(txCtx, session); err != nil {
		return rollback(err)
	}

	logs, err := r.ledger.getMigrationLogs(txCtx, session)
	if err != nil {
		return rollback(err)
	}
	applied := make(map[string]struct{}, len(logs))
	for _, l := range logs {
		applied[Step{Repository: l.Repository, ID: l.MigrationID}.key()] = struct{}{}
	}

	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return rollback(fmt.Errorf("%w before step %s: %w", ErrRunAborted, step.key(), err))
		}

		result, err := r.runStep(ctx, session, step, applied)
		run.Steps = append(run.Steps, result)
		event.AddStepOutcome(slog.LevelInfo, step.key(), string(result.Outcome), result.Duration)
		if err != nil {
			return rollback(err)
		}
	}

	if err := tx.Commit(); err != nil {
		run.Status = RunRolledBack
		return fail(newQueryError("COMMIT", err))
	}

	run.Status = RunCommitted
	run.FinishedAt = time.Now()
	log.InfoContext(ctx, "migration run committed",
		"applied", len(run.Outcomes(StepApplied)),
		"skipped", len(run.Outcomes(StepSkipped)),
	)

	return run, nil
}

// begin prepares the transaction: statement timeout and ledger table.
func (r *Runner) begin(ctx context.Context, s *Session) error {
	if r.timeout > 0 && r.db.dialect == Postgres {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())
		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set statement timeout: %w", err)
		}
	}

	return r.ledger.ensureTable(ctx, s)
}

func (r *Runner) runStep(ctx context.Context, s *Session, step Step, applied map[string]struct{}) (StepResult, error) {
	started := time.Now()
	result := StepResult{Repository: step.Repository, StepID: step.ID, Description: step.describe()}

	ctx = context.WithValue(ctx, log.RepositoryKey, step.Repository)
	ctx = context.WithValue(ctx, log.StepIDKey, step.ID)

	// Each statement of the step gets its own deadline from the session.
	stepCtx := context.WithoutCancel(ctx)

	stepFailed := func(err error) (StepResult, error) {
		result.Outcome = StepFailed
		result.Duration = time.Since(started)
		log.ErrorContext(ctx, "migration step failed", "description", result.Description, "code", ErrorCode(err), "error", err)
		return result, &StepError{Repository: step.Repository, StepID: step.ID, Description: result.Description, Err: err}
	}

	if _, ok := applied[step.key()]; ok {
		result.Outcome = StepSkipped
		result.Reason = "ledger"
		log.InfoContext(ctx, "migration skipped", "description", result.Description, "reason", result.Reason)
		return result, nil
	}

	if step.Check != nil {
		done, err := step.Check(stepCtx, s)
		if err != nil {
			return stepFailed(fmt.Errorf("check: %w", err))
		}
		if done {
			if err := r.ledger.saveMigrationLog(stepCtx, s, step); err != nil {
				return stepFailed(err)
			}
			applied[step.key()] = struct{}{}

			result.Outcome = StepSkipped
			result.Reason = "check"
			result.Duration = time.Since(started)
			log.InfoContext(ctx, "migration skipped", "description", result.Description, "reason", result.Reason)
			return result, nil
		}
	}

	if err := step.Apply(stepCtx, s); err != nil {
		return stepFailed(err)
	}

	if err := r.ledger.saveMigrationLog(stepCtx, s, step); err != nil {
		return stepFailed(err)
	}
	applied[step.key()] = struct{}{}

	result.Outcome = StepApplied
	result.Duration = time.Since(started)
	log.InfoContext(ctx, "migration applied", "description", result.Description, "took", result.Duration)

	return result, nil
}
