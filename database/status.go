package database

import (
	"context"
	"fmt"
	"time"
)

// StepState describes a step as seen from outside a run.
type StepState string

const (
	// StateApplied means the ledger records the step.
	StateApplied StepState = "applied"
	// StateDetected means the step's Check finds its effect but the ledger does not
	// record it yet. The next run adopts it without applying.
	StateDetected StepState = "detected"
	// StatePending means the next run will apply the step.
	StatePending StepState = "pending"
)

// StepStatus reports the state of one planned step.
type StepStatus struct {
	Repository  string     `json:"repository"`
	StepID      string     `json:"id"`
	Description string     `json:"description"`
	State       StepState  `json:"state"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
}

// Status reports the state of every registered step without writing anything.
// Checks run against the committed schema through the pool.
func (db *Database) Status(ctx context.Context) ([]StepStatus, error) {
	plan, err := db.Plan()
	if err != nil {
		return nil, err
	}

	session := db.Session()

	logs, err := db.ledger.getMigrationLogs(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	appliedAt := make(map[string]time.Time, len(logs))
	for _, l := range logs {
		appliedAt[Step{Repository: l.Repository, ID: l.MigrationID}.key()] = l.Timestamp
	}

	statuses := make([]StepStatus, 0, len(plan))
	for _, step := range plan {
		status := StepStatus{Repository: step.Repository, StepID: step.ID, Description: step.describe(), State: StatePending}

		if ts, ok := appliedAt[step.key()]; ok {
			status.State = StateApplied
			status.AppliedAt = &ts
		} else if step.Check != nil {
			done, err := step.Check(ctx, session)
			if err != nil {
				return nil, fmt.Errorf("failed to check step %s: %w", step.key(), err)
			}
			if done {
				status.State = StateDetected
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Pending counts the steps the next run would apply.
func Pending(statuses []StepStatus) int {
	n := 0
	for _, s := range statuses {
		if s.State == StatePending {
			n++
		}
	}
	return n
}
