package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository persists one workflow state per user.
type Repository interface {
	// Get returns nil, nil when no state is stored.
	Get(ctx context.Context, userID uuid.UUID) (*State, error)
	// Save writes state conditionally on state.Version and bumps it on success.
	// A stale version yields ErrVersionConflict.
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type workflowRow struct {
	UserID         uuid.UUID      `db:"user_id"`
	CurrentStep    string         `db:"current_step"`
	CompletedSteps pq.StringArray `db:"completed_steps"`
	Metadata       Metadata       `db:"metadata"`
	Version        int            `db:"version"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Get(ctx context.Context, userID uuid.UUID) (*State, error) {
	var row workflowRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, current_step, completed_steps, metadata, version, updated_at
		FROM onboarding_workflows
		WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}
	return row.toState()
}

func (r *postgresRepository) Save(ctx context.Context, state *State) error {
	if state.UserID == nil {
		return errors.New("cannot persist a workflow without user id")
	}
	row := newWorkflowRow(state)

	var query string
	if state.Version == 0 {
		query = `
			INSERT INTO onboarding_workflows (
				user_id, current_step, completed_steps, metadata, version, updated_at
			) VALUES (
				:user_id, :current_step, :completed_steps, :metadata, 1, :updated_at
			)
			ON CONFLICT (user_id) DO NOTHING`
	} else {
		query = `
			UPDATE onboarding_workflows SET
				current_step = :current_step,
				completed_steps = :completed_steps,
				metadata = :metadata,
				version = version + 1,
				updated_at = :updated_at
			WHERE user_id = :user_id AND version = :version`
	}

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	state.Version++
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM onboarding_workflows WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to delete workflow state: %w", err)
	}
	return nil
}

func newWorkflowRow(s *State) workflowRow {
	completed := make(pq.StringArray, len(s.CompletedSteps))
	for i, step := range s.CompletedSteps {
		completed[i] = string(step)
	}
	return workflowRow{
		UserID:         *s.UserID,
		CurrentStep:    string(s.CurrentStep),
		CompletedSteps: completed,
		Metadata:       s.Metadata,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (row workflowRow) toState() (*State, error) {
	current, err := ParseStep(row.CurrentStep)
	if err != nil {
		return nil, err
	}
	completed := make([]Step, 0, len(row.CompletedSteps))
	for _, raw := range row.CompletedSteps {
		step, err := ParseStep(raw)
		if err != nil {
			return nil, err
		}
		completed = append(completed, step)
	}
	metadata := row.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	userID := row.UserID
	return &State{
		UserID:         &userID,
		CurrentStep:    current,
		CompletedSteps: completed,
		ViewStep:       current,
		Metadata:       metadata,
		IsCompleted:    current == StepCompleted,
		Version:        row.Version,
		Synced:         true,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}
