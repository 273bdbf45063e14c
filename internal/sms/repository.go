package sms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository stores issued verification codes.
type Repository interface {
	Create(ctx context.Context, v *Verification) error
	// Latest returns the newest unverified code for phone, nil if none.
	Latest(ctx context.Context, phone string) (*Verification, error)
	// CountSince counts codes issued for phone at or after since.
	CountSince(ctx context.Context, phone string, since time.Time) (int, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	// PurgeExpired deletes unverified codes that expired before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, v *Verification) error {
	query := `
		INSERT INTO sms_verifications (
			id, user_id, phone, code_hash, attempts, expires_at, created_at
		) VALUES (
			:id, :user_id, :phone, :code_hash, :attempts, :expires_at, :created_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

func (r *postgresRepository) Latest(ctx context.Context, phone string) (*Verification, error) {
	var v Verification
	err := r.db.GetContext(ctx, &v, `
		SELECT id, user_id, phone, code_hash, attempts, expires_at, verified_at, created_at
		FROM sms_verifications
		WHERE phone = $1 AND verified_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}
	return &v, nil
}

func (r *postgresRepository) CountSince(ctx context.Context, phone string, since time.Time) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sms_verifications WHERE phone = $1 AND created_at >= $2", phone, since); err != nil {
		return 0, fmt.Errorf("failed to count verification codes: %w", err)
	}
	return n, nil
}

func (r *postgresRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE sms_verifications SET attempts = attempts + 1 WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (r *postgresRepository) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE sms_verifications SET verified_at = $2 WHERE id = $1", id, at); err != nil {
		return fmt.Errorf("failed to mark code verified: %w", err)
	}
	return nil
}

func (r *postgresRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sms_verifications WHERE verified_at IS NULL AND expires_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired codes: %w", err)
	}
	return res.RowsAffected()
}
