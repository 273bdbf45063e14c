package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	// GetProfile returns nil, nil when the user has no profile yet.
	GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error)
	UpsertProfile(ctx context.Context, profile *UserProfile) error
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates a new settings repository
func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	var p UserProfile
	err := r.db.GetContext(ctx, &p, `
		SELECT user_id, full_name, display_name, phone, language, timezone, avatar_key, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) UpsertProfile(ctx context.Context, profile *UserProfile) error {
	query := `
		INSERT INTO user_profiles (
			user_id, full_name, display_name, phone, language, timezone, avatar_key, created_at, updated_at
		) VALUES (
			:user_id, :full_name, :display_name, :phone, :language, :timezone, :avatar_key, :created_at, :updated_at
		)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			display_name = EXCLUDED.display_name,
			phone = EXCLUDED.phone,
			language = EXCLUDED.language,
			timezone = EXCLUDED.timezone,
			avatar_key = EXCLUDED.avatar_key,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
