package settings

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAvatarTooLarge  = errors.New("avatar exceeds the size limit")
	ErrAvatarType      = errors.New("avatar must be a png, jpeg or webp image")
	ErrStorageDisabled = errors.New("avatar storage is not configured")
)

type UserProfile struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	FullName    string    `json:"full_name" db:"full_name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Phone       string    `json:"phone" db:"phone"`
	Language    string    `json:"language" db:"language"`
	Timezone    string    `json:"timezone" db:"timezone"`
	AvatarKey   string    `json:"-" db:"avatar_key"`
	AvatarURL   string    `json:"avatar_url,omitempty" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// UpdateProfileRequest holds the editable fields. Empty values are left unchanged.
type UpdateProfileRequest struct {
	FullName    string `json:"full_name" binding:"omitempty,min=2,max=100"`
	DisplayName string `json:"display_name" binding:"omitempty,max=50"`
	Phone       string `json:"phone" binding:"omitempty,max=32"`
	Language    string `json:"language" binding:"omitempty,oneof=fr en"`
	Timezone    string `json:"timezone" binding:"omitempty,max=64"`
}
