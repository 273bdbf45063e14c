package sms

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoCode          = errors.New("no verification code pending for this number")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeInvalid     = errors.New("verification code is incorrect")
	ErrTooManyAttempts = errors.New("too many attempts, request a new code")
	ErrTooManyCodes    = errors.New("too many codes requested for this number, try again later")
	ErrInvalidPhone    = errors.New("invalid phone number")
)

// Verification is one issued code. Only the bcrypt hash of the code is kept.
type Verification struct {
	ID         uuid.UUID  `db:"id"`
	UserID     *uuid.UUID `db:"user_id"`
	Phone      string     `db:"phone"`
	CodeHash   string     `db:"code_hash"`
	Attempts   int        `db:"attempts"`
	ExpiresAt  time.Time  `db:"expires_at"`
	VerifiedAt *time.Time `db:"verified_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (v *Verification) expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// SendResult is returned to the client after a code was sent.
type SendResult struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}
