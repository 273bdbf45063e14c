package sms

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Config tunes code issuing.
// MaxSends codes at most are issued per phone within SendWindow.
type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	MaxSends    int
	SendWindow  time.Duration
	CountryCode string
}

// Service issues and checks phone verification codes.
type Service struct {
	repo   Repository
	sender Sender
	logger *zap.Logger
	config Config

	now      func() time.Time
	generate func() (string, error)
}

func NewService(repo Repository, sender Sender, logger *zap.Logger, config Config) *Service {
	if config.CodeTTL <= 0 {
		config.CodeTTL = 10 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.MaxSends <= 0 {
		config.MaxSends = 3
	}
	if config.SendWindow <= 0 {
		config.SendWindow = time.Hour
	}
	return &Service{
		repo:     repo,
		sender:   sender,
		logger:   logger,
		config:   config,
		now:      time.Now,
		generate: generateCode,
	}
}

// SendCode issues a fresh code for phone and texts it. It returns
// ErrTooManyCodes once MaxSends codes were issued within SendWindow.
func (s *Service) SendCode(ctx context.Context, phone string, userID *uuid.UUID) (*SendResult, error) {
	normalized, err := NormalizePhone(phone, s.config.CountryCode)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	issued, err := s.repo.CountSince(ctx, normalized, now.Add(-s.config.SendWindow))
	if err != nil {
		return nil, err
	}
	if issued >= s.config.MaxSends {
		s.logger.Warn("Verification code rate limit reached",
			zap.String("phone", mask(normalized)),
			zap.Int("issued", issued))
		return nil, ErrTooManyCodes
	}

	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	v := &Verification{
		ID:        uuid.New(),
		UserID:    userID,
		Phone:     normalized,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.config.CodeTTL),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.config.CodeTTL.Minutes()))
	if err := s.sender.Send(ctx, normalized, msg); err != nil {
		s.logger.Error("Failed to send verification sms",
			zap.String("phone", mask(normalized)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Verification code sent", zap.String("phone", mask(normalized)))
	return &SendResult{Phone: normalized, ExpiresAt: v.ExpiresAt}, nil
}

// VerifyCode checks code against the latest pending code for phone.
func (s *Service) VerifyCode(ctx context.Context, phone, code string) error {
	normalized, err := NormalizePhone(phone, s.config.CountryCode)
	if err != nil {
		return err
	}

	v, err := s.repo.Latest(ctx, normalized)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrNoCode
	}

	now := s.now().UTC()
	if v.expired(now) {
		return ErrCodeExpired
	}
	if v.Attempts >= s.config.MaxAttempts {
		return ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(strings.TrimSpace(code))); err != nil {
		if err := s.repo.IncrementAttempts(ctx, v.ID); err != nil {
			return err
		}
		if v.Attempts+1 >= s.config.MaxAttempts {
			return ErrTooManyAttempts
		}
		return ErrCodeInvalid
	}

	if err := s.repo.MarkVerified(ctx, v.ID, now); err != nil {
		return err
	}
	s.logger.Info("Phone number verified", zap.String("phone", mask(normalized)))
	return nil
}

// PurgeExpired removes codes that can no longer be used.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Purged expired verification codes", zap.Int64("count", n))
	}
	return n, nil
}

// NormalizePhone returns phone in E.164 form. National numbers starting with
// a single 0 get countryCode.
func NormalizePhone(phone, countryCode string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	n := b.String()
	switch {
	case strings.HasPrefix(n, "+"):
	case strings.HasPrefix(n, "00"):
		n = "+" + n[2:]
	case strings.HasPrefix(n, "0") && countryCode != "":
		n = countryCode + n[1:]
	default:
		n = "+" + n
	}
	digits := len(n) - 1
	if digits < 8 || digits > 15 {
		return "", ErrInvalidPhone
	}
	return n, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func mask(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
