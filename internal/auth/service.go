package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Service fronts the identity provider for the HTTP layer.
type Service struct {
	identity IdentityProvider
	logger   *zap.Logger
}

func NewService(identity IdentityProvider, logger *zap.Logger) *Service {
	return &Service{identity: identity, logger: logger}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	var meta map[string]interface{}
	if req.Name != "" {
		meta = map[string]interface{}{"name": req.Name}
	}
	if _, err := s.identity.CreateAccount(ctx, email, req.Password, meta); err != nil {
		return nil, err
	}
	return s.identity.SignIn(ctx, email, req.Password)
}

// Login signs in with email and password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	session, err := s.identity.SignIn(ctx, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		s.logger.Info("Sign-in failed", zap.String("email", req.Email), zap.Error(err))
		return nil, err
	}
	return session, nil
}
