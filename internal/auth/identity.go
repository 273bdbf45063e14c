package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// IdentityProvider issues accounts and sessions.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (*User, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
}

// PlatformIdentity talks to the hosted backend's auth endpoints under /auth/v1.
type PlatformIdentity struct {
	http    *retryablehttp.Client
	baseURL string
	anonKey string
	logger  *zap.Logger
	now     func() time.Time
}

func NewPlatformIdentity(httpClient *retryablehttp.Client, baseURL, anonKey string, logger *zap.Logger) *PlatformIdentity {
	return &PlatformIdentity{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		logger:  logger,
		now:     time.Now,
	}
}

type platformError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Code             int    `json:"code"`
}

func (e platformError) message() string {
	for _, m := range []string{e.Msg, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

func (p *PlatformIdentity) CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (*User, error) {
	body := map[string]interface{}{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var user User
	status, perr, err := p.post(ctx, "/auth/v1/signup", body, &user)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, perr.message())
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("failed to create account: %s", perr.message())
	}

	p.logger.Info("Account created", zap.String("user_id", user.ID.String()))
	return &user, nil
}

func (p *PlatformIdentity) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		User         User   `json:"user"`
	}
	status, perr, err := p.post(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("failed to sign in: %s", perr.message())
	}

	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		User:         resp.User,
	}, nil
}

// post sends body and decodes a 2xx response into out. Non-2xx bodies are
// decoded into the returned platformError.
func (p *PlatformIdentity) post(ctx context.Context, path string, body interface{}, out interface{}) (int, platformError, error) {
	var perr platformError
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, perr, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, perr, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.anonKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, perr, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, perr, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		_ = json.Unmarshal(raw, &perr)
		if perr.message() == "" {
			perr.Msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, perr, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, perr, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, perr, nil
}
