package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"garage-portal/portal-backend/pkg/platform"
)

// MockIdentity is a mock implementation of IdentityProvider
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (*User, error) {
	args := m.Called(ctx, email, password, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockIdentity) SignIn(ctx context.Context, email, password string) (*Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	userID := uuid.New()

	token, err := v.Sign(userID, "owner@garage.fr", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)
	assert.Equal(t, "owner@garage.fr", claims.Email)
}

func TestTokenVerifierRejects(t *testing.T) {
	v := NewTokenVerifier(testSecret)

	expired, err := v.Sign(uuid.New(), "", -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenVerifier("another-secret-another-secret-another").Sign(uuid.New(), "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "service_role",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(badSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewTokenVerifier(testSecret)
	userID := uuid.New()
	token, err := v.Sign(userID, "a@b.fr", time.Hour)
	require.NoError(t, err)

	newRouter := func(required bool) *gin.Engine {
		r := gin.New()
		r.GET("/x", Middleware(v, required), func(c *gin.Context) {
			id := UserID(c)
			if id == nil {
				c.String(http.StatusOK, "anonymous")
				return
			}
			c.String(http.StatusOK, id.String())
		})
		return r
	}

	tests := []struct {
		name     string
		required bool
		header   string
		query    string
		status   int
		body     string
	}{
		{"optional anonymous", false, "", "", http.StatusOK, "anonymous"},
		{"required anonymous", true, "", "", http.StatusUnauthorized, ""},
		{"bearer", true, "Bearer " + token, "", http.StatusOK, userID.String()},
		{"query token", true, "", "?access_token=" + token, http.StatusOK, userID.String()},
		{"garbage", false, "Bearer nope", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			newRouter(tt.required).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestPlatformIdentity(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		switch r.URL.Path {
		case "/auth/v1/signup":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["email"] == "taken@garage.fr" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"code":422,"msg":"User already registered"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": userID, "email": body["email"]})
		case "/auth/v1/token":
			assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "correct-horse" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   3600,
				"user":         map[string]interface{}{"id": userID, "email": body["email"]},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	hc := platform.NewClient(platform.Options{Timeout: time.Second}, zap.NewNop())
	p := NewPlatformIdentity(hc, srv.URL, "anon", zap.NewNop())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	ctx := context.Background()

	user, err := p.CreateAccount(ctx, "owner@garage.fr", "correct-horse", map[string]interface{}{"role": "super_admin"})
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)

	_, err = p.CreateAccount(ctx, "taken@garage.fr", "correct-horse", nil)
	assert.ErrorIs(t, err, ErrAccountExists)
	assert.Contains(t, err.Error(), "User already registered")

	session, err := p.SignIn(ctx, "owner@garage.fr", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.AccessToken)
	assert.Equal(t, fixed.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, userID, session.User.ID)

	_, err = p.SignIn(ctx, "owner@garage.fr", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	identity := new(MockIdentity)
	h := NewHandler(NewService(identity, zap.NewNop()))
	v := NewTokenVerifier(testSecret)

	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), h, Middleware(v, true))

	userID := uuid.New()
	session := &Session{AccessToken: "tok", User: User{ID: userID, Email: "owner@garage.fr"}}
	identity.On("CreateAccount", mock.Anything, "owner@garage.fr", "correct-horse", map[string]interface{}{"name": "Camille"}).
		Return(&User{ID: userID, Email: "owner@garage.fr"}, nil)
	identity.On("SignIn", mock.Anything, "owner@garage.fr", "correct-horse").Return(session, nil)
	identity.On("SignIn", mock.Anything, "owner@garage.fr", "wrong-pass").Return(nil, ErrInvalidCredentials)

	post := func(path string, body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/api/v1/auth/register", map[string]string{"email": "Owner@Garage.fr", "password": "correct-horse", "name": "Camille"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = post("/api/v1/auth/register", map[string]string{"email": "nope", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post("/api/v1/auth/login", map[string]string{"email": "owner@garage.fr", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := v.Sign(userID, "owner@garage.fr", time.Hour)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())

	identity.AssertExpectations(t)
}
