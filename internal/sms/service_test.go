package sms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRepository struct {
	mu    sync.Mutex
	codes []*Verification
}

func (r *memoryRepository) Create(_ context.Context, v *Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *v
	r.codes = append(r.codes, &c)
	return nil
}

func (r *memoryRepository) Latest(_ context.Context, phone string) (*Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		if c := r.codes[i]; c.Phone == phone && c.VerifiedAt == nil {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) CountSince(_ context.Context, phone string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.codes {
		if c.Phone == phone && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) find(id uuid.UUID) *Verification {
	for _, c := range r.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *memoryRepository) IncrementAttempts(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.find(id).Attempts++
	return nil
}

func (r *memoryRepository) MarkVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.find(id).VerifiedAt = &at
	return nil
}

func (r *memoryRepository) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*Verification
	var n int64
	for _, c := range r.codes {
		if c.VerifiedAt == nil && c.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	r.codes = kept
	return n, nil
}

type recordingSender struct {
	phone, message string
	err            error
}

func (s *recordingSender) Send(_ context.Context, phone, message string) error {
	s.phone, s.message = phone, message
	return s.err
}

func newTestService() (*Service, *memoryRepository, *recordingSender, *time.Time) {
	repo := &memoryRepository{}
	sender := &recordingSender{}
	svc := NewService(repo, sender, zap.NewNop(), Config{CodeTTL: 10 * time.Minute, MaxAttempts: 3, CountryCode: "+33"})
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.generate = func() (string, error) { return "482913", nil }
	return svc, repo, sender, &now
}

func TestSendAndVerifyCode(t *testing.T) {
	svc, repo, sender, _ := newTestService()
	ctx := context.Background()

	res, err := svc.SendCode(ctx, "06 12 34 56 78", nil)
	require.NoError(t, err)
	assert.Equal(t, "+33612345678", res.Phone)
	assert.Equal(t, "+33612345678", sender.phone)
	assert.Contains(t, sender.message, "482913")
	require.Len(t, repo.codes, 1)
	assert.NotContains(t, repo.codes[0].CodeHash, "482913")

	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "000000"), ErrCodeInvalid)
	require.NoError(t, svc.VerifyCode(ctx, "0612345678", "482913"))
	assert.NotNil(t, repo.codes[0].VerifiedAt)

	assert.ErrorIs(t, svc.VerifyCode(ctx, "0612345678", "482913"), ErrNoCode)
}

func TestVerifyCodeExpired(t *testing.T) {
	svc, _, _, now := newTestService()
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "+33612345678", nil)
	require.NoError(t, err)

	*now = now.Add(11 * time.Minute)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "482913"), ErrCodeExpired)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVerifyCodeAttemptLimit(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "+33612345678", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "111111"), ErrCodeInvalid)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "222222"), ErrCodeInvalid)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "333333"), ErrTooManyAttempts)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+33612345678", "482913"), ErrTooManyAttempts)
}

func TestSendCodeRateLimit(t *testing.T) {
	svc, repo, _, now := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.SendCode(ctx, "0612345678", nil)
		require.NoError(t, err)
		*now = now.Add(5 * time.Minute)
	}
	_, err := svc.SendCode(ctx, "+33612345678", nil)
	assert.ErrorIs(t, err, ErrTooManyCodes)
	assert.Len(t, repo.codes, 3)

	_, err = svc.SendCode(ctx, "+33699999999", nil)
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	_, err = svc.SendCode(ctx, "+33612345678", nil)
	require.NoError(t, err)
}

func TestSendCodeSenderFailure(t *testing.T) {
	svc, _, sender, _ := newTestService()
	sender.err = errors.New("throttled")

	_, err := svc.SendCode(context.Background(), "+33612345678", nil)
	assert.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"+33 6 12 34 56 78", "+33612345678", false},
		{"0033612345678", "+33612345678", false},
		{"06.12.34.56.78", "+33612345678", false},
		{"(555) 123-4567", "+5551234567", false},
		{"06-12", "", true},
		{"call me", "", true},
		{"+1234567890123456", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in, "+33")
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
	}
}

// MockPublisher is a mock implementation of PublishAPI
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestSNSSender(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return *in.PhoneNumber == "+33612345678" &&
			*in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue == "GARAGE" &&
			*in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue == "Transactional"
	})).Return(&sns.PublishOutput{}, nil)

	err := NewSNSSender(pub, "GARAGE").Send(context.Background(), "+33612345678", "hello")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestRepositoryLatestAndPurge(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(sqlx.NewDb(db, "postgres"))

	id := uuid.New()
	expires := time.Date(2026, 6, 1, 9, 10, 0, 0, time.UTC)
	dbMock.ExpectQuery("SELECT (.+) FROM sms_verifications").
		WithArgs("+33612345678").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "phone", "code_hash", "attempts", "expires_at", "verified_at", "created_at"}).
			AddRow(id.String(), nil, "+33612345678", "hash", 2, expires, nil, expires.Add(-10*time.Minute)))

	v, err := repo.Latest(context.Background(), "+33612345678")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, id, v.ID)
	assert.Nil(t, v.UserID)
	assert.Equal(t, 2, v.Attempts)

	since := expires.Add(-time.Hour)
	dbMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sms_verifications").
		WithArgs("+33612345678", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	issued, err := repo.CountSince(context.Background(), "+33612345678", since)
	require.NoError(t, err)
	assert.Equal(t, 2, issued)

	dbMock.ExpectExec("DELETE FROM sms_verifications").
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := repo.PurgeExpired(context.Background(), expires)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, dbMock.ExpectationsWereMet())
}
