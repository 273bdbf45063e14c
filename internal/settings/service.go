package settings

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"garage-portal/portal-backend/pkg/storage"
)

// MaxAvatarSize bounds avatar uploads.
const MaxAvatarSize = 2 << 20

var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

type Service struct {
	repo   Repository
	s3     storage.S3Client
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the profile store. s3 may be nil, which disables avatars.
func NewService(repo Repository, s3 storage.S3Client, bucket string, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		s3:     s3,
		bucket: bucket,
		logger: logger,
		now:    time.Now,
	}
}

// GetProfile returns the stored profile or the defaults for a new user.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return &UserProfile{
			UserID:   userID,
			Language: "fr",
			Timezone: "Europe/Paris",
		}, nil
	}
	s.attachAvatarURL(ctx, profile)
	return profile, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req UpdateProfileRequest) (*UserProfile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FullName != "" {
		profile.FullName = req.FullName
	}
	if req.DisplayName != "" {
		profile.DisplayName = req.DisplayName
	}
	if req.Phone != "" {
		profile.Phone = req.Phone
	}
	if req.Language != "" {
		profile.Language = req.Language
	}
	if req.Timezone != "" {
		profile.Timezone = req.Timezone
	}
	if err := s.save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UploadAvatar stores a new avatar and removes the previous one.
func (s *Service) UploadAvatar(ctx context.Context, userID uuid.UUID, contentType string, size int64, body io.Reader) (*UserProfile, error) {
	if s.s3 == nil || s.bucket == "" {
		return nil, ErrStorageDisabled
	}
	if size > MaxAvatarSize {
		return nil, ErrAvatarTooLarge
	}
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return nil, ErrAvatarType
	}

	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("users/%s/avatar-%d.%s", userID, s.now().Unix(), ext)
	if err := s.s3.Upload(ctx, s.bucket, key, io.LimitReader(body, MaxAvatarSize), contentType); err != nil {
		return nil, err
	}

	previous := profile.AvatarKey
	profile.AvatarKey = key
	if err := s.save(ctx, profile); err != nil {
		return nil, err
	}

	if previous != "" && previous != key {
		if err := s.s3.Delete(ctx, s.bucket, previous); err != nil {
			s.logger.Warn("Failed to delete previous avatar", zap.String("key", previous), zap.Error(err))
		}
	}

	s.logger.Info("Avatar updated", zap.String("user_id", userID.String()), zap.String("key", key))
	s.attachAvatarURL(ctx, profile)
	return profile, nil
}

func (s *Service) save(ctx context.Context, profile *UserProfile) error {
	now := s.now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	return s.repo.UpsertProfile(ctx, profile)
}

func (s *Service) attachAvatarURL(ctx context.Context, profile *UserProfile) {
	if profile.AvatarKey == "" || s.s3 == nil {
		return
	}
	url, err := s.s3.GetPresignedURL(ctx, s.bucket, profile.AvatarKey, time.Hour)
	if err != nil {
		s.logger.Warn("Failed to presign avatar", zap.String("key", profile.AvatarKey), zap.Error(err))
		return
	}
	profile.AvatarURL = url
}
