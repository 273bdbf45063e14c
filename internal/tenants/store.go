package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open wraps an existing connection pool in gorm.
func Open(sqlDB *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, nil
}

// Store reads and writes tenant entities. It implements onboarding.Prober.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) exists(ctx context.Context, model interface{}, query string, args ...interface{}) (bool, error) {
	var n int64
	tx := s.db.WithContext(ctx).Model(model)
	if query != "" {
		tx = tx.Where(query, args...)
	}
	if err := tx.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SuperAdminExists(ctx context.Context) (bool, error) {
	return s.exists(ctx, &SuperAdmin{}, "")
}

func (s *Store) PlanSelected(ctx context.Context) (bool, error) {
	return s.exists(ctx, &Subscription{}, "status = ?", "active")
}

func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	return s.exists(ctx, &Admin{}, "")
}

func (s *Store) OrganizationExists(ctx context.Context) (bool, error) {
	return s.exists(ctx, &Organization{}, "")
}

// PhoneValidated looks at the codes issued by the sms package.
func (s *Store) PhoneValidated(ctx context.Context) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Table("sms_verifications").
		Where("verified_at IS NOT NULL").
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GarageWithResponsibleExists(ctx context.Context) (bool, error) {
	return s.exists(ctx, &Garage{}, "responsible_id IS NOT NULL")
}

// SelectPlan stores the chosen plan, replacing any earlier choice.
func (s *Store) SelectPlan(ctx context.Context, plan string, selectedBy *uuid.UUID, options map[string]interface{}) (*Subscription, error) {
	if !ValidPlan(plan) {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}
	sub := &Subscription{
		ID:         uuid.New(),
		Plan:       plan,
		Status:     "active",
		SelectedBy: selectedBy,
	}
	if len(options) > 0 {
		raw, err := json.Marshal(options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan options: %w", err)
		}
		sub.Options = datatypes.JSON(raw)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Subscription{}).Where("status = ?", "active").Update("status", "replaced").Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select plan: %w", err)
	}

	s.logger.Info("Pricing plan selected", zap.String("plan", plan))
	return sub, nil
}

// ActiveSubscription returns the current plan, nil if none was chosen.
func (s *Store) ActiveSubscription(ctx context.Context) (*Subscription, error) {
	var subs []Subscription
	if err := s.db.WithContext(ctx).Where("status = ?", "active").Order("created_at desc").Limit(1).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}
