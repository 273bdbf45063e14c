// Package tenants maps the entities created during onboarding and answers
// existence questions about them.
package tenants

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SuperAdmin owns the installation.
type SuperAdmin struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Email     string         `gorm:"not null" json:"email"`
	FullName  string         `json:"full_name"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Subscription records the pricing plan picked for the installation.
type Subscription struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Plan       string         `gorm:"not null" json:"plan"`
	Status     string         `gorm:"not null" json:"status"`
	SelectedBy *uuid.UUID     `gorm:"type:uuid" json:"selected_by,omitempty"`
	Options    datatypes.JSON `json:"options,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Admin manages one organization.
type Admin struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	Email     string         `gorm:"not null" json:"email"`
	FullName  string         `json:"full_name"`
	Phone     string         `json:"phone"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Organization is the legal entity running the garages.
type Organization struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Siret     string         `json:"siret,omitempty"`
	Address   string         `json:"address"`
	AdminID   uuid.UUID      `gorm:"type:uuid;not null" json:"admin_id"`
	Settings  datatypes.JSON `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Garage belongs to an organization. It only counts as set up once a
// responsible person is attached.
type Garage struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null" json:"organization_id"`
	Name           string         `gorm:"not null" json:"name"`
	Address        string         `json:"address"`
	ResponsibleID  *uuid.UUID     `gorm:"type:uuid" json:"responsible_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Plans that can be selected.
const (
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// ValidPlan reports whether plan is offered.
func ValidPlan(plan string) bool {
	switch plan {
	case PlanStarter, PlanPro, PlanEnterprise:
		return true
	}
	return false
}
