package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProber answers from fixed flags and records which checks ran.
type stubProber struct {
	flags  ExistenceFlags
	err    error
	errOn  string
	called []string

	// superAdminAnswers, when set, is consumed by successive SuperAdminExists calls.
	superAdminAnswers []bool
}

func (p *stubProber) answer(name string, v bool) (bool, error) {
	p.called = append(p.called, name)
	if p.err != nil && (p.errOn == "" || p.errOn == name) {
		return false, p.err
	}
	return v, nil
}

func (p *stubProber) SuperAdminExists(context.Context) (bool, error) {
	if len(p.superAdminAnswers) > 0 {
		v := p.superAdminAnswers[0]
		p.superAdminAnswers = p.superAdminAnswers[1:]
		return p.answer("super_admin", v)
	}
	return p.answer("super_admin", p.flags.SuperAdmin)
}

func (p *stubProber) PlanSelected(context.Context) (bool, error) {
	return p.answer("plan", p.flags.PlanSelected)
}

func (p *stubProber) AdminExists(context.Context) (bool, error) {
	return p.answer("admin", p.flags.Admin)
}

func (p *stubProber) OrganizationExists(context.Context) (bool, error) {
	return p.answer("organization", p.flags.Organization)
}

func (p *stubProber) PhoneValidated(context.Context) (bool, error) {
	return p.answer("phone", p.flags.PhoneValidated)
}

func (p *stubProber) GarageWithResponsibleExists(context.Context) (bool, error) {
	return p.answer("garage", p.flags.Garage)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		flags     ExistenceFlags
		step      Step
		completed []Step
	}{
		{
			name:      "fresh installation",
			flags:     ExistenceFlags{},
			step:      StepSuperAdmin,
			completed: []Step{},
		},
		{
			name:      "super admin only",
			flags:     ExistenceFlags{SuperAdmin: true},
			step:      StepPricing,
			completed: []Step{StepSuperAdmin},
		},
		{
			name:      "admin missing while downstream entities exist",
			flags:     ExistenceFlags{SuperAdmin: true, PlanSelected: true, Admin: false, Organization: true, PhoneValidated: true, Garage: true},
			step:      StepAdmin,
			completed: []Step{StepSuperAdmin, StepPricing},
		},
		{
			name:      "garage without super admin",
			flags:     ExistenceFlags{Garage: true, Organization: true},
			step:      StepSuperAdmin,
			completed: []Step{},
		},
		{
			name:      "organization exists, phone not validated",
			flags:     ExistenceFlags{SuperAdmin: true, PlanSelected: true, Admin: true, Organization: true},
			step:      StepSMSValidation,
			completed: []Step{StepSuperAdmin, StepPricing, StepAdmin, StepOrganization},
		},
		{
			name:      "everything exists",
			flags:     ExistenceFlags{SuperAdmin: true, PlanSelected: true, Admin: true, Organization: true, PhoneValidated: true, Garage: true},
			step:      StepCompleted,
			completed: []Step{StepSuperAdmin, StepPricing, StepAdmin, StepOrganization, StepSMSValidation, StepGarage},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, completed := Reconcile(tt.flags)
			assert.Equal(t, tt.step, step)
			assert.Equal(t, tt.completed, completed)
			assert.True(t, sequence.IsPrefix(completed, step))
		})
	}
}

func TestProbeExistenceShortCircuits(t *testing.T) {
	p := &stubProber{flags: ExistenceFlags{SuperAdmin: true, PlanSelected: true, Admin: false, Organization: true, Garage: true}}

	flags, err := ProbeExistence(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"super_admin", "plan", "admin"}, p.called)
	assert.Equal(t, ExistenceFlags{SuperAdmin: true, PlanSelected: true}, flags)
}

func TestProbeExistenceError(t *testing.T) {
	boom := errors.New("connection refused")
	p := &stubProber{flags: ExistenceFlags{SuperAdmin: true}, err: boom, errOn: "plan"}

	_, err := ProbeExistence(context.Background(), p)
	assert.ErrorIs(t, err, boom)
}
