package onboarding

import (
	"context"
	"fmt"
)

// Prober answers "does entity X already exist for this installation?".
type Prober interface {
	SuperAdminExists(ctx context.Context) (bool, error)
	PlanSelected(ctx context.Context) (bool, error)
	AdminExists(ctx context.Context) (bool, error)
	OrganizationExists(ctx context.Context) (bool, error)
	PhoneValidated(ctx context.Context) (bool, error)
	GarageWithResponsibleExists(ctx context.Context) (bool, error)
}

// ExistenceFlags is the outcome of the existence probes. Each flag proves
// that the step of the same position is done.
type ExistenceFlags struct {
	SuperAdmin     bool `json:"super_admin"`
	PlanSelected   bool `json:"plan_selected"`
	Admin          bool `json:"admin"`
	Organization   bool `json:"organization"`
	PhoneValidated bool `json:"phone_validated"`
	Garage         bool `json:"garage"`
}

type probe struct {
	step  Step
	flag  func(*ExistenceFlags) *bool
	check func(Prober, context.Context) (bool, error)
}

// probes is ordered by precedence: an entity is only checked once everything
// it depends on exists.
var probes = []probe{
	{StepSuperAdmin, func(f *ExistenceFlags) *bool { return &f.SuperAdmin }, Prober.SuperAdminExists},
	{StepPricing, func(f *ExistenceFlags) *bool { return &f.PlanSelected }, Prober.PlanSelected},
	{StepAdmin, func(f *ExistenceFlags) *bool { return &f.Admin }, Prober.AdminExists},
	{StepOrganization, func(f *ExistenceFlags) *bool { return &f.Organization }, Prober.OrganizationExists},
	{StepSMSValidation, func(f *ExistenceFlags) *bool { return &f.PhoneValidated }, Prober.PhoneValidated},
	{StepGarage, func(f *ExistenceFlags) *bool { return &f.Garage }, Prober.GarageWithResponsibleExists},
}

// ProbeExistence runs the probes in precedence order and stops at the first
// missing entity; flags after it stay false.
func ProbeExistence(ctx context.Context, p Prober) (ExistenceFlags, error) {
	var flags ExistenceFlags
	for _, pr := range probes {
		ok, err := pr.check(p, ctx)
		if err != nil {
			return flags, fmt.Errorf("probe %s: %w", pr.step, err)
		}
		if !ok {
			return flags, nil
		}
		*pr.flag(&flags) = true
	}
	return flags, nil
}

// Reconcile maps existence flags to the step the user must be on and the
// completed prefix before it. The earliest missing entity wins; evidence of
// later entities is ignored.
func Reconcile(flags ExistenceFlags) (Step, []Step) {
	for _, pr := range probes {
		if !*pr.flag(&flags) {
			return pr.step, sequence.Prefix(pr.step)
		}
	}
	terminal := sequence.Terminal()
	return terminal, sequence.Prefix(terminal)
}
