package onboarding

import "errors"

var (
	// ErrUnknownStep is returned for identifiers outside the canonical order.
	ErrUnknownStep = errors.New("unknown onboarding step")
	// ErrStepMismatch is returned when completing a step that is not current.
	ErrStepMismatch = errors.New("step is not the current onboarding step")
	// ErrTerminal is returned when completing a step after onboarding finished.
	ErrTerminal = errors.New("onboarding already completed")
	// ErrNavigationGuard is returned when jumping to a step whose prerequisites are unmet.
	ErrNavigationGuard = errors.New("cannot navigate to a step whose previous steps are not completed")
	// ErrInFlight is returned while another operation on the same workflow runs.
	ErrInFlight = errors.New("an onboarding operation is already in progress")
	// ErrUnconfirmed is returned when a provisioning success could not be verified.
	ErrUnconfirmed = errors.New("provisioning could not be confirmed")
	// ErrProbeFailed is returned when an existence check itself failed.
	ErrProbeFailed = errors.New("existence check failed")
	// ErrVersionConflict is returned by repositories when the stored row moved on.
	ErrVersionConflict = errors.New("workflow state was modified concurrently")
)
