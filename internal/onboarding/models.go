package onboarding

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"garage-portal/portal-backend/pkg/workflows"
)

// Step is one stage of the onboarding sequence.
type Step string

const (
	StepSuperAdmin    Step = "super_admin"
	StepPricing       Step = "pricing"
	StepAdmin         Step = "admin"
	StepOrganization  Step = "organization"
	StepSMSValidation Step = "sms_validation"
	StepGarage        Step = "garage"
	StepCompleted     Step = "completed"
)

// sequence is the canonical order. Every transition goes through it.
var sequence = workflows.NewStateMachine(
	StepSuperAdmin,
	StepPricing,
	StepAdmin,
	StepOrganization,
	StepSMSValidation,
	StepGarage,
	StepCompleted,
)

var stepNames = map[Step]string{
	StepSuperAdmin:    "Super administrator",
	StepPricing:       "Pricing plan",
	StepAdmin:         "Administrator",
	StepOrganization:  "Organization",
	StepSMSValidation: "Phone validation",
	StepGarage:        "Garage",
	StepCompleted:     "Done",
}

// Steps returns the canonical order.
func Steps() []Step {
	return sequence.States()
}

// ParseStep accepts only canonical identifiers.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if !sequence.Contains(step) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
	}
	return step, nil
}

// Next returns the step that follows s.
func (s Step) Next() (Step, bool) {
	return sequence.Next(s)
}

// Index returns the position of s in the canonical order, -1 if unknown.
func (s Step) Index() int {
	return sequence.Index(s)
}

// Name is a human readable label.
func (s Step) Name() string {
	return stepNames[s]
}

// Metadata is a free-form bag stored as JSONB.
type Metadata map[string]interface{}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Metadata keys written by the engine.
const (
	MetaPlan        = "plan"
	MetaCompletedAt = "completed_at"
)

func completedAtKey(step Step) string {
	return "completed_at." + string(step)
}

// State is the durable record of onboarding progress for one identity.
type State struct {
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	CurrentStep    Step       `json:"current_step"`
	CompletedSteps []Step     `json:"completed_steps"`
	// ViewStep is the step the UI renders. It differs from CurrentStep only
	// after navigating back to a completed step or ahead to the successor.
	ViewStep    Step      `json:"view_step"`
	Metadata    Metadata  `json:"metadata"`
	IsCompleted bool      `json:"is_completed"`
	Version     int       `json:"version"`
	Synced      bool      `json:"synced"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InitialState is the state of a workflow that has not started.
func InitialState(userID *uuid.UUID) State {
	first := sequence.First()
	return State{
		UserID:         copyID(userID),
		CurrentStep:    first,
		CompletedSteps: []Step{},
		ViewStep:       first,
		Metadata:       Metadata{},
		Synced:         true,
	}
}

func (s State) clone() State {
	out := s
	out.UserID = copyID(s.UserID)
	out.CompletedSteps = append([]Step{}, s.CompletedSteps...)
	out.Metadata = s.Metadata.clone()
	return out
}

// IsCompletedStep reports whether step is in the completed prefix.
func (s State) IsCompletedStep(step Step) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func sameUser(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// StepProgress describes one step for the progress bar.
type StepProgress struct {
	ID        Step   `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}

// Progress represents the overall onboarding progress
type Progress struct {
	CurrentStep     Step           `json:"current_step"`
	TotalSteps      int            `json:"total_steps"`
	PercentComplete float64        `json:"percent_complete"`
	Steps           []StepProgress `json:"steps"`
}

// BuildProgress summarises a state. The terminal step is not counted.
func BuildProgress(s State) Progress {
	all := Steps()
	actionable := len(all) - 1
	p := Progress{
		CurrentStep: s.CurrentStep,
		TotalSteps:  actionable,
		Steps:       make([]StepProgress, 0, actionable),
	}
	for i, step := range all[:actionable] {
		p.Steps = append(p.Steps, StepProgress{
			ID:        step,
			Name:      step.Name(),
			Order:     i + 1,
			Completed: s.IsCompletedStep(step),
			Current:   step == s.CurrentStep,
		})
	}
	if actionable > 0 {
		p.PercentComplete = float64(len(s.CompletedSteps)) / float64(actionable) * 100
	}
	return p
}
