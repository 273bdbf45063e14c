package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"garage-portal/portal-backend/internal/auth"
	"garage-portal/portal-backend/internal/notifications"
	"garage-portal/portal-backend/internal/provisioning"
	"garage-portal/portal-backend/internal/sms"
	"garage-portal/portal-backend/internal/tenants"
	"garage-portal/portal-backend/pkg/cache"
)

// PlanStore records the pricing plan choice.
type PlanStore interface {
	SelectPlan(ctx context.Context, plan string, selectedBy *uuid.UUID, options map[string]interface{}) (*tenants.Subscription, error)
}

// PhoneVerifier issues and checks SMS codes.
type PhoneVerifier interface {
	SendCode(ctx context.Context, phone string, userID *uuid.UUID) (*sms.SendResult, error)
	VerifyCode(ctx context.Context, phone, code string) error
}

// Notifier pushes state to open tabs and sends the completion email.
type Notifier interface {
	PublishState(key string, state interface{}) notifications.DeliveryStatus
	MoveSubscribers(from, to string)
	SendOnboardingComplete(ctx context.Context, to, garageName string) notifications.DeliveryStatus
}

// ValidationError lists invalid form fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "invalid form: " + strings.Join(parts, ", ")
}

func validateForm(values map[string]string) error {
	if failures := ValidateForm(values); len(failures) > 0 {
		return &ValidationError{Fields: failures}
	}
	return nil
}

// ServiceConfig configures the session service.
type ServiceConfig struct {
	InstallationID string
	SessionTTL     time.Duration
	Engine         EngineConfig
}

// session is one live engine plus a guard against concurrent form submissions.
// warm serialises first-use initialization.
type session struct {
	engine *Engine
	warm   sync.Mutex
	ready  atomic.Bool
	busy   atomic.Bool
}

// Service keeps one engine per identity and drives it from the step forms.
type Service struct {
	repo     Repository
	prober   Prober
	identity auth.IdentityProvider
	invoker  provisioning.Invoker
	plans    PlanStore
	phones   PhoneVerifier
	notifier Notifier
	logger   *zap.Logger
	config   ServiceConfig

	sessions  *cache.Cache[*session]
	newEngine func(userID *uuid.UUID) *Engine
}

func NewService(
	repo Repository,
	prober Prober,
	identity auth.IdentityProvider,
	invoker provisioning.Invoker,
	plans PlanStore,
	phones PhoneVerifier,
	notifier Notifier,
	logger *zap.Logger,
	config ServiceConfig,
) *Service {
	if config.InstallationID == "" {
		config.InstallationID = "default"
	}
	s := &Service{
		repo:     repo,
		prober:   prober,
		identity: identity,
		invoker:  invoker,
		plans:    plans,
		phones:   phones,
		notifier: notifier,
		logger:   logger,
		config:   config,
		sessions: cache.New[*session](config.SessionTTL),
	}
	s.newEngine = func(userID *uuid.UUID) *Engine {
		return NewEngine(repo, prober, logger, config.Engine, userID)
	}
	return s
}

// IdentityKey names the engine of userID, or of the installation before any
// account exists.
func (s *Service) IdentityKey(userID *uuid.UUID) string {
	if userID == nil {
		return "installation:" + s.config.InstallationID
	}
	return "user:" + userID.String()
}

func (s *Service) lookup(userID *uuid.UUID) *session {
	return s.sessions.GetOrCreate(s.IdentityKey(userID), func() *session {
		e := s.newEngine(userID)
		e.SetListener(s.publish)
		return &session{engine: e}
	})
}

func (s *Service) publish(state State) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishState(s.IdentityKey(state.UserID), state)
}

// warmUp initializes sess once. Concurrent callers wait for the first one.
// When another operation holds the engine the snapshot is returned as is.
func (s *Service) warmUp(ctx context.Context, sess *session, userID *uuid.UUID) (State, error) {
	if sess.ready.Load() {
		return sess.engine.State(), nil
	}
	sess.warm.Lock()
	defer sess.warm.Unlock()
	if sess.ready.Load() {
		return sess.engine.State(), nil
	}

	state, err := sess.engine.Initialize(ctx, userID)
	switch {
	case errors.Is(err, ErrInFlight):
		return state, nil
	case err == nil, errors.Is(err, ErrProbeFailed):
		sess.ready.Store(true)
	}
	return state, err
}

// live returns the session for userID, initialized at least once.
func (s *Service) live(ctx context.Context, userID *uuid.UUID) (*session, error) {
	sess := s.lookup(userID)
	if _, err := s.warmUp(ctx, sess, userID); err != nil && !errors.Is(err, ErrProbeFailed) {
		return nil, err
	}
	return sess, nil
}

// State returns the current state, initializing the engine on first use.
func (s *Service) State(ctx context.Context, userID *uuid.UUID) (State, error) {
	return s.warmUp(ctx, s.lookup(userID), userID)
}

// Initialize reloads and reconciles the workflow of userID.
func (s *Service) Initialize(ctx context.Context, userID *uuid.UUID) (State, error) {
	sess := s.lookup(userID)
	state, err := sess.engine.Initialize(ctx, userID)
	if err == nil || errors.Is(err, ErrProbeFailed) {
		sess.ready.Store(true)
	}
	return state, err
}

// Navigate moves the viewed step.
func (s *Service) Navigate(ctx context.Context, userID *uuid.UUID, target string) (State, error) {
	step, err := ParseStep(target)
	if err != nil {
		return State{}, err
	}
	sess, err := s.live(ctx, userID)
	if err != nil {
		return State{}, err
	}
	return sess.engine.GoToStep(ctx, step)
}

// Reset wipes the workflow of userID. The installation workflow cannot be
// reset.
func (s *Service) Reset(ctx context.Context, userID *uuid.UUID) (State, error) {
	if userID == nil {
		return State{}, auth.ErrNoSession
	}
	sess, err := s.live(ctx, userID)
	if err != nil {
		return State{}, err
	}
	return sess.engine.Reset(ctx)
}

// submit runs fn for a step form. It refuses a step that is not current and
// a second submission while one is running; fn must not complete the step
// itself when the remote work failed.
func (s *Service) submit(ctx context.Context, userID *uuid.UUID, step Step, fn func(*session) (State, error)) (State, error) {
	sess, err := s.live(ctx, userID)
	if err != nil {
		return State{}, err
	}
	if !sess.busy.CompareAndSwap(false, true) {
		return sess.engine.State(), ErrInFlight
	}
	defer sess.busy.Store(false)

	current := sess.engine.State()
	if current.IsCompleted {
		return current, ErrTerminal
	}
	if current.CurrentStep != step {
		return current, fmt.Errorf("%w: got %s, current is %s", ErrStepMismatch, step, current.CurrentStep)
	}
	return fn(sess)
}

// SuperAdminRequest is the first step form.
type SuperAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// SuperAdminResult carries the signed-in session of the new account.
type SuperAdminResult struct {
	State   State         `json:"state"`
	Session *auth.Session `json:"session,omitempty"`
}

// SubmitSuperAdmin creates the first account and its super-admin record,
// then moves the workflow under that account.
func (s *Service) SubmitSuperAdmin(ctx context.Context, req SuperAdminRequest) (*SuperAdminResult, error) {
	fields := map[string]string{"name": req.Name, "email": req.Email, "password": req.Password}
	if req.Phone != "" {
		fields["phone"] = req.Phone
	}
	if err := validateForm(fields); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var account *auth.User
	state, err := s.submit(ctx, nil, StepSuperAdmin, func(sess *session) (State, error) {
		exists, err := s.prober.SuperAdminExists(ctx)
		if err != nil {
			return sess.engine.State(), fmt.Errorf("%w: %w", ErrProbeFailed, err)
		}
		if exists {
			state, _ := sess.engine.Initialize(ctx, nil)
			return state, fmt.Errorf("%w: a super administrator already exists", ErrStepMismatch)
		}

		user, err := s.identity.CreateAccount(ctx, email, req.Password, map[string]interface{}{
			"name": req.Name,
			"role": "super_admin",
		})
		if err != nil {
			return sess.engine.State(), err
		}
		account = user

		payload := map[string]interface{}{
			"user_id": user.ID,
			"email":   email,
			"name":    req.Name,
			"phone":   req.Phone,
		}
		if err := s.invoker.Invoke(ctx, provisioning.FnCreateSuperAdmin, payload, nil); err != nil {
			return sess.engine.State(), err
		}
		return sess.engine.CompleteStep(ctx, StepSuperAdmin)
	})
	if err != nil {
		return &SuperAdminResult{State: state}, err
	}

	state, err = s.attach(ctx, account.ID)
	if err != nil {
		s.logger.Warn("Failed to attach workflow to new account",
			zap.String("user_id", account.ID.String()),
			zap.Error(err))
	}

	result := &SuperAdminResult{State: state}
	signedIn, err := s.identity.SignIn(ctx, email, req.Password)
	if err != nil {
		s.logger.Warn("Super administrator created but sign-in failed",
			zap.String("user_id", account.ID.String()),
			zap.Error(err))
		return result, nil
	}
	result.Session = signedIn
	return result, nil
}

// attach re-keys the installation engine and its tabs to the new account.
// When the installation engine has already been evicted, the account engine
// is initialized from the store instead.
func (s *Service) attach(ctx context.Context, accountID uuid.UUID) (State, error) {
	from := s.IdentityKey(nil)
	to := s.IdentityKey(&accountID)

	moved := s.sessions.Move(from, to)
	if s.notifier != nil {
		s.notifier.MoveSubscribers(from, to)
	}
	sess := s.lookup(&accountID)

	var state State
	var err error
	if moved {
		state, err = sess.engine.OnSessionChange(ctx, &accountID)
	} else {
		s.logger.Info("Installation workflow expired before sign-up, reloading",
			zap.String("user_id", accountID.String()))
		state, err = sess.engine.Initialize(ctx, &accountID)
	}
	if err == nil || errors.Is(err, ErrProbeFailed) {
		sess.ready.Store(true)
	}
	return state, err
}

// PlanRequest is the pricing step form.
type PlanRequest struct {
	Plan    string                 `json:"plan"`
	Options map[string]interface{} `json:"options"`
}

func (s *Service) SelectPlan(ctx context.Context, userID *uuid.UUID, req PlanRequest) (State, error) {
	if !tenants.ValidPlan(req.Plan) {
		return State{}, &ValidationError{Fields: map[string]string{"plan": fmt.Sprintf("unknown plan %q", req.Plan)}}
	}
	return s.submit(ctx, userID, StepPricing, func(sess *session) (State, error) {
		if _, err := s.plans.SelectPlan(ctx, req.Plan, userID, req.Options); err != nil {
			return sess.engine.State(), err
		}
		return sess.engine.CompleteStepWith(ctx, StepPricing, Metadata{MetaPlan: req.Plan})
	})
}

// AdminRequest is the administrator step form.
type AdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

func (s *Service) SubmitAdmin(ctx context.Context, userID *uuid.UUID, req AdminRequest) (State, error) {
	fields := map[string]string{"name": req.Name, "email": req.Email, "password": req.Password}
	if req.Phone != "" {
		fields["phone"] = req.Phone
	}
	if err := validateForm(fields); err != nil {
		return State{}, err
	}
	payload := map[string]interface{}{
		"name":       req.Name,
		"email":      strings.ToLower(strings.TrimSpace(req.Email)),
		"password":   req.Password,
		"phone":      req.Phone,
		"created_by": userID,
	}
	return s.provision(ctx, userID, StepAdmin, provisioning.FnCreateAdminComplete, payload)
}

// OrganizationRequest is the organization step form.
type OrganizationRequest struct {
	Name    string `json:"name"`
	Siret   string `json:"siret"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

func (s *Service) SubmitOrganization(ctx context.Context, userID *uuid.UUID, req OrganizationRequest) (State, error) {
	fields := map[string]string{
		"organization_name": req.Name,
		"address":           req.Address,
		"siret":             req.Siret,
	}
	if req.Email != "" {
		fields["email"] = req.Email
	}
	if req.Phone != "" {
		fields["phone"] = req.Phone
	}
	if err := validateForm(fields); err != nil {
		return State{}, err
	}
	payload := map[string]interface{}{
		"name":       req.Name,
		"siret":      req.Siret,
		"address":    req.Address,
		"email":      req.Email,
		"phone":      req.Phone,
		"created_by": userID,
	}
	return s.provision(ctx, userID, StepOrganization, provisioning.FnCreateOrganisation, payload)
}

// provision invokes a remote function and completes step only on success.
func (s *Service) provision(ctx context.Context, userID *uuid.UUID, step Step, function string, payload interface{}) (State, error) {
	return s.submit(ctx, userID, step, func(sess *session) (State, error) {
		if err := s.invoker.Invoke(ctx, function, payload, nil); err != nil {
			s.logger.Warn("Provisioning failed, step not completed",
				zap.String("step", string(step)),
				zap.String("function", function),
				zap.Error(err))
			return sess.engine.State(), err
		}
		return sess.engine.CompleteStep(ctx, step)
	})
}

// SendSMSCode texts a verification code for the sms_validation step.
func (s *Service) SendSMSCode(ctx context.Context, userID *uuid.UUID, phone string) (*sms.SendResult, error) {
	if err := validateForm(map[string]string{"phone": phone}); err != nil {
		return nil, err
	}
	var result *sms.SendResult
	_, err := s.submit(ctx, userID, StepSMSValidation, func(sess *session) (State, error) {
		res, err := s.phones.SendCode(ctx, phone, userID)
		result = res
		return sess.engine.State(), err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifySMSCode checks the code and completes sms_validation when it matches.
func (s *Service) VerifySMSCode(ctx context.Context, userID *uuid.UUID, phone, code string) (State, error) {
	if err := validateForm(map[string]string{"phone": phone, "sms_code": code}); err != nil {
		return State{}, err
	}
	return s.submit(ctx, userID, StepSMSValidation, func(sess *session) (State, error) {
		if err := s.phones.VerifyCode(ctx, phone, code); err != nil {
			return sess.engine.State(), err
		}
		return sess.engine.CompleteStep(ctx, StepSMSValidation)
	})
}

// GarageRequest is the last step form. The responsible defaults to the caller.
type GarageRequest struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	Phone            string `json:"phone"`
	ResponsibleEmail string `json:"responsible_email"`
}

// SubmitGarage creates the garage with its responsible and finishes onboarding.
// notifyEmail receives the completion email when set.
func (s *Service) SubmitGarage(ctx context.Context, userID *uuid.UUID, notifyEmail string, req GarageRequest) (State, error) {
	fields := map[string]string{"garage_name": req.Name, "address": req.Address}
	if req.Phone != "" {
		fields["phone"] = req.Phone
	}
	if req.ResponsibleEmail != "" {
		fields["email"] = req.ResponsibleEmail
	}
	if err := validateForm(fields); err != nil {
		return State{}, err
	}
	payload := map[string]interface{}{
		"name":              req.Name,
		"address":           req.Address,
		"phone":             req.Phone,
		"responsible_id":    userID,
		"responsible_email": req.ResponsibleEmail,
	}
	state, err := s.provision(ctx, userID, StepGarage, provisioning.FnCreateGarage, payload)
	if err != nil {
		return state, err
	}
	if state.IsCompleted && s.notifier != nil {
		s.notifier.SendOnboardingComplete(ctx, notifyEmail, req.Name)
	}
	return state, nil
}

// EvictIdle drops engines that have not been used for the session TTL.
func (s *Service) EvictIdle() int {
	return s.sessions.Purge()
}
