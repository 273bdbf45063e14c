package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig tunes post-creation verification.
type EngineConfig struct {
	VerifyDelay    time.Duration
	VerifyAttempts int
	VerifyBackoff  float64
}

// DefaultEngineConfig returns default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		VerifyDelay:    time.Second,
		VerifyAttempts: 3,
		VerifyBackoff:  2,
	}
}

// StateListener is told about every state the engine adopts, tentative
// states included.
type StateListener func(State)

// Engine owns the workflow state of one identity. All mutations go through
// its methods; concurrent submissions are rejected with ErrInFlight.
type Engine struct {
	repo     Repository
	prober   Prober
	logger   *zap.Logger
	config   EngineConfig
	listener StateListener

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	inFlight bool
}

// NewEngine creates an engine in the initial state for userID (nil before
// any account exists).
func NewEngine(repo Repository, prober Prober, logger *zap.Logger, config EngineConfig, userID *uuid.UUID) *Engine {
	if config.VerifyAttempts < 1 {
		config.VerifyAttempts = 1
	}
	return &Engine{
		repo:   repo,
		prober: prober,
		logger: logger,
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
		state:  InitialState(userID),
	}
}

// SetListener registers the state listener.
func (e *Engine) SetListener(l StateListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// begin marks the engine busy and returns a snapshot to work on.
func (e *Engine) begin() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return e.state.clone(), ErrInFlight
	}
	e.inFlight = true
	return e.state.clone(), nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

func (e *Engine) adopt(s State) {
	e.mu.Lock()
	e.state = s.clone()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(s.clone())
	}
}

// Initialize loads the persisted state for userID and reconciles it with the
// entities that actually exist. A failed probe keeps the last known state.
func (e *Engine) Initialize(ctx context.Context, userID *uuid.UUID) (State, error) {
	current, err := e.begin()
	if err != nil {
		return current, err
	}
	defer e.end()

	return e.initialize(ctx, current, userID)
}

func (e *Engine) initialize(ctx context.Context, current State, userID *uuid.UUID) (State, error) {
	base := current
	switch {
	case sameUser(current.UserID, userID):
	case current.UserID == nil:
		// Progress made before the account existed carries over to it.
		base.UserID = copyID(userID)
		base.Version = 0
	default:
		base = InitialState(userID)
	}

	var persisted *State
	if userID != nil {
		loaded, err := e.repo.Get(ctx, *userID)
		if err != nil {
			e.logger.Warn("Failed to load workflow state",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		} else if loaded != nil {
			persisted = loaded
			base = loaded.clone()
			if current.UserID == nil {
				for k, v := range current.Metadata {
					if _, ok := base.Metadata[k]; !ok {
						base.Metadata[k] = v
					}
				}
			}
		}
	}

	flags, err := ProbeExistence(ctx, e.prober)
	if err != nil {
		e.logger.Warn("Existence probe failed, keeping last known state",
			zap.String("current_step", string(base.CurrentStep)),
			zap.Error(err))
		e.adopt(base)
		return base.clone(), fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	step, completed := Reconcile(flags)
	next := base.clone()
	changed := next.CurrentStep != step || !sequence.IsPrefix(next.CompletedSteps, next.CurrentStep)
	if changed {
		e.logger.Info("Reconciled onboarding state with existing entities",
			zap.String("cached_step", string(next.CurrentStep)),
			zap.String("actual_step", string(step)))
		next.CurrentStep = step
		next.CompletedSteps = completed
		next.ViewStep = step
	}
	next.IsCompleted = next.CurrentStep == StepCompleted
	if !e.canView(next, next.ViewStep) {
		next.ViewStep = next.CurrentStep
	}

	if userID != nil && (persisted == nil || changed) {
		e.persist(ctx, &next)
	}

	e.adopt(next)
	return next.clone(), nil
}

// CompleteStep records step as done and advances to its successor. For the
// super-admin step the advance is tentative until the account is seen in the
// data store; otherwise it is rolled back and ErrUnconfirmed is returned.
func (e *Engine) CompleteStep(ctx context.Context, step Step) (State, error) {
	return e.CompleteStepWith(ctx, step, nil)
}

// CompleteStepWith is CompleteStep that also merges meta into the state
// metadata, e.g. the chosen plan.
func (e *Engine) CompleteStepWith(ctx context.Context, step Step, meta Metadata) (State, error) {
	prev, err := e.begin()
	if err != nil {
		return prev, err
	}
	defer e.end()

	if prev.IsCompleted || step == StepCompleted {
		return prev, ErrTerminal
	}
	if step != prev.CurrentStep {
		e.logger.Warn("Ignoring completion of a step that is not current",
			zap.String("step", string(step)),
			zap.String("current_step", string(prev.CurrentStep)))
		return prev, fmt.Errorf("%w: got %s, current is %s", ErrStepMismatch, step, prev.CurrentStep)
	}

	next, err := e.advance(prev, step)
	if err != nil {
		return prev, err
	}
	for k, v := range meta {
		next.Metadata[k] = v
	}
	e.adopt(next)

	if step == StepSuperAdmin {
		if err := e.confirmSuperAdmin(ctx); err != nil {
			e.logger.Warn("Super administrator creation not confirmed, rolling back",
				zap.Error(err))
			e.adopt(prev)
			return prev, err
		}
	}

	if next.UserID != nil {
		e.persist(ctx, &next)
		e.adopt(next)
	}

	if next.IsCompleted {
		e.logger.Info("Onboarding completed", zap.Stringp("user_id", userIDString(next.UserID)))
	}
	return next.clone(), nil
}

// advance is the table-driven transition.
func (e *Engine) advance(s State, step Step) (State, error) {
	to, ok := step.Next()
	if !ok {
		return s, ErrTerminal
	}
	next := s.clone()
	now := e.now().UTC()
	next.CompletedSteps = append(next.CompletedSteps, step)
	next.CurrentStep = to
	next.ViewStep = to
	next.Metadata[completedAtKey(step)] = now.Format(time.RFC3339)
	if to == StepCompleted {
		next.IsCompleted = true
		next.Metadata[MetaCompletedAt] = now.Format(time.RFC3339)
	}
	return next, nil
}

func (e *Engine) confirmSuperAdmin(ctx context.Context) error {
	delay := e.config.VerifyDelay
	var lastErr error
	for attempt := 1; attempt <= e.config.VerifyAttempts; attempt++ {
		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", ErrUnconfirmed, err)
		}
		exists, err := e.prober.SuperAdminExists(ctx)
		if err != nil {
			lastErr = err
			e.logger.Debug("Super administrator probe failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else if exists {
			return nil
		}
		if e.config.VerifyBackoff > 1 {
			delay = time.Duration(float64(delay) * e.config.VerifyBackoff)
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %w", ErrUnconfirmed, lastErr)
	}
	return fmt.Errorf("%w: super administrator not found", ErrUnconfirmed)
}

// GoToStep changes the viewed step. Only completed steps, the current step
// and its immediate successor are reachable.
func (e *Engine) GoToStep(ctx context.Context, target Step) (State, error) {
	current, err := e.begin()
	if err != nil {
		return current, err
	}
	defer e.end()

	if !sequence.Contains(target) {
		return current, fmt.Errorf("%w: %q", ErrUnknownStep, target)
	}
	if !e.canView(current, target) {
		e.logger.Warn("Navigation guard rejected step",
			zap.String("target", string(target)),
			zap.String("current_step", string(current.CurrentStep)))
		return current, fmt.Errorf("%w: %s", ErrNavigationGuard, target)
	}

	next := current.clone()
	next.ViewStep = target
	e.adopt(next)
	return next.clone(), nil
}

func (e *Engine) canView(s State, target Step) bool {
	if target == s.CurrentStep || s.IsCompletedStep(target) {
		return true
	}
	next, ok := s.CurrentStep.Next()
	return ok && next == target
}

// Reset deletes the persisted state and starts over from the first step.
func (e *Engine) Reset(ctx context.Context) (State, error) {
	current, err := e.begin()
	if err != nil {
		return current, err
	}
	defer e.end()

	if current.UserID != nil {
		if err := e.repo.Delete(ctx, *current.UserID); err != nil {
			return current, fmt.Errorf("failed to reset onboarding: %w", err)
		}
	}

	e.logger.Info("Onboarding reset", zap.Stringp("user_id", userIDString(current.UserID)))
	next := InitialState(current.UserID)
	e.adopt(next)
	return next.clone(), nil
}

// OnSessionChange follows the signed-in account. nil signs out without
// deleting anything; a different account is initialized.
func (e *Engine) OnSessionChange(ctx context.Context, userID *uuid.UUID) (State, error) {
	current, err := e.begin()
	if err != nil {
		return current, err
	}
	defer e.end()

	if sameUser(current.UserID, userID) {
		return current, nil
	}
	if userID == nil {
		next := InitialState(nil)
		e.adopt(next)
		return next.clone(), nil
	}
	return e.initialize(ctx, current, userID)
}

// persist writes s and updates its version and synced flag. On a version
// conflict the stored row is adopted when it is further along, otherwise
// the write is retried once on top of it.
func (e *Engine) persist(ctx context.Context, s *State) {
	s.UpdatedAt = e.now().UTC()
	err := e.repo.Save(ctx, s)
	if errors.Is(err, ErrVersionConflict) {
		err = e.resolveConflict(ctx, s)
	}
	if err != nil {
		e.logger.Warn("Failed to persist onboarding state, progress may be stale after reload",
			zap.Stringp("user_id", userIDString(s.UserID)),
			zap.String("current_step", string(s.CurrentStep)),
			zap.Error(err))
		s.Synced = false
		return
	}
	s.Synced = true
}

func (e *Engine) resolveConflict(ctx context.Context, s *State) error {
	remote, err := e.repo.Get(ctx, *s.UserID)
	if err != nil {
		return err
	}
	if remote == nil {
		s.Version = 0
		return e.repo.Save(ctx, s)
	}
	if remote.CurrentStep.Index() > s.CurrentStep.Index() {
		e.logger.Info("Adopting newer onboarding state written elsewhere",
			zap.String("user_id", s.UserID.String()),
			zap.String("current_step", string(remote.CurrentStep)))
		*s = remote.clone()
		return nil
	}
	s.Version = remote.Version
	return e.repo.Save(ctx, s)
}

func userIDString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
