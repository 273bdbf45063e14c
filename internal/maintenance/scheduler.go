// Package maintenance runs periodic housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one housekeeping task. Spec uses the six-field cron format with seconds.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
	LastErr string    `json:"last_error,omitempty"`
}

// Scheduler manages housekeeping jobs
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	specs   map[string]Job
	lastErr map[string]string
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a scheduler with second-level cron precision.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		jobs:    make(map[string]cron.EntryID),
		specs:   make(map[string]Job),
		lastErr: make(map[string]string),
		logger:  logger,
	}
}

// Add registers a job, replacing one with the same name. An empty spec
// leaves the job disabled.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Info("Maintenance job disabled", zap.String("job", job.Name))
		return nil
	}
	if err := ValidateSpec(job.Spec); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", job.Name, err)
	}
	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[job.Name]; ok {
		s.cron.Remove(entryID)
	}
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), job.Timeout)
		defer cancel()
		s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.jobs[job.Name] = entryID
	s.specs[job.Name] = job

	s.logger.Info("Added maintenance job",
		zap.String("job", job.Name),
		zap.String("cron", job.Spec))
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr[job.Name] = err.Error()
	} else {
		delete(s.lastErr, job.Name)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Maintenance job failed",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}
	s.logger.Debug("Maintenance job completed",
		zap.String("job", job.Name),
		zap.Duration("took", time.Since(start)))
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.specs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.execute(ctx, job)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if msg, failed := s.lastErr[name]; failed {
		return fmt.Errorf("job %s: %s", name, msg)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.logger.Info("Starting maintenance scheduler", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping maintenance scheduler")
	<-s.cron.Stop().Done()
}

// Status returns the schedule of every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		out = append(out, JobStatus{
			Name:    name,
			Spec:    s.specs[name].Spec,
			NextRun: entry.Next,
			PrevRun: entry.Prev,
			LastErr: s.lastErr[name],
		})
	}
	return out
}

// ValidateSpec checks a six-field cron expression.
func ValidateSpec(spec string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(spec)
	return err
}
