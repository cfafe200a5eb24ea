// Package jobs provides background job scheduling.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is the function signature for jobs.
type JobFunc func(ctx context.Context) error

// Job represents a scheduled job.
type Job struct {
	Name     string
	Schedule string
	Func     JobFunc
	EntryID  cron.EntryID
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*Job
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewScheduler creates a new job scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{Name: name, Schedule: schedule, Func: fn}
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return err
	}
	job.EntryID = entryID
	s.jobs[name] = job

	s.logger.Info("job registered", zap.String("name", name), zap.String("schedule", schedule))
	return nil
}

// RunNow runs a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.runJob(job)
	return true
}

func (s *Scheduler) runJob(job *Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := job.Func(ctx); err != nil {
		s.logger.Warn("job failed",
			zap.String("name", job.Name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("job completed",
		zap.String("name", job.Name),
		zap.Duration("took", time.Since(start)),
	)
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
