// Package core provides scheduling functionality for the monitoring engine.
package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"pulsewatch/internal/config"

	"github.com/rs/zerolog/log"
)

// Trigger computes fire times for a scheduled job.
type Trigger interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
}

// Every fires at a fixed interval.
type Every time.Duration

// Next implements Trigger.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// ScheduledJob represents a job that can be scheduled for repeated execution.
type ScheduledJob struct {
	// ID is a unique identifier for the job
	ID string

	// Trigger decides when the job fires next
	Trigger Trigger

	// Task is the function to execute
	Task func(context.Context) error

	// Immediate runs the task once inside AddJob before the timer is armed
	Immediate bool

	// Internal fields
	cancel context.CancelFunc
}

// Scheduler manages the execution of scheduled jobs.
// It owns the table of armed jobs and a worker pool that bounds how many
// tasks run at once.
type Scheduler struct {
	config config.SchedulerConfig

	// Job management
	jobs   map[string]*ScheduledJob
	jobsMu sync.RWMutex

	// Worker pool
	workers chan struct{}

	// Lifecycle management
	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		config:  cfg,
		jobs:    make(map[string]*ScheduledJob),
		workers: make(chan struct{}, cfg.WorkerCount),
	}
}

// Start starts the scheduler and initializes the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// Jobs outlive the caller's request context; only Stop ends them.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// Initialize worker pool
	for len(s.workers) < cap(s.workers) {
		s.workers <- struct{}{}
	}

	s.running = true
	log.Info().Int("worker_count", s.config.WorkerCount).Msg("Scheduler started")

	return nil
}

// Stop cancels every job and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	log.Info().Msg("Stopping scheduler")
	s.cancel()

	s.jobsMu.Lock()
	for id, job := range s.jobs {
		job.cancel()
		delete(s.jobs, id)
	}
	s.jobsMu.Unlock()
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// AddJob arms job. It is a no-op returning false when a job with the same
// ID is already armed.
//
// With job.Immediate set the task runs once synchronously, waiting for a
// free worker, before the timer is armed. A RemoveJob that lands during
// that run keeps the timer from ever being armed.
func (s *Scheduler) AddJob(job *ScheduledJob) (bool, error) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return false, fmt.Errorf("scheduler is not running")
	}

	s.jobsMu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.jobsMu.Unlock()
		s.mu.RUnlock()
		return false, nil
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	job.cancel = cancel
	s.jobs[job.ID] = job
	s.wg.Add(1)
	s.jobsMu.Unlock()
	s.mu.RUnlock()

	log.Debug().Str("job_id", job.ID).Bool("immediate", job.Immediate).Msg("Job added")

	if job.Immediate {
		s.executeJobTask(jobCtx, job)
	}

	go s.runJob(jobCtx, job)
	return true, nil
}

// RemoveJob cancels a job. An in-flight run completes but never re-arms.
// Reports whether the job was armed.
func (s *Scheduler) RemoveJob(jobID string) bool {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return false
	}

	job.cancel()
	delete(s.jobs, jobID)

	log.Debug().Str("job_id", jobID).Msg("Job removed")
	return true
}

// HasJob reports whether a job with the given ID is armed.
func (s *Scheduler) HasJob(jobID string) bool {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// GetJobCount returns the number of currently scheduled jobs.
func (s *Scheduler) GetJobCount() int {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return len(s.jobs)
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// runJob is the self-re-arming timer loop of one job. The next fire time is
// computed after each run, so a slow run never overlaps the next one and
// missed slots are skipped instead of queued.
func (s *Scheduler) runJob(ctx context.Context, job *ScheduledJob) {
	defer s.wg.Done()

	prev := time.Now()
	for {
		if ctx.Err() != nil {
			log.Debug().Str("job_id", job.ID).Msg("Job stopped")
			return
		}

		now := time.Now()
		next := job.Trigger.Next(prev)
		if !next.After(now) {
			next = job.Trigger.Next(now)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug().Str("job_id", job.ID).Msg("Job stopped")
			return
		case <-timer.C:
		}

		prev = next
		s.executeJobTask(ctx, job)
	}
}

// executeJobTask runs a job task on a worker from the pool.
//
// When every worker is busy the run waits for one, so a fire is delayed,
// never dropped. The job's own timer is not re-armed until the run ends.
func (s *Scheduler) executeJobTask(ctx context.Context, job *ScheduledJob) {
	select {
	case <-s.workers:
	case <-ctx.Done():
		return
	}
	defer func() {
		// Return worker to pool
		s.workers <- struct{}{}
	}()

	s.runTask(ctx, job)
}

// runTask executes the task once, turning a panic into a logged failure so
// one broken job cannot take the pool down.
func (s *Scheduler) runTask(ctx context.Context, job *ScheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", job.ID).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("Job panicked")
		}
	}()

	if err := job.Task(ctx); err != nil {
		log.Error().Str("job_id", job.ID).Err(err).Msg("Job failed")
	}
}
