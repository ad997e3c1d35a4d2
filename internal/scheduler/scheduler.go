// Package scheduler drives periodic jobs: the aggregate sequence pass and
// the daily digest. Each job runs on its own ticker; a tick that fires while
// the previous run of the same job is still in flight is skipped and
// counted, so a slow pass never overlaps the next one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler errors.
var (
	ErrAlreadyRunning = errors.New("scheduler: already running")
	ErrNotRunning     = errors.New("scheduler: not running")
	ErrJobNotFound    = errors.New("scheduler: job not found")
	ErrJobRunning     = errors.New("scheduler: job already running")
	ErrStopping       = errors.New("scheduler: stopping")

	// ErrSkipped may be returned by a job's Run to record the run as skipped
	// rather than failed.
	ErrSkipped = errors.New("scheduler: run skipped")
)

var (
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job runs by outcome",
		},
		[]string{"job", "result"},
	)

	jobRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_job_running",
			Help: "1 while a job run is in flight",
		},
		[]string{"job"},
	)
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration

	// Timeout bounds a single run. Zero means no deadline.
	Timeout time.Duration

	// RunOnStart fires the first run immediately instead of after Interval.
	RunOnStart bool

	Run func(ctx context.Context) error
}

// JobStats are per-job counters since start or the last ResetStats.
type JobStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Scheduled    bool          `json:"scheduled"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Skipped      int64         `json:"skipped"`
	LastRunAt    time.Time     `json:"lastRunAt"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
}

type jobState struct {
	job      Job
	inFlight atomic.Bool

	// loop control; guarded by Scheduler.mu
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   JobStats
}

// Scheduler owns a fixed set of jobs.
type Scheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*jobState
	order    []string
	running  bool
	stopping bool
	base     context.Context

	// runs counts in-flight executions. Add only under mu while !stopping.
	runs sync.WaitGroup
}

// New validates the jobs and returns a stopped Scheduler.
func New(logger *slog.Logger, jobs ...Job) (*Scheduler, error) {
	s := &Scheduler{
		logger: logger.With("component", "scheduler"),
		jobs:   make(map[string]*jobState, len(jobs)),
	}
	for _, j := range jobs {
		switch {
		case j.Name == "":
			return nil, errors.New("scheduler: job name is required")
		case j.Interval <= 0:
			return nil, fmt.Errorf("scheduler: job %s: interval must be positive", j.Name)
		case j.Run == nil:
			return nil, fmt.Errorf("scheduler: job %s: run func is required", j.Name)
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("scheduler: duplicate job %s", j.Name)
		}
		s.jobs[j.Name] = &jobState{job: j, stats: JobStats{Name: j.Name, Interval: j.Interval}}
		s.order = append(s.order, j.Name)
	}
	return s, nil
}

// Start schedules every job. Jobs stop when ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.base = ctx
	for _, name := range s.order {
		s.startLoop(s.jobs[name])
	}
	s.logger.Info("scheduler started", "jobs", len(s.order))
	return nil
}

// Stop unschedules every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopping = true
	var loops []chan struct{}
	for _, name := range s.order {
		if done := s.stopLoop(s.jobs[name]); done != nil {
			loops = append(loops, done)
		}
	}
	s.mu.Unlock()

	for _, done := range loops {
		<-done
	}
	s.runs.Wait()

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartJob reschedules one job. Starting a scheduled job is a no-op.
func (s *Scheduler) StartJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !s.running {
		return ErrNotRunning
	}
	if js.cancel == nil {
		s.startLoop(js)
		s.logger.Info("job started", "job", name)
	}
	return nil
}

// StopJob unschedules one job. An in-flight run is cancelled and finishes
// in the background. Stopping a stopped job is a no-op.
func (s *Scheduler) StopJob(name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	done := s.stopLoop(js)
	s.mu.Unlock()

	if done != nil {
		<-done
		s.logger.Info("job stopped", "job", name)
	}
	return nil
}

// RunNow runs the job immediately and waits for it. It works whether or
// not the scheduler is running, and fails with ErrJobRunning when a run of
// the same job is in flight or ErrStopping while Stop is draining runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	js, _, err := s.admit(name)
	if err != nil {
		return err
	}
	return s.execute(ctx, js)
}

// Trigger starts a run in the background and returns at once. The run uses
// the scheduler's context when running, otherwise a background one.
func (s *Scheduler) Trigger(name string) error {
	js, ctx, err := s.admit(name)
	if err != nil {
		return err
	}
	go func() { _ = s.execute(ctx, js) }()
	return nil
}

// admit claims a manual run of the named job and registers it with s.runs.
// It returns the context a background run should use.
func (s *Scheduler) admit(name string) (*jobState, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if s.stopping {
		return nil, nil, ErrStopping
	}
	if !js.inFlight.CompareAndSwap(false, true) {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	s.runs.Add(1)

	ctx := s.base
	if !s.running || ctx == nil {
		ctx = context.Background()
	}
	return js, ctx, nil
}

// Stats returns a snapshot per job, in registration order.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.order))
	for _, name := range s.order {
		js := s.jobs[name]
		js.statsMu.Lock()
		st := js.stats
		js.statsMu.Unlock()
		st.Scheduled = js.cancel != nil
		st.Running = js.inFlight.Load()
		out = append(out, st)
	}
	return out
}

// ResetStats zeroes every job's counters.
func (s *Scheduler) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		js.statsMu.Lock()
		js.stats = JobStats{Name: js.job.Name, Interval: js.job.Interval}
		js.statsMu.Unlock()
	}
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(js *jobState) {
	ctx, cancel := context.WithCancel(s.base)
	js.cancel = cancel
	js.done = make(chan struct{})
	go s.loop(ctx, js, js.done)
}

// stopLoop must be called with s.mu held. It returns the loop's done
// channel, or nil when the job was not scheduled.
func (s *Scheduler) stopLoop(js *jobState) chan struct{} {
	if js.cancel == nil {
		return nil
	}
	js.cancel()
	done := js.done
	js.cancel, js.done = nil, nil
	return done
}

func (s *Scheduler) loop(ctx context.Context, js *jobState, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(js.job.Interval)
	defer ticker.Stop()

	if js.job.RunOnStart {
		s.tick(ctx, js)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, js)
		}
	}
}

// tick launches a run unless one is already in flight.
func (s *Scheduler) tick(ctx context.Context, js *jobState) {
	if !js.inFlight.CompareAndSwap(false, true) {
		js.statsMu.Lock()
		js.stats.Skipped++
		js.statsMu.Unlock()
		jobRunsTotal.WithLabelValues(js.job.Name, "overlap").Inc()
		s.logger.Warn("previous run still in flight, skipping tick", "job", js.job.Name)
		return
	}
	// Stop waits for this loop to exit before it waits on s.runs, so the
	// Add below always precedes the Wait.
	s.runs.Add(1)
	go func() { _ = s.execute(ctx, js) }()
}

// execute runs the job once. The caller has already set inFlight and
// incremented s.runs.
func (s *Scheduler) execute(ctx context.Context, js *jobState) (err error) {
	name := js.job.Name
	defer s.runs.Done()
	defer js.inFlight.Store(false)

	if js.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, js.job.Timeout)
		defer cancel()
	}

	jobRunning.WithLabelValues(name).Set(1)
	defer jobRunning.WithLabelValues(name).Set(0)

	start := time.Now()
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("scheduler: job %s panicked: %v", name, p)
			}
		}()
		err = js.job.Run(ctx)
	}()
	elapsed := time.Since(start)

	js.statsMu.Lock()
	js.stats.LastRunAt = start
	js.stats.LastDuration = elapsed
	switch {
	case errors.Is(err, ErrSkipped):
		js.stats.Skipped++
		js.stats.LastError = ""
	case err != nil:
		js.stats.Runs++
		js.stats.Failures++
		js.stats.LastError = err.Error()
	default:
		js.stats.Runs++
		js.stats.LastError = ""
	}
	js.statsMu.Unlock()

	switch {
	case errors.Is(err, ErrSkipped):
		jobRunsTotal.WithLabelValues(name, "skipped").Inc()
		s.logger.Info("job run skipped", "job", name, "reason", err)
	case err != nil:
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error("job run failed", "job", name, "duration", elapsed, "error", err)
	default:
		jobRunsTotal.WithLabelValues(name, "ok").Inc()
		s.logger.Info("job run complete", "job", name, "duration", elapsed)
	}
	return err
}
