// Package scheduler sends configured telecommands periodically on the
// link.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/command"
	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/service"
)

// Builder encodes a command from its name and argument assignments.
type Builder interface {
	BuildCommand(name string, assignments map[string]string) (*command.Result, error)
}

// Sender uplinks an encoded command to one session, or all of them when
// session is empty.
type Sender interface {
	SendCommand(session string, binary []byte) ([]string, error)
}

// Job is one periodically sent command.
type Job struct {
	ID         string
	Command    string
	Arguments  map[string]string
	Session    string
	Interval   time.Duration
	MaxRetries int
}

// JobStatus reports the state of a job.
type JobStatus struct {
	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Session   string            `json:"session,omitempty"`
	Interval  string            `json:"interval"`
	NextRun   time.Time         `json:"nextRun"`
	LastRun   *time.Time        `json:"lastRun,omitempty"`
	LastError string            `json:"lastError,omitempty"`
	Retries   int               `json:"retries"`
	Runs      int64             `json:"runs"`
}

// Stats summarizes the scheduler activity.
type Stats struct {
	Running  bool        `json:"running"`
	Executed int64       `json:"executed"`
	Failed   int64       `json:"failed"`
	Retried  int64       `json:"retried"`
	Skipped  int64       `json:"skipped"`
	Jobs     []JobStatus `json:"jobs"`
}

type jobState struct {
	Job
	next      time.Time
	lastRun   *time.Time
	lastError string
	retries   int
	runs      int64
}

// Scheduler runs the jobs on a ticker.
type Scheduler struct {
	builder Builder
	sender  Sender
	logger  zerolog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mutex     sync.Mutex
	jobs      []*jobState
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	commandsExecuted int64
	commandsFailed   int64
	commandsRetried  int64
	commandsSkipped  int64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due jobs are looked for.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// New creates a scheduler for jobs. Every job is built once up front so a
// bad command name or argument fails here instead of on every tick.
func New(builder Builder, sender Sender, jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		builder:      builder,
		sender:       sender,
		logger:       log.With().Str("component", "scheduler").Logger(),
		tickInterval: time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, j := range jobs {
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be positive", j.Command)
		}
		if _, err := builder.BuildCommand(j.Command, j.Arguments); err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Command, err)
		}
		if j.ID == "" {
			j.ID = fmt.Sprintf("%s#%d", j.Command, i+1)
		}
		s.jobs = append(s.jobs, &jobState{Job: j})
	}
	return s, nil
}

// FromConfig converts the configured schedule to jobs.
func FromConfig(entries []config.ScheduledCommand) []Job {
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, Job{
			Command:    e.Command,
			Arguments:  e.Arguments,
			Session:    e.Session,
			Interval:   time.Duration(e.IntervalSeconds) * time.Second,
			MaxRetries: e.MaxRetries,
		})
	}
	return jobs
}

// Start begins running the jobs. Each job first runs one interval after
// Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	now := s.now()
	for _, j := range s.jobs {
		j.next = now.Add(j.Interval)
	}
	s.stopChan = make(chan struct{})
	s.isRunning = true

	s.wg.Add(1)
	go s.executionLoop(ctx)

	s.logger.Info().
		Dur("tick_interval", s.tickInterval).
		Int("jobs", len(s.jobs)).
		Msg("Command scheduler started")
	return nil
}

// Stop halts the scheduler and waits for the running tick to finish.
func (s *Scheduler) Stop() error {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	close(s.stopChan)
	s.isRunning = false
	s.mutex.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Command scheduler stopped")
	return nil
}

// Stats returns counters and the state of every job.
func (s *Scheduler) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := Stats{
		Running:  s.isRunning,
		Executed: atomic.LoadInt64(&s.commandsExecuted),
		Failed:   atomic.LoadInt64(&s.commandsFailed),
		Retried:  atomic.LoadInt64(&s.commandsRetried),
		Skipped:  atomic.LoadInt64(&s.commandsSkipped),
		Jobs:     make([]JobStatus, 0, len(s.jobs)),
	}
	for _, j := range s.jobs {
		st.Jobs = append(st.Jobs, JobStatus{
			ID:        j.ID,
			Command:   j.Command,
			Arguments: j.Arguments,
			Session:   j.Session,
			Interval:  j.Interval.String(),
			NextRun:   j.next,
			LastRun:   j.lastRun,
			LastError: j.lastError,
			Retries:   j.retries,
			Runs:      j.runs,
		})
	}
	sort.Slice(st.Jobs, func(a, b int) bool { return st.Jobs[a].ID < st.Jobs[b].ID })
	return st
}

func (s *Scheduler) executionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runDue()
		}
	}
}

// runDue executes every job whose time has come, oldest deadline first.
func (s *Scheduler) runDue() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	due := make([]*jobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].next.Before(due[b].next) })

	for _, j := range due {
		s.execute(j, now)
	}
}

func (s *Scheduler) execute(j *jobState, now time.Time) {
	logger := s.logger.With().Str("job", j.ID).Str("command", j.Command).Logger()
	j.lastRun = &now
	j.runs++

	res, err := s.builder.BuildCommand(j.Command, j.Arguments)
	if err == nil {
		var sent []string
		sent, err = s.sender.SendCommand(j.Session, res.Binary)
		if err == nil {
			atomic.AddInt64(&s.commandsExecuted, 1)
			j.lastError = ""
			j.retries = 0
			j.next = now.Add(j.Interval)
			logger.Debug().Strs("sessions", sent).Int("bytes", len(res.Binary)).Msg("Scheduled command sent")
			return
		}
	}

	j.lastError = err.Error()
	if errors.Is(err, service.ErrNoSession) {
		// Nothing to command yet, wait for the next period.
		atomic.AddInt64(&s.commandsSkipped, 1)
		j.retries = 0
		j.next = now.Add(j.Interval)
		logger.Debug().Msg("No link session, scheduled command skipped")
		return
	}

	if j.retries < j.MaxRetries {
		j.retries++
		atomic.AddInt64(&s.commandsRetried, 1)
		j.next = now.Add(time.Duration(j.retries) * s.tickInterval)
		logger.Warn().
			Err(err).
			Int("retry", j.retries).
			Int("max_retries", j.MaxRetries).
			Msg("Retrying scheduled command")
		return
	}

	atomic.AddInt64(&s.commandsFailed, 1)
	logger.Error().Err(err).Int("retries", j.retries).Msg("Scheduled command failed")
	j.retries = 0
	j.next = now.Add(j.Interval)
}
