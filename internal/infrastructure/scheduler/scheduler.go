// Package scheduler runs named pipeline tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// Task is one scheduled unit of work. It receives the scheduler's context.
type Task func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	task    Task
	id      cron.EntryID
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
	runs    int
	skips   int
}

// EntryStatus is a snapshot of one registered task.
type EntryStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Scheduler never runs two instances of the same task at once; a tick that
// lands while the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
	started bool
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]*entry),
	}
}

// Add registers task under name. Names are unique.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if name == "" || task == nil {
		return domain.WrapError(domain.ErrInvalidInput, "schedule task", fmt.Errorf("name and task are required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "schedule task", fmt.Errorf("task %q already registered", name))
	}

	e := &entry{name: name, spec: spec, task: task}
	id, err := s.cron.AddFunc(spec, func() { s.run(e) })
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "schedule task", fmt.Errorf("%s: %w", spec, err))
	}
	e.id = id
	s.entries[name] = e
	s.logger.Info("task_scheduled", "task", name, "schedule", spec)
	return nil
}

// Start begins firing schedules. Tasks receive ctx; cancelling it stops the
// scheduler and waits for running tasks.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler_started", "tasks", len(s.Entries()))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts new runs and blocks until in-flight tasks return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler_stopped")
}

// RunNow executes the named task synchronously, honouring the overlap guard.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "run task", fmt.Errorf("task %q", name))
	}
	return s.run(e)
}

// Trigger starts the named task in the background and returns once the name
// is known.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "trigger task", fmt.Errorf("task %q", name))
	}
	go func() { _ = s.run(e) }()
	return nil
}

func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryStatus, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		status := EntryStatus{
			Name:      e.name,
			Schedule:  e.spec,
			Running:   e.running.Load(),
			Runs:      e.runs,
			Skipped:   e.skips,
			LastRun:   e.lastRun,
			LastError: e.lastErr,
			NextRun:   s.cron.Entry(e.id).Next,
		}
		e.mu.Unlock()
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.skips++
		e.mu.Unlock()
		s.logger.Warn("task_skipped_still_running", "task", e.name)
		return nil
	}
	defer e.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	started := time.Now()
	s.logger.Info("task_started", "task", e.name)
	err := e.task(ctx)

	e.mu.Lock()
	e.runs++
	e.lastRun = started
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("task_failed", "task", e.name, "duration_ms", time.Since(started).Milliseconds(), "error", err)
		return err
	}
	s.logger.Info("task_finished", "task", e.name, "duration_ms", time.Since(started).Milliseconds())
	return nil
}
