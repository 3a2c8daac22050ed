// Package scheduler submits tasks from stored schedules when they fall due.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/schedule"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Submitter accepts the tasks built from schedule templates.
type Submitter interface {
	CreateTask(def task.Definition) (task.Task, error)
}

type Scheduler struct {
	store  *store.Store
	submit Submitter
	now    func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, submit Submitter, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submit:       submit,
		now:          time.Now,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll fires every due schedule once and returns how many fired.
func (s *Scheduler) Poll() int {
	now := s.now()
	due, err := s.store.GetDueSchedules(now)
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return 0
	}
	for _, sc := range due {
		s.fire(sc, now)
	}
	return len(due)
}

func (s *Scheduler) fire(sc store.Schedule, now time.Time) {
	def := sc.Template
	def.ScheduleID = sc.ID

	var taskID, lastError string
	t, err := s.submit.CreateTask(def)
	if err != nil {
		lastError = err.Error()
		slog.Error("scheduled task submission failed", "schedule", sc.ID, "name", sc.Name, "error", err)
	} else {
		taskID = t.ID
		slog.Info("scheduled task submitted", "schedule", sc.ID, "name", sc.Name, "task", t.ID)
	}

	next := schedule.NextRun(sc.Schedule, now)
	if err := s.store.UpdateScheduleRun(sc.ID, now, taskID, lastError, next); err != nil {
		slog.Error("failed to update schedule run", "schedule", sc.ID, "error", err)
	}

	if next == nil {
		slog.Info("no next run, marking schedule completed", "schedule", sc.ID, "name", sc.Name)
		if err := s.store.UpdateScheduleStatus(sc.ID, StatusCompleted); err != nil {
			slog.Error("failed to complete schedule", "schedule", sc.ID, "error", err)
		}
	}
}

// Create validates and stores a new active schedule.
func (s *Scheduler) Create(name, raw string, tmpl task.Definition) (*store.Schedule, error) {
	const op = "create schedule"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, hiveerr.New(hiveerr.Validation, op, "name must not be empty")
	}
	norm, err := schedule.Normalize(raw)
	if err != nil {
		return nil, hiveerr.Wrap(hiveerr.Validation, op, err)
	}
	tmpl.RequiredCapabilities = capability.NormalizeRequirements(tmpl.RequiredCapabilities)
	if err := tmpl.Validate(); err != nil {
		return nil, hiveerr.Wrap(hiveerr.Validation, op, err)
	}
	now := s.now()
	next := schedule.NextRun(norm, now)
	if next == nil {
		return nil, hiveerr.New(hiveerr.Validation, op, "schedule %q never fires after %s", raw, now.UTC().Format(time.RFC3339))
	}

	sc := &store.Schedule{
		ID:        uuid.NewString(),
		Name:      name,
		Schedule:  norm,
		Template:  tmpl,
		Status:    StatusActive,
		NextRunAt: next,
		CreatedAt: now,
	}
	if err := s.store.SaveSchedule(sc); err != nil {
		return nil, err
	}
	slog.Info("schedule created", "schedule", sc.ID, "name", name, "schedule_spec", schedule.Describe(norm))
	return sc, nil
}

func (s *Scheduler) List() ([]store.Schedule, error) {
	return s.store.ListSchedules()
}

func (s *Scheduler) Get(id string) (*store.Schedule, error) {
	sc, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, hiveerr.New(hiveerr.NotFound, "get schedule", "schedule %s not found", id)
	}
	return sc, nil
}

func (s *Scheduler) Pause(id string) (*store.Schedule, error) {
	sc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sc.Status != StatusActive {
		return nil, hiveerr.New(hiveerr.InvalidTransition, "pause schedule", "schedule %s is %s", id, sc.Status)
	}
	if err := s.store.UpdateScheduleStatus(id, StatusPaused); err != nil {
		return nil, err
	}
	sc.Status = StatusPaused
	return sc, nil
}

// Resume reactivates a paused schedule from its next firing after now, so
// firings missed while paused are skipped.
func (s *Scheduler) Resume(id string) (*store.Schedule, error) {
	const op = "resume schedule"
	sc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sc.Status != StatusPaused {
		return nil, hiveerr.New(hiveerr.InvalidTransition, op, "schedule %s is %s", id, sc.Status)
	}
	next := schedule.NextRun(sc.Schedule, s.now())
	if next == nil {
		return nil, hiveerr.New(hiveerr.Conflict, op, "schedule %s has no future runs", id)
	}
	sc.Status = StatusActive
	sc.NextRunAt = next
	if err := s.store.SaveSchedule(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Scheduler) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.store.DeleteSchedule(id)
}
