// Package supervisor tracks in-flight attempts, enforces timeouts and
// applies the retry policy.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/learning"
	"github.com/do-ops885/ai-orchestrator-hub/internal/queue"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Liveness returns the last time an agent was seen.
type Liveness func(agentID string) (time.Time, error)

type Options struct {
	SweepInterval     time.Duration
	LivenessThreshold time.Duration
	EnergyPerAttempt  float64
	EnergyRegen       float64
	Liveness          Liveness
	Now               func() time.Time
}

type Supervisor struct {
	q       *queue.Queue
	reg     *registry.Registry
	learner *learning.Learner
	bus     events.Publisher
	sink    task.Sink
	opts    Options

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running map[string]string

	fault     atomic.Pointer[hiveerr.Error]
	lastSweep atomic.Int64

	timeouts atomic.Uint64
	retries  atomic.Uint64
	crashes  atomic.Uint64
}

func New(q *queue.Queue, reg *registry.Registry, learner *learning.Learner, bus events.Publisher, opts Options) *Supervisor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.LivenessThreshold <= 0 {
		opts.LivenessThreshold = 30 * time.Second
	}
	s := &Supervisor{
		q:       q,
		reg:     reg,
		learner: learner,
		bus:     bus,
		sink:    q.Sink(),
		opts:    opts,
		timers:  make(map[string]*time.Timer),
		running: make(map[string]string),
	}
	if s.opts.Liveness == nil {
		s.opts.Liveness = func(agentID string) (time.Time, error) {
			a, err := reg.Get(agentID)
			if err != nil {
				return time.Time{}, err
			}
			if a.State == registry.Removed {
				return time.Time{}, fmt.Errorf("agent %s removed", agentID)
			}
			return a.LastActive, nil
		}
	}
	return s
}

// mode selects what finishing an attempt does to the agent.
type mode int

const (
	modeReport mode = iota
	modeTimeout
	modeCrash
	modeFault
	modeDetach
)

// Start opens a new attempt for an Assigned task and arms its timeout.
func (s *Supervisor) Start(rec *task.Record, agentID string) (task.Task, error) {
	const op = "start attempt"
	if err := s.faulted(op); err != nil {
		return task.Task{}, err
	}

	rec.Lock()
	t := rec.Locked()
	switch {
	case t.Status == task.Cancelled:
		rec.Unlock()
		return task.Task{}, hiveerr.New(hiveerr.Conflict, op, "task %s was cancelled", rec.ID())
	case t.Status.Terminal():
		rec.Unlock()
		return task.Task{}, s.latch(op, "attempt started for %s task %s", t.Status, rec.ID())
	case t.RunningAttempt() != nil:
		rec.Unlock()
		return task.Task{}, s.latch(op, "task %s already has a running attempt", rec.ID())
	case t.RetriesExhausted():
		rec.Unlock()
		return task.Task{}, s.latch(op, "task %s has no retries left", rec.ID())
	case t.Status != task.Assigned || t.AssignedAgent != agentID:
		rec.Unlock()
		return task.Task{}, hiveerr.New(hiveerr.Conflict, op, "task %s is %s for agent %q", rec.ID(), t.Status, t.AssignedAgent)
	}
	// A pause or forced removal may have taken the agent off the task since
	// it was assigned. Lock order is task then agent.
	if a, err := s.reg.Get(agentID); err != nil || a.State != registry.Active || a.CurrentTask != rec.ID() {
		rec.Unlock()
		return task.Task{}, hiveerr.New(hiveerr.Conflict, op, "agent %s no longer holds task %s", agentID, rec.ID())
	}

	number := len(t.Attempts) + 1
	t.Attempts = append(t.Attempts, task.Attempt{
		Number:    number,
		AgentID:   agentID,
		StartedAt: s.opts.Now(),
		Outcome:   task.OutcomeRunning,
	})
	t.Status = task.Running
	timeout := t.Timeout
	snap := s.sink.Commit(rec, events.TaskStarted, nil)
	rec.Unlock()

	if s.opts.EnergyPerAttempt > 0 {
		if err := s.reg.ConsumeEnergy(agentID, s.opts.EnergyPerAttempt); err != nil {
			slog.Warn("consume energy failed", "agent", agentID, "error", err)
		}
	}

	id := rec.ID()
	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.running[id] = agentID
	if timeout > 0 {
		s.timers[id] = time.AfterFunc(timeout, func() { s.expire(id, agentID, number, timeout) })
	}
	s.mu.Unlock()

	slog.Info("attempt started", "task", id, "agent", agentID, "attempt", number)
	return snap, nil
}

// Report accepts the outcome of the running attempt from the agent holding
// it. Learning runs before Report returns.
func (s *Supervisor) Report(taskID, agentID string, outcome task.Outcome, detail, result string) (task.Task, error) {
	if outcome != task.Success && outcome != task.Failure {
		return task.Task{}, hiveerr.New(hiveerr.Validation, "report", "outcome must be success or failure, got %s", outcome)
	}
	if err := s.faulted("report"); err != nil {
		return task.Task{}, err
	}
	return s.finish(taskID, agentID, 0, outcome, detail, result, modeReport)
}

// Detach ends the running attempt of an agent that was removed or paused.
// The retry policy applies but no learning signal is sent.
func (s *Supervisor) Detach(taskID, agentID, reason string) (task.Task, error) {
	return s.finish(taskID, agentID, 0, task.Failure, reason, "", modeDetach)
}

// Recover ends an attempt interrupted by a restart.
func (s *Supervisor) Recover(rec *task.Record) {
	snap := rec.Snapshot()
	ra := snap.RunningAttempt()
	if ra == nil {
		rec.Lock()
		t := rec.Locked()
		if t.Status == task.Running {
			t.Status = task.Pending
			t.AssignedAgent = ""
			s.sink.Commit(rec, "", nil)
		}
		rec.Unlock()
		if err := s.q.Requeue(rec.ID(), 0); err != nil {
			slog.Warn("requeue recovered task failed", "task", rec.ID(), "error", err)
		}
		return
	}
	if _, err := s.finish(rec.ID(), ra.AgentID, ra.Number, task.TimedOut, "engine restart", "", modeDetach); err != nil {
		slog.Warn("recover interrupted attempt failed", "task", rec.ID(), "error", err)
	}
}

// Progress records a heartbeat and publishes task_progress.
func (s *Supervisor) Progress(taskID, agentID string, percent float64, note string) error {
	rec, err := s.q.Record(taskID)
	if err != nil {
		return err
	}
	rec.Lock()
	ra := rec.Locked().RunningAttempt()
	if ra == nil || ra.AgentID != agentID {
		rec.Unlock()
		return hiveerr.New(hiveerr.Conflict, "progress", "agent %s has no running attempt on task %s", agentID, taskID)
	}
	s.sink.Commit(rec, events.TaskProgress, events.Progress{Percent: percent, Note: note})
	rec.Unlock()
	return s.reg.Touch(agentID)
}

func (s *Supervisor) expire(taskID, agentID string, number int, timeout time.Duration) {
	_, err := s.finish(taskID, agentID, number, task.TimedOut, fmt.Sprintf("attempt timed out after %s", timeout), "", modeTimeout)
	if err == nil {
		s.timeouts.Add(1)
		slog.Warn("attempt timed out", "task", taskID, "agent", agentID, "attempt", number)
	}
}

// finish ends the running attempt and applies the outcome. attempt 0 matches
// whichever attempt is running.
func (s *Supervisor) finish(taskID, agentID string, attempt int, outcome task.Outcome, detail, result string, m mode) (task.Task, error) {
	const op = "finish attempt"
	rec, err := s.q.Record(taskID)
	if err != nil {
		return task.Task{}, err
	}

	rec.Lock()
	t := rec.Locked()
	ra := t.RunningAttempt()
	if ra == nil || ra.AgentID != agentID || (attempt > 0 && ra.Number != attempt) {
		rec.Unlock()
		return task.Task{}, hiveerr.New(hiveerr.Conflict, op, "agent %s holds no running attempt on task %s", agentID, taskID)
	}
	ra.EndedAt = s.opts.Now()
	ra.Outcome = outcome
	ra.Detail = detail
	number := ra.Number

	var (
		snap    task.Task
		learn   = m != modeDetach
		requeue bool
		delay   time.Duration
	)
	switch {
	case t.Status == task.Cancelled:
		learn = false
		snap = s.sink.Commit(rec, "", nil)
	case outcome == task.Success:
		t.Status = task.Completed
		t.Result = result
		snap = s.sink.Commit(rec, events.TaskCompleted, nil)
	case !t.RetriesExhausted():
		t.Status = task.Pending
		t.AssignedAgent = ""
		requeue = true
		delay = s.q.Backoff(number)
		snap = s.sink.Commit(rec, events.TaskFailed, task.FailureReport{Retrying: true, Detail: detail, Outcome: outcome.String()})
	default:
		t.Status = task.Failed
		t.Error = detail
		if t.Error == "" {
			t.Error = outcome.String()
		}
		snap = s.sink.Commit(rec, events.TaskFailed, task.FailureReport{Retrying: false, Detail: t.Error, Outcome: outcome.String()})
	}
	reqs := append(t.RequiredCapabilities[:0:0], t.RequiredCapabilities...)
	rec.Unlock()

	s.disarm(taskID)

	if learn {
		if _, err := s.learner.Apply(agentID, taskID, reqs, outcome == task.Success); err != nil {
			slog.Warn("learning update failed", "agent", agentID, "task", taskID, "error", err)
		}
	}

	if m != modeDetach {
		ev := registry.EventFail
		switch {
		case m == modeCrash:
			ev = registry.EventCrash
		case m == modeFault:
			ev = registry.EventFault
		case outcome == task.Success:
			ev = registry.EventComplete
		}
		if err := s.reg.Release(agentID, taskID, ev); err != nil {
			slog.Warn("release agent failed", "agent", agentID, "task", taskID, "error", err)
		}
	}

	if requeue {
		s.retries.Add(1)
		if err := s.q.Requeue(taskID, delay); err != nil {
			slog.Error("requeue failed", "task", taskID, "error", err)
		}
		slog.Info("attempt failed, retrying", "task", taskID, "attempt", number, "outcome", outcome, "delay", delay)
	} else {
		slog.Info("attempt finished", "task", taskID, "agent", agentID, "attempt", number, "outcome", outcome, "status", snap.Status)
	}
	return snap, nil
}

func (s *Supervisor) disarm(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm, ok := s.timers[taskID]; ok {
		tm.Stop()
		delete(s.timers, taskID)
	}
	delete(s.running, taskID)
}

// Run drives the heartbeat sweep until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	slog.Info("supervisor started", "sweep_interval", s.opts.SweepInterval, "liveness_threshold", s.opts.LivenessThreshold)
	s.Sweep()
	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			slog.Info("supervisor stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep forces a timeout on attempts whose agent stopped sending heartbeats
// and regenerates energy of idle agents.
func (s *Supervisor) Sweep() {
	now := s.opts.Now()
	s.lastSweep.Store(now.UnixNano())

	s.mu.Lock()
	held := make(map[string]string, len(s.running))
	for taskID, agentID := range s.running {
		held[taskID] = agentID
	}
	s.mu.Unlock()

	for taskID, agentID := range held {
		seen, err := s.opts.Liveness(agentID)
		if err != nil {
			if _, ferr := s.finish(taskID, agentID, 0, task.TimedOut, "agent liveness check failed: "+err.Error(), "", modeFault); ferr == nil {
				s.crashes.Add(1)
				slog.Warn("liveness check failed", "agent", agentID, "task", taskID, "error", err)
			}
			continue
		}
		if now.Sub(seen) <= s.opts.LivenessThreshold {
			continue
		}
		if _, err := s.finish(taskID, agentID, 0, task.TimedOut, "agent heartbeat lost", "", modeCrash); err == nil {
			s.crashes.Add(1)
			slog.Warn("agent heartbeat lost", "agent", agentID, "task", taskID, "last_active", seen)
		}
	}

	s.reg.Regenerate(s.opts.EnergyRegen)
}

func (s *Supervisor) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
}

// latch records a broken invariant. The supervisor refuses further work
// until restarted.
func (s *Supervisor) latch(op, format string, args ...any) error {
	err := hiveerr.New(hiveerr.Fatal, op, format, args...)
	s.fault.CompareAndSwap(nil, err)
	slog.Error("supervisor invariant violated", "error", err)
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.ResourceAlert, Payload: events.Alert{
			Resource: "supervisor",
			Level:    "critical",
			Message:  err.Error(),
		}})
	}
	return err
}

func (s *Supervisor) faulted(op string) error {
	if f := s.fault.Load(); f != nil {
		return hiveerr.Wrap(hiveerr.Fatal, op, f)
	}
	return nil
}

// Ping fails once a fault is latched or when the sweep loop has stalled.
func (s *Supervisor) Ping() error {
	if f := s.fault.Load(); f != nil {
		return f
	}
	last := s.lastSweep.Load()
	if last == 0 {
		return nil
	}
	if s.opts.Now().Sub(time.Unix(0, last)) > 3*s.opts.SweepInterval {
		return fmt.Errorf("supervisor sweep stalled since %s", time.Unix(0, last).Format(time.RFC3339))
	}
	return nil
}

type Stats struct {
	Running  int    `json:"running"`
	Timeouts uint64 `json:"timeouts"`
	Retries  uint64 `json:"retries"`
	Crashes  uint64 `json:"crash_recoveries"`
	Faulted  bool   `json:"faulted"`
}

func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	running := len(s.running)
	s.mu.Unlock()
	return Stats{
		Running:  running,
		Timeouts: s.timeouts.Load(),
		Retries:  s.retries.Load(),
		Crashes:  s.crashes.Load(),
		Faulted:  s.fault.Load() != nil,
	}
}
