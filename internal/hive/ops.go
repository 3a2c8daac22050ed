package hive

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/journal"
	"github.com/do-ops885/ai-orchestrator-hub/internal/queue"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/supervisor"
	"github.com/do-ops885/ai-orchestrator-hub/internal/swarm"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

func (h *Hive) CreateAgent(def registry.Definition) (registry.Agent, error) {
	id, err := h.registry.Register(def)
	if err != nil {
		return registry.Agent{}, err
	}
	return h.registry.Get(id)
}

func (h *Hive) CreateTask(def task.Definition) (task.Task, error) {
	return h.queue.Enqueue(def)
}

// CancelTask cancels a task. An attempt already running is not interrupted;
// its outcome is discarded when reported.
func (h *Hive) CancelTask(id, reason string) (task.Task, error) {
	return h.queue.Cancel(id, reason)
}

// PauseAgent pauses an agent. A task it was working on is detached and goes
// through the retry policy.
func (h *Hive) PauseAgent(id string) (registry.Agent, error) {
	taskID, err := h.registry.Pause(id)
	if err != nil {
		return registry.Agent{}, err
	}
	if taskID != "" {
		h.detach(taskID, id, "agent paused")
	}
	return h.registry.Get(id)
}

func (h *Hive) ResumeAgent(id string) (registry.Agent, error) {
	if err := h.registry.Resume(id); err != nil {
		return registry.Agent{}, err
	}
	return h.registry.Get(id)
}

// RemoveAgent logically removes an agent. A busy agent is only removed with
// force; its task is detached and returns to the queue.
func (h *Hive) RemoveAgent(id string, force bool) (registry.Agent, error) {
	taskID, err := h.registry.Remove(id, force)
	if err != nil {
		return registry.Agent{}, err
	}
	if taskID != "" {
		h.detach(taskID, id, "agent removed")
	}
	return h.registry.Get(id)
}

// detach ends the attempt of an agent that left its task. A task that was
// assigned but never started is handed back to the queue instead.
func (h *Hive) detach(taskID, agentID, reason string) {
	_, err := h.supervisor.Detach(taskID, agentID, reason)
	if err == nil {
		return
	}
	if !errors.Is(err, hiveerr.ErrConflict) {
		slog.Warn("detach task failed", "task", taskID, "agent", agentID, "error", err)
		return
	}
	if rerr := h.queue.Release(taskID); rerr != nil && !errors.Is(rerr, hiveerr.ErrConflict) {
		slog.Warn("release detached task failed", "task", taskID, "agent", agentID, "error", rerr)
	}
}

// RequestWork hands the agent the best eligible task and starts an attempt
// on it. It returns nil, nil when nothing is eligible.
func (h *Hive) RequestWork(agentID string) (*task.Task, error) {
	const op = "request work"
	if err := h.registry.Touch(agentID); err != nil {
		return nil, err
	}
	a, err := h.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	switch a.State {
	case registry.Idle:
	case registry.Active:
		return nil, hiveerr.New(hiveerr.AgentBusy, op, "agent %s already holds task %s", agentID, a.CurrentTask)
	default:
		return nil, hiveerr.New(hiveerr.InvalidTransition, op, "agent %s is %s", agentID, a.State)
	}

	rec := h.queue.Pull(a)
	if rec == nil {
		return nil, nil
	}
	if err := h.registry.Assign(agentID, rec.ID()); err != nil {
		h.release(rec.ID())
		return nil, err
	}
	t, err := h.supervisor.Start(rec, agentID)
	if err != nil {
		if rerr := h.registry.Release(agentID, rec.ID(), registry.EventFail); rerr != nil && !errors.Is(rerr, hiveerr.ErrConflict) {
			slog.Warn("release agent after failed start", "agent", agentID, "task", rec.ID(), "error", rerr)
		}
		h.release(rec.ID())
		return nil, err
	}
	return &t, nil
}

func (h *Hive) release(taskID string) {
	if err := h.queue.Release(taskID); err != nil && !errors.Is(err, hiveerr.ErrConflict) {
		slog.Warn("release task failed", "task", taskID, "error", err)
	}
}

// ReportOutcome ends the running attempt. Learning has been applied when it
// returns.
func (h *Hive) ReportOutcome(taskID, agentID string, outcome task.Outcome, detail, result string) (task.Task, error) {
	return h.supervisor.Report(taskID, agentID, outcome, detail, result)
}

func (h *Hive) ReportProgress(taskID, agentID string, percent float64, note string) error {
	if percent < 0 || percent > 100 {
		return hiveerr.New(hiveerr.Validation, "progress", "percent %v outside [0,100]", percent)
	}
	return h.supervisor.Progress(taskID, agentID, percent, note)
}

func (h *Hive) Heartbeat(agentID string) error {
	return h.registry.Touch(agentID)
}

func (h *Hive) GetAgent(id string) (registry.Agent, error) {
	return h.registry.Get(id)
}

func (h *Hive) ListAgents(f registry.Filter) []registry.Agent {
	return h.registry.List(f)
}

func (h *Hive) GetTask(id string) (task.Task, error) {
	return h.queue.Get(id)
}

func (h *Hive) ListTasks(f task.Filter) []task.Task {
	return h.queue.List(f)
}

// Snapshot returns the latest swarm snapshot.
func (h *Hive) Snapshot() swarm.Snapshot {
	return h.swarm.Snapshot()
}

// Candidates lists agents able to take the task, best fitness first.
func (h *Hive) Candidates(taskID string) ([]Candidate, error) {
	t, err := h.queue.Get(taskID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, a := range h.registry.List(registry.Filter{}) {
		if !capability.Satisfies(a.Capabilities, t.RequiredCapabilities) {
			continue
		}
		out = append(out, Candidate{
			AgentID: a.ID,
			Name:    a.Name,
			State:   a.State,
			Fitness: capability.Fitness(a.Capabilities, t.RequiredCapabilities),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fitness > out[j].Fitness })
	return out, nil
}

type Candidate struct {
	AgentID string         `json:"agent_id"`
	Name    string         `json:"name"`
	State   registry.State `json:"state"`
	Fitness float64        `json:"fitness"`
}

type Stats struct {
	Queue      queue.Stats      `json:"queue"`
	Supervisor supervisor.Stats `json:"supervisor"`
	Journal    journal.Stats    `json:"journal"`
	Connected  bool             `json:"store_connected"`
	Events     uint64           `json:"events_published"`
	Agents     int              `json:"agents"`
}

func (h *Hive) Stats() Stats {
	return Stats{
		Queue:      h.queue.Stats(),
		Supervisor: h.supervisor.Stats(),
		Journal:    h.journal.Stats(),
		Connected:  h.journal.Connected(),
		Events:     h.bus.Published(),
		Agents:     len(h.registry.List(registry.Filter{})),
	}
}
