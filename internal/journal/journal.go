// Package journal persists committed agent and task snapshots behind the
// in-memory core. Recording never blocks on storage; a failed flush keeps
// the entries and marks the store disconnected until a later flush succeeds.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Store is the durable side of the journal.
type Store interface {
	SaveBatch(agents []registry.Agent, tasks []task.Task) error
}

type Journal struct {
	store    Store
	interval time.Duration

	mu     sync.Mutex
	agents map[string]registry.Agent
	tasks  map[string]task.Task
	flush  sync.Mutex

	notify  chan struct{}
	lastErr atomic.Pointer[error]
	flushes atomic.Uint64
	fails   atomic.Uint64
}

func New(store Store, interval time.Duration) *Journal {
	if interval <= 0 {
		interval = time.Second
	}
	return &Journal{
		store:    store,
		interval: interval,
		agents:   make(map[string]registry.Agent),
		tasks:    make(map[string]task.Task),
		notify:   make(chan struct{}, 1),
	}
}

// RecordAgent keeps the newest version of a.
func (j *Journal) RecordAgent(a registry.Agent) {
	j.mu.Lock()
	if cur, ok := j.agents[a.ID]; !ok || cur.Version < a.Version {
		j.agents[a.ID] = a
	}
	j.mu.Unlock()
	j.wake()
}

// RecordTask keeps the newest version of t.
func (j *Journal) RecordTask(t task.Task) {
	j.mu.Lock()
	if cur, ok := j.tasks[t.ID]; !ok || cur.Version < t.Version {
		j.tasks[t.ID] = t
	}
	j.mu.Unlock()
	j.wake()
}

func (j *Journal) wake() {
	select {
	case j.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of entries not yet written.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.agents) + len(j.tasks)
}

// Flush writes everything recorded so far in one batch.
func (j *Journal) Flush() error {
	j.flush.Lock()
	defer j.flush.Unlock()

	j.mu.Lock()
	if len(j.agents) == 0 && len(j.tasks) == 0 {
		j.mu.Unlock()
		return nil
	}
	agents := make([]registry.Agent, 0, len(j.agents))
	for _, a := range j.agents {
		agents = append(agents, a)
	}
	tasks := make([]task.Task, 0, len(j.tasks))
	for _, t := range j.tasks {
		tasks = append(tasks, t)
	}
	j.agents = make(map[string]registry.Agent)
	j.tasks = make(map[string]task.Task)
	j.mu.Unlock()

	err := j.store.SaveBatch(agents, tasks)
	if err == nil {
		j.flushes.Add(1)
		if j.lastErr.Swap(nil) != nil {
			slog.Info("store reconnected")
		}
		return nil
	}

	j.fails.Add(1)
	if j.lastErr.Swap(&err) == nil {
		slog.Warn("store disconnected, keeping entries for retry", "error", err, "entries", len(agents)+len(tasks))
	}

	// Put back whatever has not been superseded meanwhile.
	j.mu.Lock()
	for _, a := range agents {
		if cur, ok := j.agents[a.ID]; !ok || cur.Version < a.Version {
			j.agents[a.ID] = a
		}
	}
	for _, t := range tasks {
		if cur, ok := j.tasks[t.ID]; !ok || cur.Version < t.Version {
			j.tasks[t.ID] = t
		}
	}
	j.mu.Unlock()
	return err
}

// Run flushes on every recorded change and on the retry interval until ctx
// is cancelled, then makes a final attempt.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := j.Flush(); err != nil {
				slog.Error("final journal flush failed", "error", err, "entries", j.Pending())
			}
			return
		case <-j.notify:
			_ = j.Flush()
		case <-ticker.C:
			_ = j.Flush()
		}
	}
}

// Ping returns the last flush error while the store is disconnected.
func (j *Journal) Ping() error {
	if p := j.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Connected reports whether the last flush succeeded.
func (j *Journal) Connected() bool {
	return j.lastErr.Load() == nil
}

type Stats struct {
	Pending  int    `json:"pending"`
	Flushes  uint64 `json:"flushes"`
	Failures uint64 `json:"failures"`
	LastErr  string `json:"last_error,omitempty"`
}

func (j *Journal) Stats() Stats {
	s := Stats{Pending: j.Pending(), Flushes: j.flushes.Load(), Failures: j.fails.Load()}
	if err := j.Ping(); err != nil {
		s.LastErr = err.Error()
	}
	return s
}
