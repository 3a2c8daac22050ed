// Package hive wires the engine components together and exposes the
// submission and query surface used by the transports.
package hive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/journal"
	"github.com/do-ops885/ai-orchestrator-hub/internal/learning"
	"github.com/do-ops885/ai-orchestrator-hub/internal/queue"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/supervisor"
	"github.com/do-ops885/ai-orchestrator-hub/internal/swarm"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Store is the durable backend the engine loads from at startup and the
// journal flushes to.
type Store interface {
	journal.Store
	LoadAgents() ([]registry.Agent, error)
	LoadTasks() ([]task.Task, error)
	PruneTasks(cutoff time.Time) (int64, error)
}

type Options struct {
	Now func() time.Time
}

type Hive struct {
	cfg   *config.Config
	store Store
	now   func() time.Time

	bus        *events.Bus
	journal    *journal.Journal
	registry   *registry.Registry
	queue      *queue.Queue
	learner    *learning.Learner
	supervisor *supervisor.Supervisor
	swarm      *swarm.Coordinator

	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, st Store, opts Options) *Hive {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hive{cfg: cfg, store: st, now: opts.Now}

	h.bus = events.NewBus(cfg.Events.Buffer)
	h.journal = journal.New(st, cfg.Store.FlushInterval)

	h.registry = registry.New(h.bus, h.journal, registry.Options{
		DefaultLearningRate: cfg.Learning.DefaultRate,
		Now:                 opts.Now,
	})
	h.queue = queue.New(h.bus, h.journal, queue.Options{
		MinEnergy:      cfg.Queue.MinEnergy,
		BackoffBase:    cfg.Queue.BackoffBase,
		BackoffMax:     cfg.Queue.BackoffMax,
		DefaultTimeout: cfg.Queue.DefaultTimeout,
		Now:            opts.Now,
	})
	h.learner = learning.New(h.registry, h.bus, cfg.Learning.ExperienceK)
	h.supervisor = supervisor.New(h.queue, h.registry, h.learner, h.bus, supervisor.Options{
		SweepInterval:     cfg.Supervisor.SweepInterval,
		LivenessThreshold: cfg.Supervisor.LivenessThreshold,
		EnergyPerAttempt:  cfg.Supervisor.EnergyPerAttempt,
		EnergyRegen:       cfg.Supervisor.EnergyRegen,
		Now:               opts.Now,
	})
	h.swarm = swarm.NewCoordinator(h.registry, h.queue, h.bus, swarmOptions(cfg.Swarm, h, opts.Now))
	return h
}

func swarmOptions(sc config.SwarmConfig, h *Hive, now func() time.Time) swarm.Options {
	return swarm.Options{
		Interval:             sc.Interval,
		CohesionThreshold:    sc.CohesionThreshold,
		PerformanceThreshold: sc.PerformanceThreshold,
		DegradedWindow:       sc.DegradedWindow,
		EnergyAlert:          sc.EnergyAlert,
		Liveness: []swarm.Check{
			{Name: "registry", Ping: h.registry.Ping},
			{Name: "queue", Ping: h.queue.Ping},
			{Name: "supervisor", Ping: h.supervisor.Ping},
		},
		Dependencies: []swarm.Check{
			{Name: "store", Ping: h.journal.Ping},
		},
		Now: now,
	}
}

func (h *Hive) Bus() *events.Bus { return h.bus }
func (h *Hive) Journal() *journal.Journal { return h.journal }
func (h *Hive) Swarm() *swarm.Coordinator { return h.swarm }
func (h *Hive) Supervisor() *supervisor.Supervisor { return h.supervisor }
func (h *Hive) Queue() *queue.Queue { return h.queue }
func (h *Hive) Registry() *registry.Registry { return h.registry }

// Load restores agents and tasks from the store. Attempts that were running
// when the previous process stopped are ended as timed out and retried.
func (h *Hive) Load() error {
	agents, err := h.store.LoadAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	tasks, err := h.store.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	h.registry.Restore(agents)
	interrupted := h.queue.Restore(tasks)
	for _, rec := range interrupted {
		h.supervisor.Recover(rec)
	}
	slog.Info("engine state loaded", "agents", len(agents), "tasks", len(tasks), "interrupted", len(interrupted))
	return nil
}

// EnsureAgents registers declared agents that do not exist yet and returns
// the ids of the ones created.
func (h *Hive) EnsureAgents(defs map[string]config.AgentDefinition) ([]string, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	var created []string
	for _, name := range names {
		if _, err := h.registry.GetByName(name); err == nil {
			continue
		}
		def := defs[name]
		kind, err := registry.ParseKind(def.Kind)
		if err != nil {
			return created, hiveerr.New(hiveerr.Validation, "declare agent", "agent %s: %v", name, err)
		}
		id, err := h.registry.Register(registry.Definition{
			Name:           name,
			Kind:           kind,
			Specialization: def.Specialization,
			Capabilities:   def.Capabilities,
		})
		if err != nil {
			return created, fmt.Errorf("declare agent %s: %w", name, err)
		}
		created = append(created, id)
	}
	return created, nil
}

// UpdateSwarm replaces the coordinator thresholds after a config reload.
func (h *Hive) UpdateSwarm(sc config.SwarmConfig) {
	h.swarm.SetThresholds(sc.CohesionThreshold, sc.PerformanceThreshold, sc.DegradedWindow, sc.EnergyAlert)
}

// Run drives the background loops until ctx is cancelled. It returns after
// the journal made its final flush.
func (h *Hive) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("hive already running")
	}
	h.running = true
	h.mu.Unlock()

	var wg sync.WaitGroup
	loops := []func(context.Context){
		h.supervisor.Run,
		h.swarm.Run,
	}
	if h.cfg.Store.Retention > 0 {
		loops = append(loops, h.prune)
	}
	for _, fn := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// The journal outlives the other loops so their last commits are flushed.
	jctx, stopJournal := context.WithCancel(context.Background())
	jdone := make(chan struct{})
	go func() {
		defer close(jdone)
		h.journal.Run(jctx)
	}()

	<-ctx.Done()
	wg.Wait()
	stopJournal()
	<-jdone
	h.bus.Close()
	slog.Info("hive stopped")
	return nil
}

func (h *Hive) prune(ctx context.Context) {
	interval := min(h.cfg.Store.Retention, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.pruneOnce(); err != nil {
				slog.Warn("prune tasks failed", "error", err)
			}
		}
	}
}

// pruneOnce drops terminal tasks past retention from the store and then from
// memory. Pending journal entries are flushed first so a late write does not
// bring a pruned row back.
func (h *Hive) pruneOnce() error {
	cutoff := h.now().Add(-h.cfg.Store.Retention)
	if err := h.journal.Flush(); err != nil {
		return err
	}
	n, err := h.store.PruneTasks(cutoff)
	if err != nil {
		return err
	}
	dropped := h.queue.Prune(cutoff)
	if n > 0 || dropped > 0 {
		slog.Info("pruned terminal tasks", "stored", n, "in_memory", dropped)
	}
	return nil
}

// Ping reports the first failing component check.
func (h *Hive) Ping() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"registry", h.registry.Ping},
		{"queue", h.queue.Ping},
		{"supervisor", h.supervisor.Ping},
		{"store", h.journal.Ping},
	}
	for _, c := range checks {
		if err := c.fn(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
