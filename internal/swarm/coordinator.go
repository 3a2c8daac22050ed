// Package swarm aggregates registry and queue state into periodic
// snapshots and derives swarm health from them.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/queue"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
)

// Check is a named probe. Liveness checks that fail make the swarm
// Unhealthy; dependency checks that fail make it Degraded.
type Check struct {
	Name string
	Ping func() error
}

type Options struct {
	Interval             time.Duration
	CohesionThreshold    float64
	PerformanceThreshold float64
	DegradedWindow       time.Duration
	EnergyAlert          float64
	Liveness             []Check
	Dependencies         []Check
	Now                  func() time.Time
}

type Coordinator struct {
	reg  *registry.Registry
	q    *queue.Queue
	bus  events.Publisher
	opts Options

	current atomic.Pointer[Snapshot]

	mu         sync.Mutex
	seq        uint64
	belowSince time.Time
	imbalanced bool
	lowEnergy  map[string]bool
	listeners  []func(Snapshot)
}

func NewCoordinator(reg *registry.Registry, q *queue.Queue, bus events.Publisher, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Coordinator{
		reg:       reg,
		q:         q,
		bus:       bus,
		opts:      opts,
		lowEnergy: make(map[string]bool),
	}
	c.current.Store(&Snapshot{Cohesion: 1, Timestamp: opts.Now()})
	return c
}

// OnSnapshot registers fn to receive every new snapshot.
func (c *Coordinator) OnSnapshot(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetThresholds replaces the health thresholds used from the next cycle on.
func (c *Coordinator) SetThresholds(cohesion, performance float64, window time.Duration, energy float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.CohesionThreshold = cohesion
	c.opts.PerformanceThreshold = performance
	c.opts.DegradedWindow = window
	c.opts.EnergyAlert = energy
}

// Snapshot returns the latest published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.current.Load()
}

func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	slog.Info("swarm coordinator started", "interval", c.opts.Interval)
	c.Refresh()
	for {
		select {
		case <-ctx.Done():
			slog.Info("swarm coordinator stopped")
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// Refresh recomputes and publishes a snapshot. A failed aggregation
// publishes the previous figures marked Unhealthy and scheduling carries on.
func (c *Coordinator) Refresh() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := *c.current.Load()
	next, alerts, err := c.aggregate(prev)
	if err != nil {
		slog.Error("swarm aggregation failed", "error", err)
		next = prev
		next.Health = Unhealthy
		next.HealthReason = err.Error()
		next.Timestamp = c.opts.Now()
	}
	c.seq++
	next.Sequence = c.seq
	if next.Health != prev.Health {
		alerts = append(alerts, events.Alert{
			Resource: "swarm",
			Level:    next.Health.String(),
			Message:  fmt.Sprintf("health changed from %s to %s: %s", prev.Health, next.Health, next.HealthReason),
		})
		slog.Warn("swarm health changed", "from", prev.Health, "to", next.Health, "reason", next.HealthReason)
	}

	snap := next
	c.current.Store(&snap)

	if c.bus != nil {
		for _, a := range alerts {
			c.bus.Publish(events.Event{Type: events.ResourceAlert, AgentID: a.AgentID, Timestamp: snap.Timestamp, Payload: a})
		}
		c.bus.Publish(events.Event{Type: events.SwarmSnapshot, Timestamp: snap.Timestamp, Payload: snap})
	}
	for _, fn := range c.listeners {
		fn(snap)
	}
	return snap
}

// aggregate runs under c.mu.
func (c *Coordinator) aggregate(prev Snapshot) (s Snapshot, alerts []events.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregation panic: %v", r)
		}
	}()

	now := c.opts.Now()
	agents := c.reg.List(registry.Filter{})
	stats := c.q.Stats()

	s = Snapshot{
		TotalAgents:    len(agents),
		PendingTasks:   stats.Pending,
		RunningTasks:   stats.Running + stats.Assigned,
		CompletedCount: stats.Completed,
		FailedCount:    stats.Failed,
		CancelledCount: stats.Cancelled,
		Timestamp:      now,
	}

	scores := make([]float64, 0, len(agents))
	var energy float64
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		switch a.State {
		case registry.Active:
			s.ActiveAgents++
		case registry.Idle:
			s.IdleAgents++
		case registry.Paused:
			s.PausedAgents++
		case registry.Failed:
			s.FailedAgents++
		}
		scores = append(scores, a.PerformanceScore)
		energy += a.Energy
		seen[a.ID] = true

		low := c.opts.EnergyAlert > 0 && a.Energy < c.opts.EnergyAlert
		if low && !c.lowEnergy[a.ID] {
			alerts = append(alerts, events.Alert{
				Resource:  "energy",
				Level:     "warning",
				Message:   fmt.Sprintf("agent %s energy low", a.Name),
				Value:     a.Energy,
				Threshold: c.opts.EnergyAlert,
				AgentID:   a.ID,
			})
		}
		c.lowEnergy[a.ID] = low
	}
	for id := range c.lowEnergy {
		if !seen[id] {
			delete(c.lowEnergy, id)
		}
	}
	if len(agents) > 0 {
		var sum float64
		for _, v := range scores {
			sum += v
		}
		s.AveragePerformance = sum / float64(len(agents))
		s.AverageEnergy = energy / float64(len(agents))
	}
	s.Cohesion = Cohesion(scores)

	lowCohesion := len(agents) >= 2 && s.Cohesion < c.opts.CohesionThreshold
	if lowCohesion && !c.imbalanced {
		alerts = append(alerts, imbalanceAlert(agents, s, c.opts.CohesionThreshold))
	}
	c.imbalanced = lowCohesion

	s.Health, s.HealthReason = c.evaluate(s, now)
	return s, alerts, nil
}

func (c *Coordinator) evaluate(s Snapshot, now time.Time) (Health, string) {
	for _, chk := range c.opts.Liveness {
		if err := chk.Ping(); err != nil {
			return Unhealthy, fmt.Sprintf("%s liveness check failed: %v", chk.Name, err)
		}
	}

	var reason string
	below := s.TotalAgents > 0 &&
		(s.Cohesion < c.opts.CohesionThreshold || s.AveragePerformance < c.opts.PerformanceThreshold)
	if below {
		if c.belowSince.IsZero() {
			c.belowSince = now
		}
		if now.Sub(c.belowSince) >= c.opts.DegradedWindow {
			reason = fmt.Sprintf("cohesion %.2f / performance %.2f below thresholds since %s",
				s.Cohesion, s.AveragePerformance, c.belowSince.Format(time.RFC3339))
		}
	} else {
		c.belowSince = time.Time{}
	}

	for _, chk := range c.opts.Dependencies {
		if err := chk.Ping(); err != nil {
			return Degraded, fmt.Sprintf("%s unavailable: %v", chk.Name, err)
		}
	}
	if reason != "" {
		return Degraded, reason
	}
	return Healthy, ""
}

// imbalanceAlert names the agent kind whose mean performance is furthest
// from the swarm average, as a rebalancing hint.
func imbalanceAlert(agents []registry.Agent, s Snapshot, threshold float64) events.Alert {
	sums := map[registry.Kind]float64{}
	counts := map[registry.Kind]int{}
	for _, a := range agents {
		sums[a.Kind] += a.PerformanceScore
		counts[a.Kind]++
	}
	kinds := make([]registry.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var (
		outlier registry.Kind
		worst   = -1.0
		mean    float64
	)
	for _, k := range kinds {
		m := sums[k] / float64(counts[k])
		if d := math.Abs(m - s.AveragePerformance); d > worst {
			worst, outlier, mean = d, k, m
		}
	}
	return events.Alert{
		Resource:  "cohesion",
		Level:     "warning",
		Message:   fmt.Sprintf("swarm imbalanced: %s agents average %.2f against swarm %.2f", outlier, mean, s.AveragePerformance),
		Value:     s.Cohesion,
		Threshold: threshold,
	}
}
