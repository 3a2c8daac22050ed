// Package metrics exports swarm state and engine activity to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/journal"
	"github.com/do-ops885/ai-orchestrator-hub/internal/swarm"
)

const namespace = "hive"

type Collector struct {
	reg *prometheus.Registry

	agents      *prometheus.GaugeVec
	tasks       *prometheus.GaugeVec
	performance prometheus.Gauge
	energy      prometheus.Gauge
	cohesion    prometheus.Gauge
	health      *prometheus.GaugeVec
	sequence    prometheus.Gauge

	events  *prometheus.CounterVec
	alerts  *prometheus.CounterVec
	dropped prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		agents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Agents by state.",
		}, []string{"state"}),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks by status.",
		}, []string{"status"}),
		performance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_performance",
			Help:      "Mean performance score of non-removed agents.",
		}),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_energy",
			Help:      "Mean energy of non-removed agents.",
		}),
		cohesion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cohesion",
			Help:      "Swarm cohesion derived from performance variance.",
		}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health",
			Help:      "1 for the current swarm health state, 0 otherwise.",
		}, []string{"state"}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_sequence",
			Help:      "Sequence number of the latest swarm snapshot.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by type.",
		}, []string{"type"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_alerts_total",
			Help:      "Resource alerts by resource and level.",
		}, []string{"resource", "level"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_events_dropped_total",
			Help:      "Events the metrics subscriber missed because it fell behind.",
		}),
	}

	c.reg.MustRegister(
		c.agents, c.tasks, c.performance, c.energy, c.cohesion, c.health, c.sequence,
		c.events, c.alerts, c.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Observe updates the gauges from a swarm snapshot.
func (c *Collector) Observe(s swarm.Snapshot) {
	c.agents.WithLabelValues("active").Set(float64(s.ActiveAgents))
	c.agents.WithLabelValues("idle").Set(float64(s.IdleAgents))
	c.agents.WithLabelValues("paused").Set(float64(s.PausedAgents))
	c.agents.WithLabelValues("failed").Set(float64(s.FailedAgents))

	c.tasks.WithLabelValues("pending").Set(float64(s.PendingTasks))
	c.tasks.WithLabelValues("running").Set(float64(s.RunningTasks))
	c.tasks.WithLabelValues("completed").Set(float64(s.CompletedCount))
	c.tasks.WithLabelValues("failed").Set(float64(s.FailedCount))
	c.tasks.WithLabelValues("cancelled").Set(float64(s.CancelledCount))

	c.performance.Set(s.AveragePerformance)
	c.energy.Set(s.AverageEnergy)
	c.cohesion.Set(s.Cohesion)
	c.sequence.Set(float64(s.Sequence))

	for _, h := range []swarm.Health{swarm.Healthy, swarm.Degraded, swarm.Unhealthy} {
		v := 0.0
		if h == s.Health {
			v = 1
		}
		c.health.WithLabelValues(h.String()).Set(v)
	}
}

// WatchJournal exports the persistence journal counters.
func (c *Collector) WatchJournal(j *journal.Journal) {
	c.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_pending",
			Help:      "Entity snapshots waiting to be flushed.",
		}, func() float64 { return float64(j.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_flushes_total",
			Help:      "Successful journal flushes.",
		}, func() float64 { return float64(j.Stats().Flushes) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_failures_total",
			Help:      "Failed journal flushes.",
		}, func() float64 { return float64(j.Stats().Failures) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_connected",
			Help:      "1 while the store accepts writes.",
		}, func() float64 {
			if j.Connected() {
				return 1
			}
			return 0
		}),
	)
}

// Count records one event.
func (c *Collector) Count(ev events.Event) {
	c.events.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type != events.ResourceAlert {
		return
	}
	if a, ok := ev.Payload.(events.Alert); ok {
		c.alerts.WithLabelValues(a.Resource, a.Level).Inc()
	}
}

// Run counts bus events until ctx is cancelled or the bus closes.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(events.SubscribeOptions{})
	defer sub.Close()

	var seen uint64
	slog.Info("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("metrics collector stopped")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.Count(ev)
			if d := sub.Dropped(); d > seen {
				c.dropped.Add(float64(d - seen))
				seen = d
			}
		}
	}
}
