package swarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
)

type Health int

const (
	Healthy Health = iota
	Degraded
	Unhealthy
)

var healthNames = []string{"healthy", "degraded", "unhealthy"}

func (h Health) String() string {
	if h < 0 || int(h) >= len(healthNames) {
		return fmt.Sprintf("health(%d)", int(h))
	}
	return healthNames[h]
}

func (h Health) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Health) UnmarshalText(b []byte) error {
	for i, n := range healthNames {
		if strings.EqualFold(n, string(b)) {
			*h = Health(i)
			return nil
		}
	}
	return fmt.Errorf("unknown health %q", b)
}

// Snapshot is an immutable aggregate of swarm state. A new value replaces
// the previous one on every cycle.
type Snapshot struct {
	TotalAgents        int       `json:"total_agents"`
	ActiveAgents       int       `json:"active_agents"`
	IdleAgents         int       `json:"idle_agents"`
	PausedAgents       int       `json:"paused_agents"`
	FailedAgents       int       `json:"failed_agents"`
	PendingTasks       int       `json:"pending_tasks"`
	RunningTasks       int       `json:"running_tasks"`
	CompletedCount     int       `json:"completed_count"`
	FailedCount        int       `json:"failed_count"`
	CancelledCount     int       `json:"cancelled_count"`
	AveragePerformance float64   `json:"average_performance"`
	AverageEnergy      float64   `json:"average_energy"`
	Cohesion           float64   `json:"cohesion"`
	Health             Health    `json:"health"`
	HealthReason       string    `json:"health_reason,omitempty"`
	Sequence           uint64    `json:"sequence"`
	Timestamp          time.Time `json:"timestamp"`
}

// SameAggregates reports whether two snapshots agree on everything except
// sequence and timestamp.
func (s Snapshot) SameAggregates(o Snapshot) bool {
	s.Sequence, o.Sequence = 0, 0
	s.Timestamp, o.Timestamp = time.Time{}, time.Time{}
	return s == o
}

// Cohesion maps the variance of performance scores in [0,1] onto [0,1]:
// identical scores give 1, a population split between 0 and 1 gives 0.
// Fewer than two scores are fully cohesive.
func Cohesion(scores []float64) float64 {
	if len(scores) < 2 {
		return 1
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))
	return capability.Clamp01(1 - 4*variance)
}
