// Package learning adjusts agent proficiency from attempt outcomes.
package learning

import (
	"log/slog"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
)

const DefaultExperienceK = 50

// Step moves proficiency toward 1 on success and 0 on failure. The step is
// scaled by the learning rate and shrinks as experience accumulates:
//
//	p' = clamp(p + lr*(target-p) / (1 + xp/K))
//
// Experience grows by one per attempt regardless of outcome.
func Step(c capability.Capability, success bool, k float64) capability.Capability {
	if k <= 0 {
		k = DefaultExperienceK
	}
	target := 0.0
	if success {
		target = 1.0
	}
	damping := 1 + float64(c.ExperiencePoints)/k
	c.Proficiency = capability.Clamp01(c.Proficiency + c.LearningRate*(target-c.Proficiency)/damping)
	c.ExperiencePoints++
	return c
}

// PerformanceScore is the smoothed success rate, starting at 0.5.
func PerformanceScore(completed, failed int) float64 {
	return float64(completed+1) / float64(completed+failed+2)
}

type Update struct {
	Capability string  `json:"capability"`
	Before     float64 `json:"before"`
	After      float64 `json:"after"`
}

// Cycle is the payload of the learning cycle events.
type Cycle struct {
	TaskID           string   `json:"task_id"`
	Success          bool     `json:"success"`
	Updates          []Update `json:"updates,omitempty"`
	PerformanceScore float64  `json:"performance_score,omitempty"`
}

type Learner struct {
	reg *registry.Registry
	bus events.Publisher
	k   float64
}

func New(reg *registry.Registry, bus events.Publisher, k float64) *Learner {
	if k <= 0 {
		k = DefaultExperienceK
	}
	return &Learner{reg: reg, bus: bus, k: k}
}

// Apply updates every required capability the agent holds, then its counters
// and performance score. Only the reporting agent's record is touched.
func (l *Learner) Apply(agentID, taskID string, reqs []capability.Requirement, success bool) (registry.Agent, error) {
	l.publish(events.LearningCycleStarted, agentID, Cycle{TaskID: taskID, Success: success})

	var updates []Update
	a, err := l.reg.Update(agentID, func(a *registry.Agent) {
		for _, r := range reqs {
			for i := range a.Capabilities {
				if a.Capabilities[i].Name != r.Name {
					continue
				}
				before := a.Capabilities[i].Proficiency
				a.Capabilities[i] = Step(a.Capabilities[i], success, l.k)
				updates = append(updates, Update{Capability: r.Name, Before: before, After: a.Capabilities[i].Proficiency})
			}
		}
		if success {
			a.TasksCompleted++
		} else {
			a.TasksFailed++
		}
		a.PerformanceScore = PerformanceScore(a.TasksCompleted, a.TasksFailed)
	})
	if err != nil {
		return registry.Agent{}, err
	}

	l.publish(events.LearningCycleCompleted, agentID, Cycle{
		TaskID:           taskID,
		Success:          success,
		Updates:          updates,
		PerformanceScore: a.PerformanceScore,
	})
	slog.Debug("learning cycle", "agent", agentID, "task", taskID, "success", success, "updates", len(updates))
	return a, nil
}

func (l *Learner) publish(typ events.Type, agentID string, c Cycle) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.Event{Type: typ, AgentID: agentID, TaskID: c.TaskID, Payload: c})
}
