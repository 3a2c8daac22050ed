package workers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// SimulatedExecutor stands in for real work. It takes WorkTime and succeeds
// with probability 0.2 + 0.8 * fitness of the agent for the task.
type SimulatedExecutor struct {
	WorkTime time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedExecutor(workTime time.Duration, seed uint64) *SimulatedExecutor {
	return &SimulatedExecutor{
		WorkTime: workTime,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SuccessProbability is the chance an agent completes a task.
func SuccessProbability(caps []capability.Capability, reqs []capability.Requirement) float64 {
	return capability.Clamp01(0.2 + 0.8*capability.Fitness(caps, reqs))
}

func (s *SimulatedExecutor) Execute(ctx context.Context, a registry.Agent, t task.Task, progress func(float64, string)) (string, error) {
	if err := sleep(ctx, s.WorkTime/2); err != nil {
		return "", err
	}
	progress(50, "halfway")
	if err := sleep(ctx, s.WorkTime-s.WorkTime/2); err != nil {
		return "", err
	}

	p := SuccessProbability(a.Capabilities, t.RequiredCapabilities)
	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()
	if roll >= p {
		return "", fmt.Errorf("simulated failure (p=%.2f)", p)
	}
	return fmt.Sprintf("completed by %s", a.Name), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
