package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

type nopStore struct{}

func (nopStore) SaveBatch([]registry.Agent, []task.Task) error { return nil }
func (nopStore) LoadAgents() ([]registry.Agent, error) { return nil, nil }
func (nopStore) LoadTasks() ([]task.Task, error) { return nil, nil }
func (nopStore) PruneTasks(time.Time) (int64, error) { return 0, nil }

type funcExecutor func(ctx context.Context, a registry.Agent, t task.Task) (string, error)

func (f funcExecutor) Execute(ctx context.Context, a registry.Agent, t task.Task, progress func(float64, string)) (string, error) {
	progress(10, "started")
	return f(ctx, a, t)
}

func newTestHive(t *testing.T) *hive.Hive {
	t.Helper()
	cfg := &config.Config{
		Queue:      config.QueueConfig{DefaultTimeout: time.Minute},
		Supervisor: config.SupervisorConfig{SweepInterval: time.Second, LivenessThreshold: time.Minute},
		Learning:   config.LearningConfig{ExperienceK: 50, DefaultRate: 0.1},
		Swarm:      config.SwarmConfig{Interval: time.Second},
	}
	return hive.New(cfg, nopStore{}, hive.Options{})
}

func testOptions() Options {
	return Options{PollInterval: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, Heartbeat: 10 * time.Millisecond}
}

func addAgent(t *testing.T, h *hive.Hive, name string) registry.Agent {
	t.Helper()
	a, err := h.CreateAgent(registry.Definition{
		Name:         name,
		Capabilities: []capability.Capability{{Name: "skill", Proficiency: 0.9}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func addTask(t *testing.T, h *hive.Hive, retries int) task.Task {
	t.Helper()
	tk, err := h.CreateTask(task.Definition{
		Description:          "job",
		RequiredCapabilities: []capability.Requirement{{Name: "skill", MinProficiency: 0.5}},
		MaxRetries:           retries,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolCompletesTasks(t *testing.T) {
	h := newTestHive(t)
	a := addAgent(t, h, "alpha")
	for range 3 {
		addTask(t, h, 0)
	}

	var runs atomic.Int32
	pool := NewPool(h, funcExecutor(func(ctx context.Context, _ registry.Agent, _ task.Task) (string, error) {
		runs.Add(1)
		return "done", nil
	}), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, a.ID)
	pool.Start(ctx, a.ID)
	if got := pool.Running(); len(got) != 1 {
		t.Fatalf("expected one worker, got %v", got)
	}

	waitFor(t, "all tasks completed", func() bool {
		return len(h.ListTasks(task.Filter{Statuses: []task.Status{task.Completed}})) == 3
	})
	if runs.Load() != 3 {
		t.Errorf("expected 3 executions, got %d", runs.Load())
	}

	pool.Stop(a.ID)
	pool.Wait()
	if got := pool.Running(); len(got) != 0 {
		t.Errorf("expected no workers after stop, got %v", got)
	}
	agent, _ := h.GetAgent(a.ID)
	if agent.TasksCompleted != 3 || agent.State != registry.Idle {
		t.Errorf("expected idle agent with 3 completions, got %s %d", agent.State, agent.TasksCompleted)
	}
}

func TestPoolReportsFailure(t *testing.T) {
	h := newTestHive(t)
	a := addAgent(t, h, "alpha")
	tk := addTask(t, h, 0)

	pool := NewPool(h, funcExecutor(func(context.Context, registry.Agent, task.Task) (string, error) {
		return "", errors.New("disk full")
	}), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		pool.Wait()
	}()
	pool.Start(ctx, a.ID)

	waitFor(t, "task failed", func() bool {
		got, _ := h.GetTask(tk.ID)
		return got.Status == task.Failed
	})
	got, _ := h.GetTask(tk.ID)
	if got.Error != "disk full" {
		t.Errorf("expected executor error as detail, got %q", got.Error)
	}
}

func TestWorkerExitsWhenAgentRemoved(t *testing.T) {
	h := newTestHive(t)
	a := addAgent(t, h, "alpha")

	pool := NewPool(h, funcExecutor(func(context.Context, registry.Agent, task.Task) (string, error) {
		return "", nil
	}), testOptions())
	pool.Start(context.Background(), a.ID)

	if _, err := h.RemoveAgent(a.ID, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "worker exit", func() bool { return len(pool.Running()) == 0 })
	pool.Wait()
}

func TestShutdownLeavesAttemptToSupervisor(t *testing.T) {
	h := newTestHive(t)
	a := addAgent(t, h, "alpha")
	tk := addTask(t, h, 0)

	started := make(chan struct{})
	pool := NewPool(h, funcExecutor(func(ctx context.Context, _ registry.Agent, _ task.Task) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, a.ID)
	<-started
	cancel()
	pool.Wait()

	got, _ := h.GetTask(tk.ID)
	if got.Status != task.Running {
		t.Errorf("expected attempt still running after shutdown, got %s", got.Status)
	}
}

func TestSuccessProbability(t *testing.T) {
	caps := []capability.Capability{{Name: "a", Proficiency: 1}, {Name: "b", Proficiency: 0.5}}
	tests := []struct {
		name string
		reqs []capability.Requirement
		want float64
	}{
		{"perfect fit", []capability.Requirement{{Name: "a"}}, 1},
		{"half fit", []capability.Requirement{{Name: "b"}}, 0.6},
		{"no requirements", nil, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuccessProbability(caps, tt.reqs); got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSimulatedExecutor(t *testing.T) {
	exec := NewSimulatedExecutor(0, 1)
	a := registry.Agent{Name: "alpha", Capabilities: []capability.Capability{{Name: "a", Proficiency: 1}}}
	tk := task.Task{RequiredCapabilities: []capability.Requirement{{Name: "a"}}}

	var notes int
	for range 20 {
		if _, err := exec.Execute(context.Background(), a, tk, func(float64, string) { notes++ }); err != nil {
			t.Fatalf("perfect fitness must always succeed, got %v", err)
		}
	}
	if notes != 20 {
		t.Errorf("expected one progress report per run, got %d", notes)
	}

	slow := NewSimulatedExecutor(time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := slow.Execute(ctx, a, tk, func(float64, string) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancelled, got %v", err)
	}
}
