package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAgent(version uint64) registry.Agent {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return registry.Agent{
		ID:               "a1",
		Name:             "alpha",
		Kind:             registry.Specialist,
		Specialization:   "parsing",
		State:            registry.Active,
		Capabilities:     []capability.Capability{{Name: "skill", Proficiency: 0.7, LearningRate: 0.1, ExperiencePoints: 3}},
		Energy:           80,
		PerformanceScore: 0.6,
		TasksCompleted:   2,
		TasksFailed:      1,
		CurrentTask:      "t1",
		CreatedAt:        now,
		LastActive:       now.Add(time.Minute),
		UpdatedAt:        now.Add(time.Minute),
		Version:          version,
	}
}

func TestAgentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveAgent(testAgent(2)); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	got, err := s.GetAgent("a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if got.Kind != registry.Specialist || got.State != registry.Active || got.CurrentTask != "t1" {
		t.Errorf("unexpected agent %+v", got)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0].ExperiencePoints != 3 {
		t.Errorf("unexpected capabilities %+v", got.Capabilities)
	}
	if !got.LastActive.Equal(testAgent(2).LastActive) {
		t.Errorf("expected last_active %v, got %v", testAgent(2).LastActive, got.LastActive)
	}

	missing, err := s.GetAgent("nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing agent, got %v, %v", missing, err)
	}
}

func TestAgentVersionGuard(t *testing.T) {
	s := newTestStore(t)

	newer := testAgent(5)
	newer.Energy = 10
	if err := s.SaveAgent(newer); err != nil {
		t.Fatal(err)
	}
	older := testAgent(4)
	older.Energy = 99
	if err := s.SaveAgent(older); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetAgent("a1")
	if got.Energy != 10 || got.Version != 5 {
		t.Errorf("older snapshot overwrote newer: energy %v version %d", got.Energy, got.Version)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	tk := task.Task{
		ID:                   "t1",
		Description:          "compile",
		Kind:                 "build",
		Priority:             task.Critical,
		Status:               task.Pending,
		RequiredCapabilities: []capability.Requirement{{Name: "go", MinProficiency: 0.6}},
		Attempts: []task.Attempt{
			{Number: 1, AgentID: "a1", StartedAt: now, EndedAt: now.Add(time.Second), Outcome: task.TimedOut, Detail: "timeout"},
		},
		Timeout:    90 * time.Second,
		MaxRetries: 2,
		CreatedAt:  now,
		UpdatedAt:  now,
		NotBefore:  now.Add(5 * time.Second),
		Version:    3,
	}
	if err := s.SaveBatch(nil, []task.Task{tk}); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil || got == nil {
		t.Fatalf("get task: %v, %v", got, err)
	}
	if got.Priority != task.Critical || got.Status != task.Pending || got.Timeout != 90*time.Second {
		t.Errorf("unexpected task %+v", got)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Outcome != task.TimedOut {
		t.Errorf("unexpected attempts %+v", got.Attempts)
	}
	if !got.NotBefore.Equal(tk.NotBefore) {
		t.Errorf("expected not_before %v, got %v", tk.NotBefore, got.NotBefore)
	}

	tk.Status = task.Failed
	tk.Error = "timeout"
	tk.NotBefore = time.Time{}
	tk.Version = 4
	if err := s.SaveTask(tk); err != nil {
		t.Fatal(err)
	}
	tasks, err := s.LoadTasks()
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != task.Failed || !tasks[0].NotBefore.IsZero() {
		t.Errorf("unexpected loaded tasks %+v", tasks)
	}
}

func TestSaveBatchAndLoad(t *testing.T) {
	s := newTestStore(t)
	b := testAgent(1)
	b.ID, b.Name, b.State, b.CurrentTask = "a2", "beta", registry.Removed, ""

	if err := s.SaveBatch([]registry.Agent{testAgent(1), b}, nil); err != nil {
		t.Fatal(err)
	}
	agents, err := s.LoadAgents()
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents including removed, got %d", len(agents))
	}
}

func TestPruneTasks(t *testing.T) {
	s := newTestStore(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reqs := []capability.Requirement{{Name: "x"}}
	for _, tk := range []task.Task{
		{ID: "done", Status: task.Completed, RequiredCapabilities: reqs, CreatedAt: old, UpdatedAt: old, Version: 1},
		{ID: "open", Status: task.Pending, RequiredCapabilities: reqs, CreatedAt: old, UpdatedAt: old, Version: 1},
	} {
		if err := s.SaveTask(tk); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.PruneTasks(old.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if got, _ := s.GetTask("open"); got == nil {
		t.Error("pending task must survive pruning")
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	next := now.Add(-time.Minute)

	sc := &Schedule{
		ID:       "s1",
		Name:     "nightly",
		Schedule: `{"kind":"cron","cron_expr":"0 2 * * *"}`,
		Template: task.Definition{
			Description:          "reindex",
			RequiredCapabilities: []capability.Requirement{{Name: "search", MinProficiency: 0.5}},
			MaxRetries:           1,
		},
		NextRunAt: &next,
	}
	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	got, err := s.GetSchedule("s1")
	if err != nil || got == nil {
		t.Fatalf("get schedule: %v, %v", got, err)
	}
	if got.Status != "active" || got.Template.Description != "reindex" {
		t.Errorf("unexpected schedule %+v", got)
	}

	due, err := s.GetDueSchedules(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due schedule, got %d", len(due))
	}

	later := now.Add(time.Hour)
	if err := s.UpdateScheduleRun("s1", now, "t9", "", &later); err != nil {
		t.Fatal(err)
	}
	due, _ = s.GetDueSchedules(now)
	if len(due) != 0 {
		t.Errorf("expected no due schedules after run, got %d", len(due))
	}
	got, _ = s.GetSchedule("s1")
	if got.LastTaskID != "t9" || got.LastRunAt == nil {
		t.Errorf("expected run recorded, got %+v", got)
	}

	if err := s.UpdateScheduleStatus("s1", "paused"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSchedule("s1"); err != nil {
		t.Fatal(err)
	}
	list, _ := s.ListSchedules()
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveAgent(testAgent(1)); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(t.TempDir(), "copy.db")
	if err := s.Backup(target); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if err := s.Backup(target); err == nil {
		t.Error("expected error backing up onto an existing file")
	}

	copy, err := New(config.StoreConfig{Path: target})
	if err != nil {
		t.Fatal(err)
	}
	defer copy.Close()
	if a, _ := copy.GetAgent("a1"); a == nil {
		t.Error("expected agent in backup copy")
	}
}
