package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/ipc"
	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/scheduler"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "single flag",
			args: []string{"--name", "test"},
			want: map[string]string{"name": "test"},
		},
		{
			name: "multiple flags",
			args: []string{"--name", "test", "--schedule", "* * * * *", "--description", "hello"},
			want: map[string]string{"name": "test", "schedule": "* * * * *", "description": "hello"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--name"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--name", "test"},
			want: map[string]string{"name": "test"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-n", "test"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	caps, err := parseCapabilities("go:0.8, sql ,")
	if err != nil {
		t.Fatalf("parseCapabilities: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}
	if caps[0].Name != "go" || caps[0].Proficiency != 0.8 {
		t.Errorf("caps[0] = %+v", caps[0])
	}
	if caps[1].Name != "sql" || caps[1].Proficiency != 0.5 {
		t.Errorf("caps[1] = %+v", caps[1])
	}

	if _, err := parseCapabilities("go:high"); err == nil {
		t.Error("expected error for non-numeric proficiency")
	}

	reqs, err := parseRequirements("go:0.6,docs")
	if err != nil {
		t.Fatalf("parseRequirements: %v", err)
	}
	if len(reqs) != 2 || reqs[0].MinProficiency != 0.6 || reqs[1].MinProficiency != 0 {
		t.Errorf("requirements = %+v", reqs)
	}
}

func TestTaskDefinition(t *testing.T) {
	def, err := taskDefinition(map[string]string{
		"description": "build",
		"priority":    "high",
		"caps":        "go:0.5",
		"timeout":     "90s",
		"retries":     "2",
	})
	if err != nil {
		t.Fatalf("taskDefinition: %v", err)
	}
	if def.Priority != task.High || def.Timeout != 90*time.Second || def.MaxRetries != 2 || len(def.RequiredCapabilities) != 1 {
		t.Errorf("definition = %+v", def)
	}

	for _, bad := range []map[string]string{
		{"priority": "urgent"},
		{"timeout": "soon"},
		{"retries": "many"},
	} {
		if _, err := taskDefinition(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

type env struct {
	hive *hive.Hive
	cli  *cli
	out  *bytes.Buffer
	bus  *natsbus.Bus
}

func setup(t *testing.T) *env {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)

	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Store:      config.StoreConfig{FlushInterval: 10 * time.Millisecond},
		Queue:      config.QueueConfig{DefaultTimeout: time.Minute},
		Supervisor: config.SupervisorConfig{SweepInterval: 10 * time.Millisecond, LivenessThreshold: time.Minute},
		Learning:   config.LearningConfig{ExperienceK: 50, DefaultRate: 0.1},
		Swarm:      config.SwarmConfig{Interval: time.Minute, CohesionThreshold: 0.5, PerformanceThreshold: 0.3, DegradedWindow: time.Minute},
		Events:     config.EventsConfig{Buffer: 1024},
		Scheduler:  config.SchedulerConfig{PollInterval: time.Minute},
	}
	h := hive.New(cfg, st, hive.Options{})
	sched := scheduler.New(st, h, cfg.Scheduler)

	serverConn, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("server client: %v", err)
	}
	t.Cleanup(serverConn.Close)
	srv := ipc.NewServer(h, sched, serverConn)
	if err := srv.Start(); err != nil {
		t.Fatalf("start ipc: %v", err)
	}
	t.Cleanup(srv.Stop)
	serverConn.Flush()

	conn, err := natsbus.NewClientFromURL(bus.ClientURL())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(conn.Close)

	out := &bytes.Buffer{}
	return &env{
		hive: h,
		cli:  &cli{client: ipc.NewClient(conn, 2*time.Second), nc: conn, out: out},
		out:  out,
		bus:  bus,
	}
}

func (e *env) run(t *testing.T, args ...string) string {
	t.Helper()
	e.out.Reset()
	if err := e.cli.run(context.Background(), args[0], args[1:]); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return e.out.String()
}

func TestAgentCommands(t *testing.T) {
	e := setup(t)

	if out := e.run(t, "agents"); !strings.Contains(out, "No agents found.") {
		t.Errorf("empty agents output = %q", out)
	}

	out := e.run(t, "agent-create", "--name", "alpha", "--kind", "specialist", "--caps", "go:0.9")
	if !strings.HasPrefix(out, "Agent created: ") {
		t.Fatalf("agent-create output = %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Agent created: "))

	out = e.run(t, "agents", "--kind", "specialist")
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "specialist") {
		t.Errorf("agents output = %q", out)
	}

	if out := e.run(t, "agent-pause", "--id", id); !strings.Contains(out, `"state": "paused"`) {
		t.Errorf("agent-pause output = %q", out)
	}
	if out := e.run(t, "agents", "--state", "idle"); !strings.Contains(out, "No agents found.") {
		t.Errorf("paused agent listed as idle: %q", out)
	}
	e.run(t, "agent-resume", "--id", id)
	e.run(t, "agent-remove", "--id", id)

	a, err := e.hive.GetAgent(id)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if a.State != registry.Removed {
		t.Errorf("state = %s, want removed", a.State)
	}
}

func TestTaskCommands(t *testing.T) {
	e := setup(t)

	e.run(t, "agent-create", "--name", "coder", "--caps", "go:0.8")
	out := e.run(t, "submit", "--description", "write parser", "--priority", "critical", "--caps", "go:0.5")
	if !strings.HasPrefix(out, "Task created: ") {
		t.Fatalf("submit output = %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Task created: "))

	out = e.run(t, "tasks", "--status", "pending")
	if !strings.Contains(out, "write parser") || !strings.Contains(out, "critical") {
		t.Errorf("tasks output = %q", out)
	}

	if out := e.run(t, "candidates", "--id", id); !strings.Contains(out, "coder") {
		t.Errorf("candidates output = %q", out)
	}

	if out := e.run(t, "cancel", "--id", id, "--reason", "not needed"); !strings.Contains(out, "cancelled") {
		t.Errorf("cancel output = %q", out)
	}

	got, err := e.hive.GetTask(id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != task.Cancelled || got.CancelReason != "not needed" {
		t.Errorf("task = %s / %q", got.Status, got.CancelReason)
	}
}

func TestScheduleCommands(t *testing.T) {
	e := setup(t)

	out := e.run(t, "schedule-create", "--name", "nightly", "--schedule", "every 1h", "--description", "reindex", "--caps", "search:0.4")
	if !strings.HasPrefix(out, "Schedule created: ") {
		t.Fatalf("schedule-create output = %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Schedule created: "))

	out = e.run(t, "schedules")
	if !strings.Contains(out, "nightly") || !strings.Contains(out, "active") {
		t.Errorf("schedules output = %q", out)
	}

	e.run(t, "schedule-pause", "--id", id)
	if out := e.run(t, "schedules"); !strings.Contains(out, "paused") {
		t.Errorf("expected paused schedule, got %q", out)
	}
	e.run(t, "schedule-resume", "--id", id)
	e.run(t, "schedule-delete", "--id", id)
	if out := e.run(t, "schedules"); !strings.Contains(out, "No schedules found.") {
		t.Errorf("expected no schedules, got %q", out)
	}
}

func TestSnapshotAndStats(t *testing.T) {
	e := setup(t)

	if out := e.run(t, "snapshot"); !strings.Contains(out, `"health"`) {
		t.Errorf("snapshot output = %q", out)
	}
	if out := e.run(t, "stats"); !strings.Contains(out, `"queue"`) {
		t.Errorf("stats output = %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	if err := e.cli.run(ctx, "task", nil); err == nil || !strings.Contains(err.Error(), "--id") {
		t.Errorf("expected missing id error, got %v", err)
	}
	if err := e.cli.run(ctx, "bogus", nil); err == nil {
		t.Error("expected unknown command error")
	}

	noCaps := []string{"--name", "n", "--schedule", "every 1h", "--description", "d"}
	if err := e.cli.run(ctx, "schedule-create", noCaps); err == nil || !strings.Contains(err.Error(), "--caps") {
		t.Errorf("expected missing caps error, got %v", err)
	}
	if err := e.cli.run(ctx, "submit", []string{"--description", "d"}); err == nil || !strings.Contains(err.Error(), "--caps") {
		t.Errorf("expected missing caps error, got %v", err)
	}

	err := e.cli.run(ctx, "task", []string{"--id", "missing"})
	if !errors.Is(err, hiveerr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	err = e.cli.run(ctx, "agent-create", []string{"--name", "x", "--caps", "go:2"})
	if hiveerr.KindOf(err) != hiveerr.Validation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEventsCommand(t *testing.T) {
	e := setup(t)

	brConn, err := natsbus.NewClient(e.bus)
	if err != nil {
		t.Fatalf("bridge client: %v", err)
	}
	t.Cleanup(brConn.Close)
	bridge := natsbus.NewBridge(brConn, e.hive.Bus(), 64)
	if err := bridge.EnsureStream(time.Hour, 1000); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for e.hive.Bus().Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.run(t, "agent-create", "--name", "watcher", "--caps", "go:0.5")

	var out string
	for time.Now().Before(deadline) {
		out = e.run(t, "events", "--limit", "5")
		if strings.Contains(out, "agent_created") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(out, "agent_created") {
		t.Errorf("events output = %q", out)
	}
}
