package config

import (
	"testing"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
)

func testAgents(names ...string) map[string]AgentDefinition {
	m := make(map[string]AgentDefinition, len(names))
	for _, n := range names {
		m[n] = AgentDefinition{
			Kind:         "worker",
			Capabilities: []capability.Capability{{Name: "general", Proficiency: 0.5}},
		}
	}
	return m
}

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Agents:    testAgents("bot"),
		Scheduler: SchedulerConfig{PollInterval: time.Second},
		Swarm:     SwarmConfig{Interval: time.Second},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no warnings, got %v", d.NonReloadable)
	}
}

func TestDiff_AgentAdded(t *testing.T) {
	old := &Config{Agents: testAgents("bot")}
	new := &Config{Agents: testAgents("bot", "bot2")}
	d := Diff(old, new)
	if len(d.AgentsAdded) != 1 || d.AgentsAdded[0] != "bot2" {
		t.Errorf("expected bot2 added, got %v", d.AgentsAdded)
	}
	if len(d.AgentsRemoved) != 0 {
		t.Errorf("expected no removals, got %v", d.AgentsRemoved)
	}
	if len(d.AgentsChanged) != 0 {
		t.Errorf("expected no changes, got %v", d.AgentsChanged)
	}
}

func TestDiff_AgentRemoved(t *testing.T) {
	old := &Config{Agents: testAgents("bot", "bot2")}
	new := &Config{Agents: testAgents("bot")}
	d := Diff(old, new)
	if len(d.AgentsRemoved) != 1 || d.AgentsRemoved[0] != "bot2" {
		t.Errorf("expected bot2 removed, got %v", d.AgentsRemoved)
	}
}

func TestDiff_AgentCapabilitiesChanged(t *testing.T) {
	old := &Config{Agents: testAgents("bot")}
	new := &Config{Agents: testAgents("bot")}
	def := new.Agents["bot"]
	def.Capabilities = []capability.Capability{{Name: "general", Proficiency: 0.9}}
	new.Agents["bot"] = def

	d := Diff(old, new)
	if len(d.AgentsChanged) != 1 || d.AgentsChanged[0] != "bot" {
		t.Errorf("expected bot changed, got %v", d.AgentsChanged)
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 60 * time.Second}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected scheduler changed")
	}
	if d.NewPollInterval.PollInterval != 60*time.Second {
		t.Errorf("expected 60s, got %v", d.NewPollInterval.PollInterval)
	}
}

func TestDiff_SwarmChanged(t *testing.T) {
	old := &Config{Swarm: SwarmConfig{CohesionThreshold: 0.5}}
	new := &Config{Swarm: SwarmConfig{CohesionThreshold: 0.7}}
	d := Diff(old, new)
	if !d.SwarmChanged || d.NewSwarm.CohesionThreshold != 0.7 {
		t.Errorf("expected swarm change to 0.7, got %+v", d)
	}
}

func TestDiff_ChatIDsChanged(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{ChatIDs: []int64{123}}}
	new := &Config{Telegram: TelegramConfig{ChatIDs: []int64{123, 456}}}
	d := Diff(old, new)
	if !d.ChatIDsChanged {
		t.Error("expected chat ids changed")
	}
	if len(d.NewChatIDs) != 2 {
		t.Errorf("expected 2 chat ids, got %v", d.NewChatIDs)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Telegram: TelegramConfig{Token: "old-token"},
		Web:      WebConfig{Port: 8080},
	}
	new := &Config{
		Telegram: TelegramConfig{Token: "new-token"},
		Web:      WebConfig{Port: 9090},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable warnings, got %v", d.NonReloadable)
	}
	if d.HasChanges() {
		t.Error("non-reloadable fields must not count as reloadable changes")
	}
}
