package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Store.Path != "data/hive.db" {
		t.Errorf("expected store path data/hive.db, got %s", cfg.Store.Path)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Learning.ExperienceK != 50 {
		t.Errorf("expected experience_k 50, got %v", cfg.Learning.ExperienceK)
	}
	if cfg.Queue.DefaultTimeout != 5*time.Minute {
		t.Errorf("expected default timeout 5m, got %v", cfg.Queue.DefaultTimeout)
	}
	if cfg.Supervisor.LivenessThreshold != 30*time.Second {
		t.Errorf("expected liveness threshold 30s, got %v", cfg.Supervisor.LivenessThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("HIVE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("HIVE_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("HIVE_TELEGRAM_CHAT_ID", "11, 22")
	t.Setenv("HIVE_WEB_PASSWORD", "secret")
	t.Setenv("HIVE_WEB_PORT", "9090")
	t.Setenv("HIVE_NATS_PORT", "4333")
	t.Setenv("HIVE_STORE_PATH", "/tmp/x.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.ChatIDs) != 2 || cfg.Telegram.ChatIDs[1] != 22 {
		t.Errorf("expected chat ids [11 22], got %v", cfg.Telegram.ChatIDs)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.NATS.Port != 4333 {
		t.Errorf("expected nats port 4333, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "/tmp/x.db" {
		t.Errorf("expected store path override, got %s", cfg.Store.Path)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
telegram:
  token: "yaml-token"
  chat_ids: [123, 456]
web:
  port: 3000
  enabled: false
swarm:
  interval: 2s
  cohesion_threshold: 0.4
agents:
  parser:
    kind: specialist
    specialization: "log parsing"
    capabilities:
      - name: parse
        proficiency: 0.8
        learning_rate: 0.2
      - name: ${HIVE_TEST_SKILL}
        proficiency: 0.3
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVE_CONFIG", cfgPath)
	t.Setenv("HIVE_TELEGRAM_TOKEN", "")
	t.Setenv("HIVE_TELEGRAM_CHAT_ID", "")
	t.Setenv("HIVE_WEB_PORT", "")
	t.Setenv("HIVE_TEST_SKILL", "summarize")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.ChatIDs) != 2 {
		t.Errorf("expected 2 chat ids, got %d", len(cfg.Telegram.ChatIDs))
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Swarm.Interval != 2*time.Second || cfg.Swarm.CohesionThreshold != 0.4 {
		t.Errorf("unexpected swarm config %+v", cfg.Swarm)
	}
	if cfg.Swarm.DegradedWindow != 30*time.Second {
		t.Errorf("expected unset fields to keep defaults, got %v", cfg.Swarm.DegradedWindow)
	}

	def, ok := cfg.Agents["parser"]
	if !ok {
		t.Fatal("expected parser agent definition")
	}
	if def.Kind != "specialist" || len(def.Capabilities) != 2 {
		t.Errorf("unexpected agent definition %+v", def)
	}
	if def.Capabilities[1].Name != "summarize" {
		t.Errorf("expected env expansion in yaml, got %q", def.Capabilities[1].Name)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("swarm:\n  cohesion_threshold: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIVE_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative sweep", func(c *Config) { c.Supervisor.SweepInterval = -time.Second }},
		{"zero experience k", func(c *Config) { c.Learning.ExperienceK = 0 }},
		{"rate above one", func(c *Config) { c.Learning.DefaultRate = 2 }},
		{"negative energy", func(c *Config) { c.Queue.MinEnergy = -1 }},
		{"negative buffer", func(c *Config) { c.Events.Buffer = -1 }},
		{"uncapped backoff", func(c *Config) { c.Queue.BackoffMax = 0 }},
		{"backoff max below base", func(c *Config) { c.Queue.BackoffBase = time.Minute; c.Queue.BackoffMax = time.Second }},
		{"agent without capabilities", func(c *Config) {
			c.Agents = map[string]AgentDefinition{"x": {Kind: "worker"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
