package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
)

type Config struct {
	Store      StoreConfig                `yaml:"store"`
	NATS       NATSConfig                 `yaml:"nats"`
	Web        WebConfig                  `yaml:"web"`
	Queue      QueueConfig                `yaml:"queue"`
	Supervisor SupervisorConfig           `yaml:"supervisor"`
	Learning   LearningConfig             `yaml:"learning"`
	Swarm      SwarmConfig                `yaml:"swarm"`
	Events     EventsConfig               `yaml:"events"`
	Scheduler  SchedulerConfig            `yaml:"scheduler"`
	Workers    WorkersConfig              `yaml:"workers"`
	Telegram   TelegramConfig             `yaml:"telegram"`
	Agents     map[string]AgentDefinition `yaml:"agents"`
}

type StoreConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// Retention removes terminal tasks older than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type QueueConfig struct {
	MinEnergy      float64       `yaml:"min_energy"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type SupervisorConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	LivenessThreshold time.Duration `yaml:"liveness_threshold"`
	EnergyPerAttempt  float64       `yaml:"energy_per_attempt"`
	EnergyRegen       float64       `yaml:"energy_regen"`
}

type LearningConfig struct {
	ExperienceK float64 `yaml:"experience_k"`
	DefaultRate float64 `yaml:"default_rate"`
}

type SwarmConfig struct {
	Interval             time.Duration `yaml:"interval"`
	CohesionThreshold    float64       `yaml:"cohesion_threshold"`
	PerformanceThreshold float64       `yaml:"performance_threshold"`
	DegradedWindow       time.Duration `yaml:"degraded_window"`
	EnergyAlert          float64       `yaml:"energy_alert"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WorkersConfig struct {
	// Count in-process workers are started for config-declared agents.
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	WorkTime     time.Duration `yaml:"work_time"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

// AgentDefinition declares an agent registered at startup when absent from the store.
type AgentDefinition struct {
	Kind           string                  `yaml:"kind"`
	Specialization string                  `yaml:"specialization"`
	Capabilities   []capability.Capability `yaml:"capabilities"`
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Path:          "data/hive.db",
			FlushInterval: 250 * time.Millisecond,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Queue: QueueConfig{
			MinEnergy:      5,
			BackoffBase:    time.Second,
			BackoffMax:     time.Minute,
			DefaultTimeout: 5 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			SweepInterval:     5 * time.Second,
			LivenessThreshold: 30 * time.Second,
			EnergyPerAttempt:  5,
			EnergyRegen:       2,
		},
		Learning: LearningConfig{
			ExperienceK: 50,
			DefaultRate: 0.1,
		},
		Swarm: SwarmConfig{
			Interval:             5 * time.Second,
			CohesionThreshold:    0.5,
			PerformanceThreshold: 0.3,
			DegradedWindow:       30 * time.Second,
			EnergyAlert:          20,
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Workers: WorkersConfig{
			Count:        0,
			PollInterval: time.Second,
			MaxBackoff:   10 * time.Second,
			Heartbeat:    5 * time.Second,
			WorkTime:     500 * time.Millisecond,
		},
	}
}

// Path returns the config file location, HIVE_CONFIG or config/hive.yaml.
func Path() string {
	if p := os.Getenv("HIVE_CONFIG"); p != "" {
		return p
	}
	return "config/hive.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HIVE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("HIVE_TELEGRAM_CHAT_ID"); v != "" {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			cfg.Telegram.ChatIDs = ids
		}
	}
	if v := os.Getenv("HIVE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("HIVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("HIVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("HIVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"store.flush_interval", c.Store.FlushInterval},
		{"store.retention", c.Store.Retention},
		{"queue.backoff_base", c.Queue.BackoffBase},
		{"queue.backoff_max", c.Queue.BackoffMax},
		{"queue.default_timeout", c.Queue.DefaultTimeout},
		{"supervisor.sweep_interval", c.Supervisor.SweepInterval},
		{"supervisor.liveness_threshold", c.Supervisor.LivenessThreshold},
		{"swarm.interval", c.Swarm.Interval},
		{"swarm.degraded_window", c.Swarm.DegradedWindow},
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
		{"workers.poll_interval", c.Workers.PollInterval},
		{"workers.max_backoff", c.Workers.MaxBackoff},
		{"workers.heartbeat", c.Workers.Heartbeat},
		{"workers.work_time", c.Workers.WorkTime},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("invalid config: %s must not be negative", d.name)
		}
	}

	if c.Queue.BackoffBase > 0 && c.Queue.BackoffMax < c.Queue.BackoffBase {
		return fmt.Errorf("invalid config: queue.backoff_max must be at least queue.backoff_base")
	}

	unit := []struct {
		name string
		v    float64
	}{
		{"swarm.cohesion_threshold", c.Swarm.CohesionThreshold},
		{"swarm.performance_threshold", c.Swarm.PerformanceThreshold},
		{"learning.default_rate", c.Learning.DefaultRate},
	}
	for _, u := range unit {
		if u.v < 0 || u.v > 1 {
			return fmt.Errorf("invalid config: %s must be within [0,1]", u.name)
		}
	}

	if c.Learning.ExperienceK <= 0 {
		return fmt.Errorf("invalid config: learning.experience_k must be positive")
	}
	if c.Queue.MinEnergy < 0 || c.Supervisor.EnergyPerAttempt < 0 || c.Supervisor.EnergyRegen < 0 {
		return fmt.Errorf("invalid config: energy values must not be negative")
	}
	if c.Events.Buffer < 0 || c.Workers.Count < 0 {
		return fmt.Errorf("invalid config: events.buffer and workers.count must not be negative")
	}
	for name, def := range c.Agents {
		if name == "" {
			return fmt.Errorf("invalid config: agent with empty name")
		}
		if err := capability.ValidateSet(def.Capabilities); err != nil {
			return fmt.Errorf("invalid config: agent %s: %w", name, err)
		}
	}
	return nil
}
