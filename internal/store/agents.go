package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
)

const agentColumns = `id, name, kind, specialization, state, capabilities, energy, performance_score,
	tasks_completed, tasks_failed, current_task, created_at, last_active, updated_at, version`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// saveAgent upserts a, ignoring snapshots older than the stored version.
func saveAgent(db execer, a registry.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			specialization = excluded.specialization,
			state = excluded.state,
			capabilities = excluded.capabilities,
			energy = excluded.energy,
			performance_score = excluded.performance_score,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			current_task = excluded.current_task,
			last_active = excluded.last_active,
			updated_at = excluded.updated_at,
			version = excluded.version
		WHERE excluded.version > agents.version`,
		a.ID, a.Name, a.Kind.String(), nullString(a.Specialization), a.State.String(), string(caps),
		a.Energy, a.PerformanceScore, a.TasksCompleted, a.TasksFailed, nullString(a.CurrentTask),
		a.CreatedAt.UTC(), a.LastActive.UTC(), a.UpdatedAt.UTC(), int64(a.Version))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) SaveAgent(a registry.Agent) error {
	return saveAgent(s.db, a)
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*registry.Agent, error) {
	var (
		a               registry.Agent
		kind, state     string
		caps            string
		spec, current   *string
		version         int64
		created, active time.Time
		updated         time.Time
	)
	err := scanner.Scan(&a.ID, &a.Name, &kind, &spec, &state, &caps, &a.Energy, &a.PerformanceScore,
		&a.TasksCompleted, &a.TasksFailed, &current, &created, &active, &updated, &version)
	if err != nil {
		return nil, err
	}
	if a.Kind, err = registry.ParseKind(kind); err != nil {
		return nil, err
	}
	if a.State, err = registry.ParseState(state); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	a.Specialization = fromNull(spec)
	a.CurrentTask = fromNull(current)
	a.CreatedAt, a.LastActive, a.UpdatedAt = created, active, updated
	a.Version = uint64(version)
	return &a, nil
}

func (s *Store) GetAgent(id string) (*registry.Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// LoadAgents returns every agent, removed ones included.
func (s *Store) LoadAgents() ([]registry.Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	var agents []registry.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}
