package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

const taskColumns = `id, description, kind, priority, status, required_capabilities, assigned_agent,
	attempts, timeout_ms, max_retries, result, error, cancel_reason, schedule_id,
	created_at, updated_at, not_before, version`

func saveTask(db execer, t task.Task) error {
	reqs, err := json.Marshal(t.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	if t.Attempts == nil {
		t.Attempts = []task.Attempt{}
	}
	attempts, err := json.Marshal(t.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	var notBefore any
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UTC()
	}
	_, err = db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agent = excluded.assigned_agent,
			attempts = excluded.attempts,
			result = excluded.result,
			error = excluded.error,
			cancel_reason = excluded.cancel_reason,
			updated_at = excluded.updated_at,
			not_before = excluded.not_before,
			version = excluded.version
		WHERE excluded.version > tasks.version`,
		t.ID, t.Description, nullString(t.Kind), int(t.Priority), t.Status.String(), string(reqs),
		nullString(t.AssignedAgent), string(attempts), t.Timeout.Milliseconds(), t.MaxRetries,
		nullString(t.Result), nullString(t.Error), nullString(t.CancelReason), nullString(t.ScheduleID),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), notBefore, int64(t.Version))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SaveTask(t task.Task) error {
	return saveTask(s.db, t)
}

// SaveBatch writes agents and tasks in a single transaction.
func (s *Store) SaveBatch(agents []registry.Agent, tasks []task.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, a := range agents {
		if err := saveAgent(tx, a); err != nil {
			return err
		}
	}
	for _, t := range tasks {
		if err := saveTask(tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*task.Task, error) {
	var (
		t         task.Task
		status    string
		reqs      string
		attempts  string
		kind      *string
		agent     *string
		result    *string
		errStr    *string
		cancel    *string
		schedule  *string
		priority  int
		timeoutMs int64
		version   int64
		created   time.Time
		updated   time.Time
		notBefore *time.Time
	)
	err := scanner.Scan(&t.ID, &t.Description, &kind, &priority, &status, &reqs, &agent,
		&attempts, &timeoutMs, &t.MaxRetries, &result, &errStr, &cancel, &schedule,
		&created, &updated, &notBefore, &version)
	if err != nil {
		return nil, err
	}
	if t.Status, err = task.ParseStatus(status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reqs), &t.RequiredCapabilities); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &t.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	t.Kind = fromNull(kind)
	t.Priority = task.Priority(priority)
	t.AssignedAgent = fromNull(agent)
	t.Timeout = time.Duration(timeoutMs) * time.Millisecond
	t.Result = fromNull(result)
	t.Error = fromNull(errStr)
	t.CancelReason = fromNull(cancel)
	t.ScheduleID = fromNull(schedule)
	t.CreatedAt, t.UpdatedAt = created, updated
	if notBefore != nil {
		t.NotBefore = *notBefore
	}
	t.Version = uint64(version)
	return &t, nil
}

func (s *Store) GetTask(id string) (*task.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// LoadTasks returns every task in creation order.
func (s *Store) LoadTasks() ([]task.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PruneTasks deletes terminal tasks last updated before cutoff.
func (s *Store) PruneTasks(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}
