package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Schedule submits a task built from Template each time it fires.
type Schedule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	Template   task.Definition `json:"template"`
	Status     string          `json:"status"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	LastTaskID string          `json:"last_task_id,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const scheduleColumns = `id, name, schedule, template, status, next_run_at, last_run_at,
	last_task_id, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var (
		template          string
		lastTask, lastErr *string
	)
	err := scanner.Scan(&sc.ID, &sc.Name, &sc.Schedule, &template, &sc.Status,
		&sc.NextRunAt, &sc.LastRunAt, &lastTask, &lastErr, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(template), &sc.Template); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	sc.LastTaskID = fromNull(lastTask)
	sc.LastError = fromNull(lastErr)
	return sc, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) SaveSchedule(sc *Schedule) error {
	template, err := json.Marshal(sc.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	if sc.Status == "" {
		sc.Status = "active"
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (id, name, schedule, template, status, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			template = excluded.template,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.Name, sc.Schedule, string(template), sc.Status, utcPtr(sc.NextRunAt), sc.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	out, err := s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

// GetDueSchedules returns active schedules whose next run is at or before now.
func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	out, err := s.querySchedules(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	return out, nil
}

// UpdateScheduleRun records a firing and the next run time. A nil next run
// with a one-shot schedule marks it completed.
func (s *Store) UpdateScheduleRun(id string, ranAt time.Time, taskID, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, last_task_id = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, ranAt.UTC(), nullString(taskID), nullString(lastError), utcPtr(nextRunAt), id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
