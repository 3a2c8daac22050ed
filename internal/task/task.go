// Package task holds the task and attempt data model.
package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
)

type Status int

const (
	Pending Status = iota
	Assigned
	Running
	Completed
	Failed
	Cancelled
)

var statusNames = []string{"pending", "assigned", "running", "completed", "failed", "cancelled"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(s string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, s) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == Assigned || to == Cancelled
	case Assigned:
		return to == Running || to == Pending || to == Cancelled
	case Running:
		return to == Completed || to == Failed || to == Pending || to == Cancelled
	}
	return false
}

type Outcome int

const (
	OutcomeRunning Outcome = iota
	Success
	Failure
	TimedOut
)

var outcomeNames = []string{"running", "success", "failure", "timed_out"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func ParseOutcome(s string) (Outcome, error) {
	for i, n := range outcomeNames {
		if strings.EqualFold(n, s) {
			return Outcome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
	Critical
)

var priorityNames = map[Priority]string{Low: "low", Medium: "medium", High: "high", Critical: "critical"}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool { return p >= Low && p <= Critical }

// ParsePriority accepts a name or a number between 1 and 4.
func ParsePriority(s string) (Priority, error) {
	for p, n := range priorityNames {
		if strings.EqualFold(n, s) {
			return p, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Attempt is one execution try. It is immutable once EndedAt is set.
type Attempt struct {
	Number    int       `json:"number"`
	AgentID   string    `json:"agent_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

func (a Attempt) Ended() bool { return !a.EndedAt.IsZero() }

// Task is a value snapshot of a task record.
type Task struct {
	ID                   string                   `json:"id"`
	Description          string                   `json:"description"`
	Kind                 string                   `json:"kind,omitempty"`
	Priority             Priority                 `json:"priority"`
	Status               Status                   `json:"status"`
	RequiredCapabilities []capability.Requirement `json:"required_capabilities"`
	AssignedAgent        string                   `json:"assigned_agent,omitempty"`
	Attempts             []Attempt                `json:"attempts"`
	Timeout              time.Duration            `json:"timeout"`
	MaxRetries           int                      `json:"max_retries"`
	Result               string                   `json:"result,omitempty"`
	Error                string                   `json:"error,omitempty"`
	CancelReason         string                   `json:"cancel_reason,omitempty"`
	ScheduleID           string                   `json:"schedule_id,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
	NotBefore            time.Time                `json:"not_before,omitzero"`
	Version              uint64                   `json:"version"`
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	t.RequiredCapabilities = append([]capability.Requirement(nil), t.RequiredCapabilities...)
	t.Attempts = append([]Attempt(nil), t.Attempts...)
	return t
}

// RunningAttempt returns the attempt that has not ended, if any.
func (t *Task) RunningAttempt() *Attempt {
	for i := range t.Attempts {
		if !t.Attempts[i].Ended() {
			return &t.Attempts[i]
		}
	}
	return nil
}

func (t *Task) LastAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// RetriesExhausted reports whether another attempt would exceed MaxRetries.
func (t *Task) RetriesExhausted() bool {
	return len(t.Attempts) >= t.MaxRetries+1
}

// Definition is what callers submit.
type Definition struct {
	Description          string                   `json:"description" yaml:"description"`
	Kind                 string                   `json:"kind" yaml:"kind"`
	Priority             Priority                 `json:"priority" yaml:"priority"`
	RequiredCapabilities []capability.Requirement `json:"required_capabilities" yaml:"required_capabilities"`
	Timeout              time.Duration            `json:"timeout" yaml:"timeout"`
	MaxRetries           int                      `json:"max_retries" yaml:"max_retries"`
	ScheduleID           string                   `json:"schedule_id,omitempty" yaml:"-"`
}

// Validate reports the first problem with d. A zero priority is accepted and
// later replaced by Medium.
func (d Definition) Validate() error {
	if err := capability.ValidateRequirements(d.RequiredCapabilities); err != nil {
		return err
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", d.MaxRetries)
	}
	if d.Priority != 0 && !d.Priority.Valid() {
		return fmt.Errorf("priority must be between 1 and 4, got %d", int(d.Priority))
	}
	if d.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Record is the live, lockable task owned by the queue and written by the
// supervisor. Callers outside those packages use Snapshot.
type Record struct {
	id string
	mu sync.Mutex
	t  Task
}

// New builds a Pending record from a validated definition.
func New(id string, d Definition, defaultTimeout time.Duration, now time.Time) *Record {
	if d.Priority == 0 {
		d.Priority = Medium
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
	return &Record{id: id, t: Task{
		ID:                   id,
		Description:          d.Description,
		Kind:                 d.Kind,
		Priority:             d.Priority,
		Status:               Pending,
		RequiredCapabilities: append([]capability.Requirement(nil), d.RequiredCapabilities...),
		Timeout:              d.Timeout,
		MaxRetries:           d.MaxRetries,
		ScheduleID:           d.ScheduleID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}}
}

// FromSnapshot rebuilds a record from a persisted task.
func FromSnapshot(t Task) *Record {
	return &Record{id: t.ID, t: t.Clone()}
}

func (r *Record) ID() string { return r.id }

func (r *Record) Lock()   { r.mu.Lock() }
func (r *Record) Unlock() { r.mu.Unlock() }

// Snapshot returns a deep copy taken under the record lock.
func (r *Record) Snapshot() Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.Clone()
}

// Locked exposes the task for mutation. The caller must hold the lock.
func (r *Record) Locked() *Task { return &r.t }

// Touch bumps the version and update time. The caller must hold the lock.
func (r *Record) Touch(now time.Time) {
	r.t.Version++
	r.t.UpdatedAt = now
}

// Filter selects tasks in queries. Zero fields match everything.
type Filter struct {
	Statuses   []Status
	Priority   Priority
	Capability string
	Agent      string
	Kind       string
	ScheduleID string
}

func (f Filter) Match(t Task) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Priority != 0 && t.Priority != f.Priority {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.ScheduleID != "" && t.ScheduleID != f.ScheduleID {
		return false
	}
	if f.Agent != "" {
		found := t.AssignedAgent == f.Agent
		for _, a := range t.Attempts {
			if a.AgentID == f.Agent {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.Capability != "" {
		found := false
		for _, r := range t.RequiredCapabilities {
			if r.Name == f.Capability {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
