package task

import (
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
)

// Recorder receives every committed task snapshot for persistence.
type Recorder interface {
	RecordTask(t Task)
}

// FailureReport is the payload of task_failed.
type FailureReport struct {
	Task     Task   `json:"task"`
	Retrying bool   `json:"retrying"`
	Detail   string `json:"detail,omitempty"`
	Outcome  string `json:"outcome"`
}

// Sink commits task mutations: it bumps the version, records the snapshot
// and publishes the event. Callers hold the record lock, which keeps one
// task's events in order for every subscriber.
type Sink struct {
	Bus      events.Publisher
	Recorder Recorder
	Now      func() time.Time
}

func (s Sink) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Commit publishes typ with payload, or with the task snapshot when payload
// is nil. An empty typ only records.
func (s Sink) Commit(rec *Record, typ events.Type, payload any) Task {
	now := s.now()
	rec.Touch(now)
	snap := rec.t.Clone()
	if s.Recorder != nil {
		s.Recorder.RecordTask(snap)
	}
	if typ == "" || s.Bus == nil {
		return snap
	}
	if f, ok := payload.(FailureReport); ok {
		f.Task = snap
		payload = f
	}
	if payload == nil {
		payload = snap
	}
	agentID := snap.AssignedAgent
	if last := snap.LastAttempt(); agentID == "" && last != nil {
		agentID = last.AgentID
	}
	s.Bus.Publish(events.Event{
		Type:      typ,
		TaskID:    snap.ID,
		AgentID:   agentID,
		Timestamp: now,
		Payload:   payload,
	})
	return snap
}
