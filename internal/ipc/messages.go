// Package ipc exposes the hive over NATS request/reply. Operator commands
// are sent to hive.ctl.<op>, agent calls to hive.agent.<id>.<op>; both carry
// a JSON request body and receive a Response.
package ipc

import (
	"encoding/json"

	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Response is the reply envelope of every call.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	OpCreateAgent    = "create_agent"
	OpListAgents     = "list_agents"
	OpGetAgent       = "get_agent"
	OpPauseAgent     = "pause_agent"
	OpResumeAgent    = "resume_agent"
	OpRemoveAgent    = "remove_agent"
	OpCreateTask     = "create_task"
	OpListTasks      = "list_tasks"
	OpGetTask        = "get_task"
	OpCancelTask     = "cancel_task"
	OpCandidates     = "candidates"
	OpSnapshot       = "snapshot"
	OpStats          = "stats"
	OpCreateSchedule = "create_schedule"
	OpListSchedules  = "list_schedules"
	OpPauseSchedule  = "pause_schedule"
	OpResumeSchedule = "resume_schedule"
	OpDeleteSchedule = "delete_schedule"

	OpRequestWork = "request_work"
	OpReport      = "report"
	OpProgress    = "progress"
	OpHeartbeat   = "heartbeat"
	OpWhoAmI      = "whoami"
)

type IDRequest struct {
	ID string `json:"id"`
}

type RemoveAgentRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

type CancelTaskRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type ListAgentsRequest struct {
	States         []registry.State `json:"states,omitempty"`
	Kinds          []registry.Kind  `json:"kinds,omitempty"`
	Capability     string           `json:"capability,omitempty"`
	MinProficiency float64          `json:"min_proficiency,omitempty"`
	IncludeRemoved bool             `json:"include_removed,omitempty"`
	Offset         int              `json:"offset,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

func (r ListAgentsRequest) Filter() registry.Filter {
	return registry.Filter{
		States:         r.States,
		Kinds:          r.Kinds,
		Capability:     r.Capability,
		MinProficiency: r.MinProficiency,
		IncludeRemoved: r.IncludeRemoved,
	}
}

type ListTasksRequest struct {
	Statuses   []task.Status `json:"statuses,omitempty"`
	Priority   task.Priority `json:"priority,omitempty"`
	Capability string        `json:"capability,omitempty"`
	Agent      string        `json:"agent,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	ScheduleID string        `json:"schedule_id,omitempty"`
	Offset     int           `json:"offset,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

func (r ListTasksRequest) Filter() task.Filter {
	return task.Filter{
		Statuses:   r.Statuses,
		Priority:   r.Priority,
		Capability: r.Capability,
		Agent:      r.Agent,
		Kind:       r.Kind,
		ScheduleID: r.ScheduleID,
	}
}

type CreateScheduleRequest struct {
	Name     string          `json:"name"`
	Schedule string          `json:"schedule"`
	Template task.Definition `json:"template"`
}

type ReportRequest struct {
	TaskID  string       `json:"task_id"`
	Outcome task.Outcome `json:"outcome"`
	Detail  string       `json:"detail,omitempty"`
	Result  string       `json:"result,omitempty"`
}

type ProgressRequest struct {
	TaskID  string  `json:"task_id"`
	Percent float64 `json:"percent"`
	Note    string  `json:"note,omitempty"`
}
