package ipc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/scheduler"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

type handler func(agentID string, payload []byte) (any, error)

type Server struct {
	hive   *hive.Hive
	sched  *scheduler.Scheduler
	client *natsbus.Client

	control map[string]handler
	agent   map[string]handler

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewServer builds the command tables. Schedule commands are only served
// when sched is non-nil.
func NewServer(h *hive.Hive, sched *scheduler.Scheduler, client *natsbus.Client) *Server {
	s := &Server{hive: h, sched: sched, client: client}

	s.control = map[string]handler{
		OpCreateAgent: bind(func(def registry.Definition) (any, error) { return h.CreateAgent(def) }),
		OpListAgents: bind(func(req ListAgentsRequest) (any, error) {
			return hive.Paginate(h.ListAgents(req.Filter()), req.Offset, req.Limit), nil
		}),
		OpGetAgent:    bindID(h.GetAgent),
		OpPauseAgent:  bindID(h.PauseAgent),
		OpResumeAgent: bindID(h.ResumeAgent),
		OpRemoveAgent: bind(func(req RemoveAgentRequest) (any, error) { return h.RemoveAgent(req.ID, req.Force) }),
		OpCreateTask:  bind(func(def task.Definition) (any, error) { return h.CreateTask(def) }),
		OpListTasks: bind(func(req ListTasksRequest) (any, error) {
			return hive.Paginate(h.ListTasks(req.Filter()), req.Offset, req.Limit), nil
		}),
		OpGetTask:    bindID(h.GetTask),
		OpCancelTask: bind(func(req CancelTaskRequest) (any, error) { return h.CancelTask(req.ID, req.Reason) }),
		OpCandidates: bindID(h.Candidates),
		OpSnapshot:   func(string, []byte) (any, error) { return h.Snapshot(), nil },
		OpStats:      func(string, []byte) (any, error) { return h.Stats(), nil },
	}
	if sched != nil {
		s.control[OpCreateSchedule] = bind(func(req CreateScheduleRequest) (any, error) {
			return sched.Create(req.Name, req.Schedule, req.Template)
		})
		s.control[OpListSchedules] = func(string, []byte) (any, error) { return sched.List() }
		s.control[OpPauseSchedule] = bindID(sched.Pause)
		s.control[OpResumeSchedule] = bindID(sched.Resume)
		s.control[OpDeleteSchedule] = bind(func(req IDRequest) (any, error) { return nil, sched.Delete(req.ID) })
	}

	s.agent = map[string]handler{
		OpRequestWork: func(agentID string, _ []byte) (any, error) { return h.RequestWork(agentID) },
		OpReport: func(agentID string, payload []byte) (any, error) {
			var req ReportRequest
			if err := decode(payload, &req); err != nil {
				return nil, err
			}
			return h.ReportOutcome(req.TaskID, agentID, req.Outcome, req.Detail, req.Result)
		},
		OpProgress: func(agentID string, payload []byte) (any, error) {
			var req ProgressRequest
			if err := decode(payload, &req); err != nil {
				return nil, err
			}
			return nil, h.ReportProgress(req.TaskID, agentID, req.Percent, req.Note)
		},
		OpHeartbeat: func(agentID string, _ []byte) (any, error) { return nil, h.Heartbeat(agentID) },
		OpWhoAmI:    func(agentID string, _ []byte) (any, error) { return h.GetAgent(agentID) },
	}
	return s
}

func bind[Req any](fn func(Req) (any, error)) handler {
	return func(_ string, payload []byte) (any, error) {
		var req Req
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return fn(req)
	}
}

func bindID[T any](fn func(id string) (T, error)) handler {
	return bind(func(req IDRequest) (any, error) {
		if req.ID == "" {
			return nil, hiveerr.New(hiveerr.Validation, "decode request", "id is required")
		}
		return fn(req.ID)
	})
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return hiveerr.Wrap(hiveerr.Validation, "decode request", err)
	}
	return nil
}

// Start subscribes to the control and agent subjects.
func (s *Server) Start() error {
	ctl, err := s.client.Subscribe(natsbus.TopicControlAll, s.handleControl)
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	agt, err := s.client.Subscribe(natsbus.TopicAgentAll, s.handleAgent)
	if err != nil {
		_ = ctl.Unsubscribe()
		return fmt.Errorf("subscribe agent: %w", err)
	}
	s.mu.Lock()
	s.subs = append(s.subs, ctl, agt)
	s.mu.Unlock()
	slog.Info("ipc server started", "control", natsbus.TopicControlAll, "agent", natsbus.TopicAgentAll)
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Server) handleControl(msg *nats.Msg) {
	op := strings.TrimPrefix(msg.Subject, "hive.ctl.")
	h, ok := s.control[op]
	if !ok {
		slog.Warn("unknown ipc command", "op", op)
		s.respond(msg, nil, hiveerr.New(hiveerr.Validation, "ipc", "unknown command: %s", op))
		return
	}
	data, err := h("", msg.Data)
	s.respond(msg, data, err)
}

func (s *Server) handleAgent(msg *nats.Msg) {
	agentID, op, ok := natsbus.ParseAgentTopic(msg.Subject)
	if !ok {
		s.respond(msg, nil, hiveerr.New(hiveerr.Validation, "ipc", "bad agent subject: %s", msg.Subject))
		return
	}
	h, ok := s.agent[op]
	if !ok {
		slog.Warn("unknown agent command", "op", op, "agent", agentID)
		s.respond(msg, nil, hiveerr.New(hiveerr.Validation, "ipc", "unknown agent command: %s", op))
		return
	}
	data, err := h(agentID, msg.Data)
	s.respond(msg, data, err)
}

func (s *Server) respond(msg *nats.Msg, data any, err error) {
	var resp Response
	if err != nil {
		kind := hiveerr.KindOf(err)
		if kind == hiveerr.Internal || kind == hiveerr.Fatal {
			slog.Error("ipc command failed", "subject", msg.Subject, "error", err)
		}
		resp = Response{Error: err.Error(), Kind: kind.String()}
	} else {
		resp.OK = true
		if data != nil {
			raw, merr := json.Marshal(data)
			if merr != nil {
				slog.Error("failed to marshal ipc response", "subject", msg.Subject, "error", merr)
				resp = Response{Error: "marshal response: " + merr.Error(), Kind: hiveerr.Internal.String()}
			} else {
				resp.Data = raw
			}
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal ipc envelope", "error", err)
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(out); err != nil {
		slog.Error("failed to respond to ipc", "subject", msg.Subject, "error", err)
	}
}
