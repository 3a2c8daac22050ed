package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.createAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.removeAgent)
	mux.HandleFunc("POST /api/agents/{id}/pause", s.pauseAgent)
	mux.HandleFunc("POST /api/agents/{id}/resume", s.resumeAgent)

	// Agent-side calls
	mux.HandleFunc("POST /api/agents/{id}/work", s.requestWork)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.heartbeat)
	mux.HandleFunc("POST /api/tasks/{id}/report", s.reportOutcome)
	mux.HandleFunc("POST /api/tasks/{id}/progress", s.reportProgress)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("GET /api/tasks/{id}/candidates", s.taskCandidates)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.pauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.resumeSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Swarm and system
	mux.HandleFunc("GET /api/swarm", s.getSwarm)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f registry.Filter
	for _, v := range splitList(q.Get("state")) {
		st, err := registry.ParseState(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.States = append(f.States, st)
	}
	for _, v := range splitList(q.Get("kind")) {
		k, err := registry.ParseKind(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Kinds = append(f.Kinds, k)
	}
	f.Capability = q.Get("capability")
	if v := q.Get("min_proficiency"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			jsonError(w, "invalid min_proficiency", http.StatusBadRequest)
			return
		}
		f.MinProficiency = p
	}
	f.IncludeRemoved = q.Get("include_removed") == "true"

	offset, limit, ok := pageParams(w, r)
	if !ok {
		return
	}

	agents := s.hive.ListAgents(f)
	switch q.Get("sort") {
	case "", "created":
	case "performance":
		sort.SliceStable(agents, func(i, j int) bool { return agents[i].PerformanceScore > agents[j].PerformanceScore })
	case "energy":
		sort.SliceStable(agents, func(i, j int) bool { return agents[i].Energy > agents[j].Energy })
	default:
		jsonError(w, "sort must be created, performance or energy", http.StatusBadRequest)
		return
	}
	jsonResponse(w, hive.Paginate(agents, offset, limit))
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var def registry.Definition
	if !decodeBody(w, r, &def) {
		return
	}
	a, err := s.hive.CreateAgent(def)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/agents/"+a.ID)
	jsonStatus(w, http.StatusCreated, a)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.hive.GetAgent(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.hive.RemoveAgent(r.PathValue("id"), r.URL.Query().Get("force") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) pauseAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.hive.PauseAgent(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.hive.ResumeAgent(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) requestWork(w http.ResponseWriter, r *http.Request) {
	t, err := s.hive.RequestWork(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.hive.Heartbeat(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reportOutcome(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string       `json:"agent_id"`
		Outcome task.Outcome `json:"outcome"`
		Detail  string       `json:"detail"`
		Result  string       `json:"result"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	t, err := s.hive.ReportOutcome(r.PathValue("id"), body.AgentID, body.Outcome, body.Detail, body.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) reportProgress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string  `json:"agent_id"`
		Percent float64 `json:"percent"`
		Note    string  `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.hive.ReportProgress(r.PathValue("id"), body.AgentID, body.Percent, body.Note); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f task.Filter
	for _, v := range splitList(q.Get("status")) {
		st, err := task.ParseStatus(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := q.Get("priority"); v != "" {
		p, err := task.ParsePriority(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Priority = p
	}
	f.Capability = q.Get("capability")
	f.Agent = q.Get("agent")
	f.Kind = q.Get("kind")
	f.ScheduleID = q.Get("schedule_id")

	offset, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	jsonResponse(w, hive.Paginate(s.hive.ListTasks(f), offset, limit))
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var def task.Definition
	if !decodeBody(w, r, &def) {
		return
	}
	t, err := s.hive.CreateTask(def)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/tasks/"+t.ID)
	jsonStatus(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.hive.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) taskCandidates(w http.ResponseWriter, r *http.Request) {
	c, err := s.hive.Candidates(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		c = []hive.Candidate{}
	}
	jsonResponse(w, c)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	t, err := s.hive.CancelTask(r.PathValue("id"), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) schedulerEnabled(w http.ResponseWriter) bool {
	if s.sched == nil {
		jsonError(w, "scheduler disabled", http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	list, err := s.sched.List()
	if err != nil {
		writeError(w, err)
		return
	}
	offset, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	jsonResponse(w, hive.Paginate(list, offset, limit))
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	var body struct {
		Name     string          `json:"name"`
		Schedule string          `json:"schedule"`
		Template task.Definition `json:"template"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sc, err := s.sched.Create(body.Name, body.Schedule, body.Template)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonStatus(w, http.StatusCreated, sc)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	sc, err := s.sched.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, sc)
}

func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	sc, err := s.sched.Pause(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, sc)
}

func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	sc, err := s.sched.Resume(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, sc)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerEnabled(w) {
		return
	}
	if err := s.sched.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.hive.Snapshot())
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.hive.Snapshot()
	status := map[string]any{
		"status":        "ok",
		"health":        snap.Health,
		"health_reason": snap.HealthReason,
		"agents":        snap.TotalAgents,
		"active_agents": snap.ActiveAgents,
		"pending_tasks": snap.PendingTasks,
		"running_tasks": snap.RunningTasks,
		"stats":         s.hive.Stats(),
		"ws_clients":    s.hub.Clients(),
		"nats":          s.nats != nil,
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"timestamp":     time.Now().UTC(),
		"version":       s.version,
	}
	if err := s.hive.Ping(); err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
	}
	jsonResponse(w, status)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pageParams(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"offset", &offset}, {"limit", &limit}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, fmt.Sprintf("invalid %s", p.name), http.StatusBadRequest)
			return 0, 0, false
		}
		*p.dst = n
	}
	return offset, limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind hiveerr.Kind) int {
	switch kind {
	case hiveerr.Validation:
		return http.StatusBadRequest
	case hiveerr.NotFound:
		return http.StatusNotFound
	case hiveerr.DuplicateName, hiveerr.InvalidTransition, hiveerr.AgentBusy, hiveerr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := hiveerr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": kind.String()})
}

func jsonResponse(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
