// Package registry owns agent records and their lifecycle transitions.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
)

// Recorder receives every committed agent snapshot for persistence.
type Recorder interface {
	RecordAgent(a Agent)
}

type Options struct {
	DefaultLearningRate float64
	Now                 func() time.Time
}

type Registry struct {
	mu     sync.RWMutex
	agents map[string]*record
	names  map[string]string

	bus         events.Publisher
	recorder    Recorder
	now         func() time.Time
	defaultRate float64
}

type record struct {
	mu sync.Mutex
	a  Agent
}

func New(bus events.Publisher, recorder Recorder, opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rate := opts.DefaultLearningRate
	if rate <= 0 {
		rate = 0.1
	}
	return &Registry{
		agents:      make(map[string]*record),
		names:       make(map[string]string),
		bus:         bus,
		recorder:    recorder,
		now:         now,
		defaultRate: rate,
	}
}

// Register validates def and adds a new Idle agent with full energy.
func (r *Registry) Register(def Definition) (string, error) {
	const op = "register agent"
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return "", hiveerr.New(hiveerr.Validation, op, "name must not be blank")
	}
	if !def.Kind.Valid() {
		return "", hiveerr.New(hiveerr.Validation, op, "unknown kind %d", int(def.Kind))
	}
	caps := capability.Normalize(def.Capabilities, r.defaultRate)
	if err := capability.ValidateSet(caps); err != nil {
		return "", hiveerr.New(hiveerr.Validation, op, "%v", err)
	}

	now := r.now()
	rec := &record{a: Agent{
		ID:               uuid.New().String(),
		Name:             name,
		Kind:             def.Kind,
		Specialization:   def.Specialization,
		State:            Idle,
		Capabilities:     caps,
		Energy:           MaxEnergy,
		PerformanceScore: 0.5,
		CreatedAt:        now,
		LastActive:       now,
		UpdatedAt:        now,
	}}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.names[name]; exists {
		r.mu.Unlock()
		return "", hiveerr.New(hiveerr.DuplicateName, op, "agent name %q already in use", name)
	}
	r.agents[rec.a.ID] = rec
	r.names[name] = rec.a.ID
	r.mu.Unlock()

	r.commit(rec, events.Event{Type: events.AgentCreated})
	slog.Info("agent registered", "agent", rec.a.ID, "name", name, "kind", def.Kind)
	return rec.a.ID, nil
}

// Restore loads persisted agents at startup. Agents found Active are reset
// to Idle since no attempt survives a restart.
func (r *Registry) Restore(agents []Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		a = a.Clone()
		if a.State == Active {
			a.State = Idle
			a.CurrentTask = ""
			a.Version++
		}
		r.agents[a.ID] = &record{a: a}
		if a.State != Removed {
			r.names[a.Name] = a.ID
		}
	}
}

// Transition applies a lifecycle event that does not carry a task. Assign
// must go through Assign. It returns the task the agent was holding, if the
// event detached one.
func (r *Registry) Transition(id string, ev Event) (string, error) {
	if ev == EventAssign {
		return "", hiveerr.New(hiveerr.InvalidTransition, "transition", "assign requires a task")
	}
	rec, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.apply(rec, ev, "")
}

// Pause moves an Idle or Active agent to Paused and returns any task it held.
func (r *Registry) Pause(id string) (string, error) {
	return r.Transition(id, EventPause)
}

func (r *Registry) Resume(id string) error {
	_, err := r.Transition(id, EventResume)
	return err
}

// Remove logically deletes the agent. An Active agent is only removed when
// force is set, in which case the detached task id is returned.
func (r *Registry) Remove(id string, force bool) (string, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.a.State == Active && !force {
		return "", hiveerr.New(hiveerr.AgentBusy, "remove agent", "agent %s is running task %s", id, rec.a.CurrentTask)
	}
	taskID, err := r.apply(rec, EventRemove, "")
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	if r.names[rec.a.Name] == id {
		delete(r.names, rec.a.Name)
	}
	r.mu.Unlock()
	return taskID, nil
}

// Assign binds taskID to an Idle agent.
func (r *Registry) Assign(id, taskID string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.a.State == Active {
		return hiveerr.New(hiveerr.AgentBusy, "assign", "agent %s already holds task %s", id, rec.a.CurrentTask)
	}
	_, err = r.apply(rec, EventAssign, taskID)
	return err
}

// Release ends the agent's hold on taskID with complete, fail, crash or
// fault. It is a Conflict if the agent no longer holds that task.
func (r *Registry) Release(id, taskID string, ev Event) error {
	switch ev {
	case EventComplete, EventFail, EventCrash, EventFault:
	default:
		return hiveerr.New(hiveerr.InvalidTransition, "release", "event %s does not release a task", ev)
	}
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.a.State != Active || rec.a.CurrentTask != taskID {
		return hiveerr.New(hiveerr.Conflict, "release", "agent %s does not hold task %s", id, taskID)
	}
	_, err = r.apply(rec, ev, "")
	return err
}

// apply runs under rec.mu.
func (r *Registry) apply(rec *record, ev Event, taskID string) (string, error) {
	from := rec.a.State
	to, ok := next(from, ev)
	if !ok {
		return "", hiveerr.New(hiveerr.InvalidTransition, "transition", "cannot %s agent in state %s", ev, from)
	}
	detached := rec.a.CurrentTask
	rec.a.State = to
	if to == Active {
		rec.a.CurrentTask = taskID
		rec.a.LastActive = r.now()
	} else {
		rec.a.CurrentTask = ""
	}
	r.commit(rec, events.Event{
		Type:    events.AgentStatusChanged,
		TaskID:  detached,
		Payload: StatusChange{From: from, Event: ev.String()},
	})
	slog.Info("agent transition", "agent", rec.a.ID, "event", ev, "from", from, "to", to)
	if to == Active {
		return "", nil
	}
	return detached, nil
}

// Touch records a heartbeat.
func (r *Registry) Touch(id string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.a.State == Removed {
		return hiveerr.New(hiveerr.InvalidTransition, "heartbeat", "agent %s is removed", id)
	}
	rec.a.LastActive = r.now()
	r.commit(rec, events.Event{})
	return nil
}

// ConsumeEnergy subtracts amount, never going below zero.
func (r *Registry) ConsumeEnergy(id string, amount float64) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.a.Energy = max(0, rec.a.Energy-amount)
	r.commit(rec, events.Event{})
	return nil
}

// Regenerate adds amount of energy to every Idle or Paused agent.
func (r *Registry) Regenerate(amount float64) {
	if amount <= 0 {
		return
	}
	for _, rec := range r.records() {
		rec.mu.Lock()
		if (rec.a.State == Idle || rec.a.State == Paused) && rec.a.Energy < MaxEnergy {
			rec.a.Energy = min(MaxEnergy, rec.a.Energy+amount)
			r.commit(rec, events.Event{})
		}
		rec.mu.Unlock()
	}
}

// Update runs fn on the live agent under its lock. fn must not change the
// lifecycle fields State or CurrentTask.
func (r *Registry) Update(id string, fn func(a *Agent)) (Agent, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Agent{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	state, current := rec.a.State, rec.a.CurrentTask
	fn(&rec.a)
	rec.a.State, rec.a.CurrentTask = state, current
	r.commit(rec, events.Event{})
	return rec.a.Clone(), nil
}

// commit bumps the version and hands the snapshot to the recorder and, when
// ev has a type, to the bus. It runs under rec.mu so each subscriber sees one
// agent's events in commit order.
func (r *Registry) commit(rec *record, ev events.Event) {
	now := r.now()
	rec.a.Version++
	rec.a.UpdatedAt = now
	snap := rec.a.Clone()
	if r.recorder != nil {
		r.recorder.RecordAgent(snap)
	}
	if ev.Type == "" || r.bus == nil {
		return
	}
	ev.AgentID = snap.ID
	ev.Timestamp = now
	if sc, ok := ev.Payload.(StatusChange); ok {
		sc.Agent = snap
		ev.Payload = sc
	} else {
		ev.Payload = snap
	}
	r.bus.Publish(ev)
}

func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, hiveerr.New(hiveerr.NotFound, "agent", "agent %s not found", id)
	}
	return rec, nil
}

func (r *Registry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*record, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec)
	}
	return out
}

func (r *Registry) Get(id string) (Agent, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Agent{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.a.Clone(), nil
}

// GetByName finds a non-removed agent by name.
func (r *Registry) GetByName(name string) (Agent, error) {
	r.mu.RLock()
	id, ok := r.names[name]
	r.mu.RUnlock()
	if !ok {
		return Agent{}, hiveerr.New(hiveerr.NotFound, "agent", "agent %q not found", name)
	}
	return r.Get(id)
}

// List returns matching agents ordered by creation time.
func (r *Registry) List(f Filter) []Agent {
	var out []Agent
	for _, rec := range r.records() {
		rec.mu.Lock()
		if f.Match(rec.a) {
			out = append(out, rec.a.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Ping verifies that Active agents hold exactly one task and no other agent
// holds any.
func (r *Registry) Ping() error {
	held := make(map[string]string)
	for _, rec := range r.records() {
		rec.mu.Lock()
		a := rec.a
		rec.mu.Unlock()
		if (a.State == Active) != (a.CurrentTask != "") {
			return hiveerr.New(hiveerr.Fatal, "registry", "agent %s in state %s holds task %q", a.ID, a.State, a.CurrentTask)
		}
		if a.CurrentTask != "" {
			if other, dup := held[a.CurrentTask]; dup {
				return hiveerr.New(hiveerr.Fatal, "registry", "task %s held by agents %s and %s", a.CurrentTask, other, a.ID)
			}
			held[a.CurrentTask] = a.ID
		}
		if a.Energy < 0 || a.Energy > MaxEnergy {
			return fmt.Errorf("registry: agent %s energy %v out of range", a.ID, a.Energy)
		}
	}
	return nil
}
