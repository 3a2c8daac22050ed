package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
)

type memRecorder struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func (m *memRecorder) RecordAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agents == nil {
		m.agents = make(map[string]Agent)
	}
	m.agents[a.ID] = a
}

func newTestRegistry(t *testing.T) (*Registry, *events.Subscription, *memRecorder) {
	t.Helper()
	bus := events.NewBus(64)
	sub := bus.Subscribe(events.SubscribeOptions{})
	t.Cleanup(sub.Close)
	rec := &memRecorder{}
	return New(bus, rec, Options{DefaultLearningRate: 0.1}), sub, rec
}

func def(name string) Definition {
	return Definition{
		Name:         name,
		Kind:         Worker,
		Capabilities: []capability.Capability{{Name: "skill", Proficiency: 0.8}},
	}
}

func TestRegister(t *testing.T) {
	reg, sub, rec := newTestRegistry(t)

	id, err := reg.Register(def("alpha"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	a, err := reg.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.State != Idle || a.Energy != MaxEnergy || a.PerformanceScore != 0.5 {
		t.Errorf("unexpected initial agent %+v", a)
	}
	if a.Capabilities[0].LearningRate != 0.1 {
		t.Errorf("expected default learning rate, got %v", a.Capabilities[0].LearningRate)
	}
	if a.Version != 1 {
		t.Errorf("expected version 1, got %d", a.Version)
	}

	ev := <-sub.Events()
	if ev.Type != events.AgentCreated || ev.AgentID != id {
		t.Errorf("unexpected event %+v", ev)
	}
	if _, ok := rec.agents[id]; !ok {
		t.Error("expected agent recorded for persistence")
	}
}

func TestRegisterRejects(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	if _, err := reg.Register(def("alpha")); err != nil {
		t.Fatal(err)
	}

	_, err := reg.Register(def("alpha"))
	if !errors.Is(err, hiveerr.ErrDuplicateName) {
		t.Errorf("expected duplicate name, got %v", err)
	}

	empty := def("beta")
	empty.Capabilities = nil
	_, err = reg.Register(empty)
	if !errors.Is(err, hiveerr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	_, err = reg.Register(Definition{Name: " ", Capabilities: def("x").Capabilities})
	if !errors.Is(err, hiveerr.ErrValidation) {
		t.Errorf("expected validation error for blank name, got %v", err)
	}
}

func TestNameReusableAfterRemove(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))
	if _, err := reg.Remove(id, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reg.Register(def("alpha")); err != nil {
		t.Errorf("expected name reuse after removal, got %v", err)
	}
	removed, _ := reg.Get(id)
	if removed.State != Removed {
		t.Errorf("expected removed record retained, got %s", removed.State)
	}
}

func TestStateMachine(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{Idle, EventAssign, Active, true},
		{Active, EventComplete, Idle, true},
		{Active, EventFail, Idle, true},
		{Idle, EventPause, Paused, true},
		{Active, EventPause, Paused, true},
		{Paused, EventResume, Idle, true},
		{Failed, EventResume, Idle, true},
		{Paused, EventRemove, Removed, true},
		{Active, EventCrash, Idle, true},
		{Active, EventFault, Failed, true},
		{Idle, EventComplete, Idle, false},
		{Paused, EventAssign, Paused, false},
		{Removed, EventResume, Removed, false},
		{Removed, EventRemove, Removed, false},
		{Idle, EventResume, Idle, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_"+tt.ev.String(), func(t *testing.T) {
			to, ok := next(tt.from, tt.ev)
			if ok != tt.ok || (ok && to != tt.to) {
				t.Errorf("next(%s, %s) = %s, %v; want %s, %v", tt.from, tt.ev, to, ok, tt.to, tt.ok)
			}
		})
	}
}

func TestAssignAndRelease(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))

	if err := reg.Assign(id, "t1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, _ := reg.Get(id)
	if a.State != Active || a.CurrentTask != "t1" {
		t.Fatalf("expected active with t1, got %s %q", a.State, a.CurrentTask)
	}

	if err := reg.Assign(id, "t2"); !errors.Is(err, hiveerr.ErrAgentBusy) {
		t.Errorf("expected agent busy on second assign, got %v", err)
	}
	if err := reg.Release(id, "t2", EventComplete); !errors.Is(err, hiveerr.ErrConflict) {
		t.Errorf("expected conflict releasing wrong task, got %v", err)
	}
	if err := reg.Release(id, "t1", EventComplete); err != nil {
		t.Fatalf("release: %v", err)
	}
	a, _ = reg.Get(id)
	if a.State != Idle || a.CurrentTask != "" {
		t.Errorf("expected idle with no task, got %s %q", a.State, a.CurrentTask)
	}
	if err := reg.Ping(); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestTransitionRejectsAssign(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))
	if _, err := reg.Transition(id, EventAssign); !errors.Is(err, hiveerr.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if _, err := reg.Transition(id, EventComplete); !errors.Is(err, hiveerr.ErrInvalidTransition) {
		t.Errorf("expected invalid transition completing idle agent, got %v", err)
	}
	if _, err := reg.Transition("missing", EventPause); !errors.Is(err, hiveerr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRemoveBusy(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))
	_ = reg.Assign(id, "t1")

	if _, err := reg.Remove(id, false); !errors.Is(err, hiveerr.ErrAgentBusy) {
		t.Fatalf("expected agent busy, got %v", err)
	}
	taskID, err := reg.Remove(id, true)
	if err != nil {
		t.Fatalf("forced remove: %v", err)
	}
	if taskID != "t1" {
		t.Errorf("expected detached task t1, got %q", taskID)
	}
	a, _ := reg.Get(id)
	if a.State != Removed || a.CurrentTask != "" {
		t.Errorf("unexpected agent after removal %s %q", a.State, a.CurrentTask)
	}
}

func TestPauseActiveDetachesTask(t *testing.T) {
	reg, sub, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))
	_ = reg.Assign(id, "t1")

	taskID, err := reg.Pause(id)
	if err != nil || taskID != "t1" {
		t.Fatalf("pause returned %q, %v", taskID, err)
	}

	var changes []StatusChange
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		if sc, ok := ev.Payload.(StatusChange); ok {
			changes = append(changes, sc)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 status changes, got %d", len(changes))
	}
	if changes[1].From != Active || changes[1].Agent.State != Paused {
		t.Errorf("unexpected change %+v", changes[1])
	}
}

func TestEnergy(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))

	_ = reg.ConsumeEnergy(id, 130)
	a, _ := reg.Get(id)
	if a.Energy != 0 {
		t.Errorf("expected energy floored at 0, got %v", a.Energy)
	}
	reg.Regenerate(30)
	reg.Regenerate(80)
	a, _ = reg.Get(id)
	if a.Energy != MaxEnergy {
		t.Errorf("expected energy capped at %v, got %v", MaxEnergy, a.Energy)
	}
}

func TestUpdateKeepsLifecycle(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id, _ := reg.Register(def("alpha"))
	_ = reg.Assign(id, "t1")

	a, err := reg.Update(id, func(a *Agent) {
		a.Capabilities[0].Proficiency = 0.9
		a.State = Removed
		a.CurrentTask = ""
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.State != Active || a.CurrentTask != "t1" {
		t.Errorf("lifecycle fields changed by update: %s %q", a.State, a.CurrentTask)
	}
	if a.Capabilities[0].Proficiency != 0.9 {
		t.Errorf("expected proficiency update, got %v", a.Capabilities[0].Proficiency)
	}
}

func TestTouch(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := New(nil, nil, Options{Now: func() time.Time { return now }})
	id, _ := reg.Register(def("alpha"))

	now = now.Add(time.Minute)
	if err := reg.Touch(id); err != nil {
		t.Fatal(err)
	}
	a, _ := reg.Get(id)
	if !a.LastActive.Equal(now) {
		t.Errorf("expected last_active %v, got %v", now, a.LastActive)
	}
}

func TestListFilter(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	a1, _ := reg.Register(def("alpha"))
	spec := def("beta")
	spec.Kind = Specialist
	spec.Capabilities = []capability.Capability{{Name: "rust", Proficiency: 0.9}}
	_, _ = reg.Register(spec)
	gamma, _ := reg.Register(def("gamma"))
	_, _ = reg.Remove(gamma, false)
	_ = reg.Assign(a1, "t1")

	if got := len(reg.List(Filter{})); got != 2 {
		t.Errorf("expected 2 non-removed agents, got %d", got)
	}
	if got := len(reg.List(Filter{IncludeRemoved: true})); got != 3 {
		t.Errorf("expected 3 agents including removed, got %d", got)
	}
	if got := reg.List(Filter{States: []State{Active}}); len(got) != 1 || got[0].ID != a1 {
		t.Errorf("unexpected active list %+v", got)
	}
	if got := reg.List(Filter{Kinds: []Kind{Specialist}}); len(got) != 1 || got[0].Name != "beta" {
		t.Errorf("unexpected specialist list %+v", got)
	}
	if got := reg.List(Filter{Capability: "rust", MinProficiency: 0.95}); len(got) != 0 {
		t.Errorf("expected no agent above 0.95 rust, got %d", len(got))
	}
}

func TestRestoreResetsActive(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.Restore([]Agent{
		{ID: "a1", Name: "alpha", State: Active, CurrentTask: "t1", Energy: 50},
		{ID: "a2", Name: "beta", State: Removed},
	})
	a, err := reg.Get("a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.State != Idle || a.CurrentTask != "" {
		t.Errorf("expected restored active agent reset to idle, got %s %q", a.State, a.CurrentTask)
	}
	if _, err := reg.GetByName("beta"); err == nil {
		t.Error("removed agents must not be found by name")
	}
	if _, err := reg.Register(def("beta")); err != nil {
		t.Errorf("expected removed name reusable, got %v", err)
	}
}
