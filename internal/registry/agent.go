package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
)

type Kind int

const (
	Worker Kind = iota
	Coordinator
	Specialist
	Learner
)

var kindNames = []string{"worker", "coordinator", "specialist", "learner"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) Valid() bool { return k >= Worker && k <= Learner }

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func ParseKind(s string) (Kind, error) {
	if s == "" {
		return Worker, nil
	}
	for i, n := range kindNames {
		if strings.EqualFold(n, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agent kind %q", s)
}

type State int

const (
	Idle State = iota
	Active
	Paused
	Failed
	Removed
)

var stateNames = []string{"idle", "active", "paused", "failed", "removed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseState(s string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, s) {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agent state %q", s)
}

// Event drives the lifecycle state machine.
type Event int

const (
	EventAssign Event = iota
	EventComplete
	EventFail
	EventPause
	EventResume
	EventRemove
	EventCrash
	EventFault
)

var eventNames = []string{"assign", "complete", "fail", "pause", "resume", "remove", "crash", "fault"}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

func ParseEvent(s string) (Event, error) {
	for i, n := range eventNames {
		if strings.EqualFold(n, s) {
			return Event(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle event %q", s)
}

// next returns the state reached from s on e.
func next(s State, e Event) (State, bool) {
	switch e {
	case EventAssign:
		if s == Idle {
			return Active, true
		}
	case EventComplete, EventFail, EventCrash:
		if s == Active {
			return Idle, true
		}
	case EventPause:
		if s == Idle || s == Active {
			return Paused, true
		}
	case EventResume:
		if s == Paused || s == Failed {
			return Idle, true
		}
	case EventRemove:
		if s != Removed {
			return Removed, true
		}
	case EventFault:
		if s == Idle || s == Active {
			return Failed, true
		}
	}
	return s, false
}

const MaxEnergy = 100.0

// Agent is a value snapshot of an agent record.
type Agent struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Kind             Kind                    `json:"kind"`
	Specialization   string                  `json:"specialization,omitempty"`
	State            State                   `json:"state"`
	Capabilities     []capability.Capability `json:"capabilities"`
	Energy           float64                 `json:"energy"`
	PerformanceScore float64                 `json:"performance_score"`
	TasksCompleted   int                     `json:"tasks_completed"`
	TasksFailed      int                     `json:"tasks_failed"`
	CurrentTask      string                  `json:"current_task,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	LastActive       time.Time               `json:"last_active"`
	UpdatedAt        time.Time               `json:"updated_at"`
	Version          uint64                  `json:"version"`
}

func (a Agent) Clone() Agent {
	a.Capabilities = capability.Clone(a.Capabilities)
	return a
}

// Definition is what callers submit to register an agent.
type Definition struct {
	Name           string                  `json:"name" yaml:"name"`
	Kind           Kind                    `json:"kind" yaml:"kind"`
	Specialization string                  `json:"specialization,omitempty" yaml:"specialization"`
	Capabilities   []capability.Capability `json:"capabilities" yaml:"capabilities"`
}

// StatusChange is the payload of agent_status_changed.
type StatusChange struct {
	Agent  Agent  `json:"agent"`
	From   State  `json:"from"`
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

// Filter selects agents in queries. Zero fields match everything; removed
// agents are excluded unless IncludeRemoved is set or Removed is listed.
type Filter struct {
	States         []State
	Kinds          []Kind
	Capability     string
	MinProficiency float64
	IncludeRemoved bool
}

func (f Filter) Match(a Agent) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if a.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	} else if a.State == Removed && !f.IncludeRemoved {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if a.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Capability != "" {
		c, ok := capability.Find(a.Capabilities, f.Capability)
		if !ok || c.Proficiency < f.MinProficiency {
			return false
		}
	}
	return true
}
