package hiveerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(DuplicateName, "register", "name %q already in use", "alpha")
	if !errors.Is(err, ErrDuplicateName) {
		t.Error("expected errors.Is to match ErrDuplicateName")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("did not expect match on ErrValidation")
	}

	wrapped := fmt.Errorf("create agent: %w", err)
	if !errors.Is(wrapped, ErrDuplicateName) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
	if KindOf(wrapped) != DuplicateName {
		t.Errorf("expected kind duplicate_name, got %s", KindOf(wrapped))
	}
}

func TestErrorString(t *testing.T) {
	err := New(AgentBusy, "remove", "agent is running task %s", "t1")
	want := "remove: agent_busy: agent is running task t1"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if Reason(err) != "agent is running task t1" {
		t.Errorf("unexpected reason %q", Reason(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != Internal {
		t.Error("expected internal kind for plain error")
	}
	if Reason(nil) != "" {
		t.Error("expected empty reason for nil")
	}
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		if got := ParseKind(name); got != k {
			t.Errorf("ParseKind(%q) = %s, want %s", name, got, k)
		}
	}
	if ParseKind("bogus") != Internal {
		t.Error("expected internal for unknown kind name")
	}
}
