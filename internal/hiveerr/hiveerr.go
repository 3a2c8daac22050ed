// Package hiveerr defines the error kinds returned by the orchestration core.
package hiveerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	DuplicateName
	InvalidTransition
	AgentBusy
	NotFound
	Conflict
	Fatal
)

var kindNames = map[Kind]string{
	Internal:          "internal",
	Validation:        "validation",
	DuplicateName:     "duplicate_name",
	InvalidTransition: "invalid_transition",
	AgentBusy:         "agent_busy",
	NotFound:          "not_found",
	Conflict:          "conflict",
	Fatal:             "fatal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: Validation}
	ErrDuplicateName     = &Error{Kind: DuplicateName}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrAgentBusy         = &Error{Kind: AgentBusy}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrConflict          = &Error{Kind: Conflict}
	ErrFatal             = &Error{Kind: Fatal}
)

// Error is a caller-facing rejection with a kind and a human readable reason.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Reason returns the human readable part of err without the op prefix.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ParseKind maps a kind name back to its Kind. Unknown names are Internal.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return Internal
}
