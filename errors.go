package mqttest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// failure kinds; every error the engine returns wraps exactly one of them
var (
	ErrConnect           = errors.New("connect error")
	ErrTransport         = errors.New("transport error")
	ErrTimeout           = errors.New("timeout error")
	ErrAssertion         = errors.New("assertion error")
	ErrInvalidVerb       = errors.New("invalid definition verb")
	ErrInvalidDefinition = errors.New("invalid test definition")
)

var kinds = []error{
	ErrConnect,
	ErrTransport,
	ErrTimeout,
	ErrAssertion,
	ErrInvalidVerb,
	ErrInvalidDefinition,
}

// ActionError is a failure of one publish or subscribe action. It unwraps
// to both its Kind and the underlying cause.
type ActionError struct {
	Kind    error
	Verb    Verb
	Topic   string
	Timeout time.Duration
	Err     error
}

func (e *ActionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Verb != "" {
		fmt.Fprintf(&b, ": %s", e.Verb)
	}
	if e.Topic != "" {
		fmt.Fprintf(&b, " %q", e.Topic)
	}
	if e.Kind == ErrTimeout {
		fmt.Fprintf(&b, ": no message within %v", e.Timeout)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ActionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StepError is the first failing step of a step set. States is a snapshot
// of every step's settlement taken when the set failed.
type StepError struct {
	Index  int
	Name   string
	States []State
	Err    error
}

func (e *StepError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("step %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrorKind names the failure kind of err, "" for nil and "unknown" for
// errors the engine did not produce.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "unknown"
}
