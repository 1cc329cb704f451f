package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/suite"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // one or more tests failed
	ExitCommandError = 2 // bad flags, unreadable suite, sink errors
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type tally struct {
	passed, failed, skipped int
}

func (t *tally) report(w io.Writer, o suite.Outcome) {
	switch {
	case o.Skipped:
		t.skipped++
		fmt.Fprintf(w, "SKIP %s\n", o.Test.Name())
	case o.Err != nil:
		t.failed++
		fmt.Fprintf(w, "FAIL %s (%s)\n     %s: %v\n",
			o.Test.Name(), o.Duration.Round(time.Millisecond), mqttest.ErrorKind(o.Err), o.Err)
	default:
		t.passed++
		fmt.Fprintf(w, "PASS %s (%s)\n", o.Test.Name(), o.Duration.Round(time.Millisecond))
	}
}

func (t *tally) summary(w io.Writer) error {
	fmt.Fprintf(w, "\n%d passed, %d failed, %d skipped\n", t.passed, t.failed, t.skipped)
	if t.failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d tests failed", t.failed))
	}
	return nil
}
