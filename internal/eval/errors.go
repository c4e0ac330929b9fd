package eval

import (
	"errors"
	"strings"

	"github.com/cwbudde/gridrefine/internal/space"
)

// ErrEvaluatorNotFound is returned when the evaluator path does not name an
// existing executable file. It is a configuration error.
var ErrEvaluatorNotFound = errors.New("evaluator not found")

// ErrMalformedOutput matches any MalformedOutputError via errors.Is.
var ErrMalformedOutput = &MalformedOutputError{}

// MalformedOutputError means the evaluator's standard output was not a
// decimal number. It is recoverable: the same combination is evaluated again.
type MalformedOutputError struct {
	Output string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return "malformed evaluator output: " + strings.TrimSpace(e.Output)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

func (e *MalformedOutputError) Is(target error) bool {
	_, ok := target.(*MalformedOutputError)
	return ok
}

// EvaluatorFailure is returned when the evaluator wrote anything to standard
// error. It terminates the whole run.
type EvaluatorFailure struct {
	Stderr string
	Args   []Arg
}

func (e *EvaluatorFailure) Error() string {
	return "evaluator failed: " + strings.TrimSpace(e.Stderr)
}

func (e *EvaluatorFailure) Is(target error) bool {
	_, ok := target.(*EvaluatorFailure)
	return ok
}

// notFound wraps ErrEvaluatorNotFound as a space.ConfigError so callers can
// test for configuration errors uniformly.
func notFound(path string, cause error) error {
	err := ErrEvaluatorNotFound
	if cause != nil {
		err = errors.Join(ErrEvaluatorNotFound, cause)
	}
	return &space.ConfigError{Param: "evaluator " + path, Err: err}
}
