// Package eval runs the external evaluation program and applies the retry
// policy for malformed output.
package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Arg is one parameter assignment passed to the evaluator.
type Arg struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

// Evaluator scores one combination of parameter values.
type Evaluator interface {
	Evaluate(ctx context.Context, args []Arg) (float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, args []Arg) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, args []Arg) (float64, error) {
	return f(ctx, args)
}

// Command evaluates combinations by spawning an executable as
//
//	path name1 value1 name2 value2 ...
//
// and reading a single decimal number from its standard output. Anything on
// standard error is fatal. The exit code is not inspected and there is no
// per-invocation timeout; only ctx cancellation stops a hung evaluator.
type Command struct {
	path      string
	precision int
}

// CommandOption configures a Command.
type CommandOption func(*Command)

// WithPrecision sets the number of decimals used when formatting values.
// A negative precision uses the shortest exact representation.
func WithPrecision(digits int) CommandOption {
	return func(c *Command) {
		c.precision = digits
	}
}

// NewCommand validates that path is an existing executable file.
func NewCommand(path string, opts ...CommandOption) (*Command, error) {
	if err := CheckExecutable(path); err != nil {
		return nil, err
	}

	c := &Command{path: path, precision: -1}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckExecutable reports ErrEvaluatorNotFound unless path is a regular file
// with an execute bit set. The bit is not checked on Windows.
func CheckExecutable(path string) error {
	if path == "" {
		return notFound(path, nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return notFound(path, err)
	}
	if !info.Mode().IsRegular() {
		return notFound(path, fmt.Errorf("not a regular file"))
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return notFound(path, fmt.Errorf("not executable"))
	}
	return nil
}

// Path returns the evaluator path.
func (c *Command) Path() string {
	return c.path
}

// Argv returns the argument list for a combination, excluding the program.
func (c *Command) Argv(args []Arg) []string {
	argv := make([]string, 0, 2*len(args))
	for _, a := range args {
		argv = append(argv, a.Name, FormatValue(a.Value, c.precision))
	}
	return argv
}

// Evaluate runs the evaluator once for the given combination.
func (c *Command) Evaluate(ctx context.Context, args []Arg) (float64, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.path, c.Argv(args)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("failed to run evaluator %s: %w", c.path, err)
		}
	}

	if stderr.Len() > 0 {
		return 0, &EvaluatorFailure{
			Stderr: stderr.String(),
			Args:   append([]Arg(nil), args...),
		}
	}

	return ParseScore(stdout.String())
}

// ParseScore parses evaluator output as a decimal number. Values beyond the
// float64 range parse to ±Inf rather than failing.
func ParseScore(out string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &MalformedOutputError{Output: out, Err: err}
	}
	return value, nil
}

// FormatValue formats a sample value as decimal text.
func FormatValue(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}
