// Package config loads refinement studies from YAML files and parses the
// parameter flags of the command line.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/opt"
	"github.com/cwbudde/gridrefine/internal/space"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Study describes a complete refinement run.
type Study struct {
	Evaluator  string      `yaml:"evaluator" validate:"required"`
	Rounds     int         `yaml:"rounds"`
	Samples    int         `yaml:"samples" validate:"gte=0"`
	Precision  int         `yaml:"precision" validate:"gte=0"`
	Estimate   string      `yaml:"estimate,omitempty"`
	Retry      RetryConfig `yaml:"retry"`
	Parameters []ParamSpec `yaml:"parameters" validate:"dive"`
}

// RetryConfig controls how malformed evaluator output is retried.
// MaxRetries 0 retries forever.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries" validate:"gte=0"`
	Backoff    string `yaml:"backoff" validate:"omitempty,oneof=none constant linear exponential"`
	BaseMs     int    `yaml:"base_ms" validate:"gte=0"`
	MaxMs      int    `yaml:"max_ms" validate:"gte=0"`
}

// ParamSpec is one parameter with its initial range as [low, high].
type ParamSpec struct {
	Name  string    `yaml:"name" validate:"required"`
	Range []float64 `yaml:"range"`
}

var validate = validator.New()

// DefaultStudy returns a study with the engine defaults and no parameters.
func DefaultStudy() *Study {
	return &Study{
		Rounds:  opt.DefaultRounds,
		Samples: opt.DefaultSampleCount,
	}
}

// LoadStudy loads and parses a study file
func LoadStudy(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file %s: %w", path, err)
	}
	study, err := ParseStudyYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse study file %s: %w", path, err)
	}
	return study, nil
}

// ParseStudyYAML parses a Study from YAML bytes and validates it. Keys
// missing from the document keep their DefaultStudy values.
func ParseStudyYAML(data []byte) (*Study, error) {
	study := DefaultStudy()
	if err := yaml.Unmarshal(data, study); err != nil {
		return nil, fmt.Errorf("failed to parse study yaml: %w", err)
	}

	if err := study.Validate(); err != nil {
		return nil, fmt.Errorf("invalid study: %w", err)
	}

	return study, nil
}

// Validate checks struct constraints, then the parameter ranges the way the
// engine will register them.
func (s *Study) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}

	if _, err := s.EstimateDuration(); err != nil {
		return err
	}

	sp := space.New(s.Samples)
	for _, p := range s.Parameters {
		if err := sp.RegisterRange(p.Name, p.Range); err != nil {
			return err
		}
	}
	return nil
}

// EstimateDuration parses the estimate field. An empty estimate is zero.
func (s *Study) EstimateDuration() (time.Duration, error) {
	if s.Estimate == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Estimate)
	if err != nil {
		return 0, fmt.Errorf("invalid estimate %q: %w", s.Estimate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid estimate %q: must not be negative", s.Estimate)
	}
	return d, nil
}

// RetryPolicy builds the evaluator retry policy.
func (s *Study) RetryPolicy() eval.RetryPolicy {
	return eval.RetryPolicy{
		MaxRetries: s.Retry.MaxRetries,
		Backoff:    eval.BackoffFromConfig(s.Retry.Backoff, s.Retry.BaseMs, s.Retry.MaxMs),
	}
}

// EngineConfig converts the study to an engine configuration.
func (s *Study) EngineConfig() (opt.Config, error) {
	estimate, err := s.EstimateDuration()
	if err != nil {
		return opt.Config{}, err
	}
	return opt.Config{
		EvaluatorPath: s.Evaluator,
		Rounds:        s.Rounds,
		SampleCount:   s.Samples,
		EstimatedEval: estimate,
		Retry:         s.RetryPolicy(),
		Precision:     s.Precision,
	}, nil
}

// Apply registers the study parameters on the engine in file order.
func (s *Study) Apply(e *opt.Engine) error {
	for _, p := range s.Parameters {
		if len(p.Range) != 2 {
			return &space.ConfigError{Param: p.Name, Err: space.ErrMissingRange}
		}
		if err := e.AddParameter(p.Name, p.Range[0], p.Range[1]); err != nil {
			return err
		}
	}
	return nil
}

// ParseParamFlag parses "name=low:high". The name may itself contain '=';
// the last one separates it from the range.
func ParseParamFlag(s string) (ParamSpec, error) {
	i := strings.LastIndex(s, "=")
	if i <= 0 {
		return ParamSpec{}, &space.ConfigError{Param: s, Err: space.ErrMissingRange}
	}
	name := strings.TrimSpace(s[:i])
	lowText, highText, ok := strings.Cut(s[i+1:], ":")
	if !ok || name == "" {
		return ParamSpec{}, &space.ConfigError{Param: name, Err: space.ErrMissingRange}
	}

	low, err := strconv.ParseFloat(strings.TrimSpace(lowText), 64)
	if err != nil {
		return ParamSpec{}, &space.ConfigError{Param: name, Err: fmt.Errorf("invalid low value %q", lowText)}
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(highText), 64)
	if err != nil {
		return ParamSpec{}, &space.ConfigError{Param: name, Err: fmt.Errorf("invalid high value %q", highText)}
	}

	return ParamSpec{Name: name, Range: []float64{low, high}}, nil
}
