package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/opt"
	"github.com/cwbudde/gridrefine/internal/space"
)

// RunConfig is the configuration a run started with.
type RunConfig struct {
	Evaluator   string            `json:"evaluator"`
	Rounds      int               `json:"rounds"`
	SampleCount int               `json:"sampleCount"`
	Parameters  []opt.ParamBounds `json:"parameters"` // initial bounds, registration order
}

// RunRecord is the persisted outcome of a run.
//
// It is a report, not a checkpoint: nothing about an interrupted round is
// kept. Bounds are the narrowed bounds after the last completed round, so a
// new run can be started from them (see IsCompatible).
type RunRecord struct {
	RunID           string            `json:"runId"`
	Config          RunConfig         `json:"config"`
	RoundsCompleted int               `json:"roundsCompleted"`
	Evaluations     int               `json:"evaluations"`
	BestValue       float64           `json:"bestValue"`
	Best            []eval.Arg        `json:"best,omitempty"`
	Bounds          []opt.ParamBounds `json:"bounds"`
	Elapsed         time.Duration     `json:"elapsed"`
	Timestamp       time.Time         `json:"timestamp"`

	// Error is the message of the error that stopped the run, if any.
	Error string `json:"error,omitempty"`
}

// RunInfo is run metadata without bounds or assignments, used for listings.
type RunInfo struct {
	RunID           string    `json:"runId"`
	Evaluator       string    `json:"evaluator"`
	Parameters      int       `json:"parameters"`
	RoundsCompleted int       `json:"roundsCompleted"`
	BestValue       float64   `json:"bestValue"`
	Timestamp       time.Time `json:"timestamp"`
	Failed          bool      `json:"failed"`
}

// NewRunRecord builds a record from a run result and the error it returned.
func NewRunRecord(cfg RunConfig, res *opt.Result, runErr error) *RunRecord {
	rec := &RunRecord{
		Config:    cfg,
		Timestamp: time.Now(),
	}
	if res != nil {
		rec.RunID = res.RunID
		rec.RoundsCompleted = res.RoundsCompleted
		rec.Evaluations = res.Evaluations
		rec.BestValue = res.BestValue
		rec.Best = res.Best
		rec.Bounds = res.Bounds
		rec.Elapsed = res.Elapsed
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:           r.RunID,
		Evaluator:       r.Config.Evaluator,
		Parameters:      len(r.Config.Parameters),
		RoundsCompleted: r.RoundsCompleted,
		BestValue:       r.BestValue,
		Timestamp:       r.Timestamp,
		Failed:          r.Error != "",
	}
}

// Validate checks if the record has valid data.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Config.Evaluator == "" {
		return &ValidationError{Field: "Config.Evaluator", Reason: "cannot be empty"}
	}
	if r.Config.SampleCount < space.MinSampleCount {
		return &ValidationError{
			Field:  "Config.SampleCount",
			Reason: fmt.Sprintf("must be at least %d", space.MinSampleCount),
		}
	}
	if r.RoundsCompleted < 0 {
		return &ValidationError{Field: "RoundsCompleted", Reason: "cannot be negative"}
	}
	if r.Evaluations < 0 {
		return &ValidationError{Field: "Evaluations", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if len(r.Bounds) != len(r.Config.Parameters) {
		return &ValidationError{
			Field:  "Bounds",
			Reason: fmt.Sprintf("length mismatch: expected %d parameters", len(r.Config.Parameters)),
		}
	}
	for i, b := range r.Bounds {
		if b.Name != r.Config.Parameters[i].Name {
			return &ValidationError{
				Field:  "Bounds",
				Reason: fmt.Sprintf("parameter %d is %q, expected %q", i, b.Name, r.Config.Parameters[i].Name),
			}
		}
		if b.Low > b.High {
			return &ValidationError{Field: "Bounds", Reason: "low exceeds high for " + b.Name}
		}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a new run with the given configuration can
// start from this record's final bounds: same evaluator and the same
// parameters in the same order.
func (r *RunRecord) IsCompatible(cfg RunConfig) error {
	if r.Config.Evaluator != cfg.Evaluator {
		return &CompatibilityError{
			Field:    "Evaluator",
			Expected: r.Config.Evaluator,
			Actual:   cfg.Evaluator,
		}
	}
	if len(r.Bounds) != len(cfg.Parameters) {
		return &CompatibilityError{
			Field:    "Parameters",
			Expected: fmt.Sprintf("%d", len(r.Bounds)),
			Actual:   fmt.Sprintf("%d", len(cfg.Parameters)),
		}
	}
	for i, b := range r.Bounds {
		if b.Name != cfg.Parameters[i].Name {
			return &CompatibilityError{
				Field:    fmt.Sprintf("Parameters[%d]", i),
				Expected: b.Name,
				Actual:   cfg.Parameters[i].Name,
			}
		}
	}
	return nil
}

// CompatibilityError represents a run record compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
