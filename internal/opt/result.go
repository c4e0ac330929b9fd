package opt

import (
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/space"
)

// ParamBounds names a parameter's bounds.
type ParamBounds struct {
	Name string `json:"name"`
	space.Bounds
}

// RoundResult is the outcome of one refinement round.
type RoundResult struct {
	Round int `json:"round"`

	// BestValue is the round maximum, seeded at 0. If no evaluation scored
	// above 0, Improved is false, Best is empty and Bounds are unchanged.
	BestValue float64    `json:"bestValue"`
	Improved  bool       `json:"improved"`
	Best      []eval.Arg `json:"best,omitempty"`

	// Indices holds the position of each best value within its parameter's
	// sample sequence, in registration order.
	Indices []int `json:"indices,omitempty"`

	// Bounds are the narrowed bounds applied for the next round.
	Bounds []ParamBounds `json:"bounds"`

	Evaluations int           `json:"evaluations"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Result summarises a run.
type Result struct {
	RunID           string        `json:"runId"`
	RoundsCompleted int           `json:"roundsCompleted"`
	Evaluations     int           `json:"evaluations"`
	BestValue       float64       `json:"bestValue"`
	Best            []eval.Arg    `json:"best,omitempty"`
	Bounds          []ParamBounds `json:"bounds"`
	Elapsed         time.Duration `json:"elapsed"`
}

// RunInfo describes a run about to start.
type RunInfo struct {
	RunID       string
	Rounds      int
	SampleCount int
	Parameters  []ParamBounds

	// Estimate is the projected duration, or 0 when no per-evaluation
	// estimate is configured or the run is unbounded.
	Estimate time.Duration
}

// Unbounded reports whether the run loops until cancelled.
func (ri RunInfo) Unbounded() bool {
	return ri.Rounds < 0
}
