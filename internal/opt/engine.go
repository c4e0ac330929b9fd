// Package opt implements iterative grid refinement: every round evaluates
// the full Cartesian product of evenly spaced samples, keeps the best
// combination and narrows each parameter's bounds to the neighbours of its
// best sample.
package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/space"
	"github.com/google/uuid"
)

// Defaults used by DefaultConfig.
const (
	DefaultRounds      = 1
	DefaultSampleCount = space.MinSampleCount
)

// Config holds the run configuration.
type Config struct {
	// EvaluatorPath must name an existing executable file.
	EvaluatorPath string

	// Rounds > 0 runs that many rounds, < 0 runs until the context is
	// cancelled and 0 does nothing.
	Rounds int

	// SampleCount is clamped to space.MinSampleCount.
	SampleCount int

	// EstimatedEval is the expected duration of one evaluation, used only to
	// report a projected run time. Zero disables the projection.
	EstimatedEval time.Duration

	// Retry controls malformed-output retries. The zero value retries
	// forever without delay.
	Retry eval.RetryPolicy

	// Precision is the number of decimals used for values passed to the
	// evaluator. 0 uses the shortest exact representation.
	Precision int
}

// DefaultConfig returns a one-round, four-sample configuration.
func DefaultConfig(evaluatorPath string) Config {
	return Config{
		EvaluatorPath: evaluatorPath,
		Rounds:        DefaultRounds,
		SampleCount:   DefaultSampleCount,
	}
}

// Engine drives the refinement loop. It is not safe for concurrent use.
type Engine struct {
	cfg       Config
	space     *space.Space
	evaluator eval.Evaluator
	observer  Observer
	logger    *slog.Logger
	runID     string
	round     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the subprocess evaluator. The evaluator path is
// then not required to exist.
func WithEvaluator(ev eval.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// New validates the configuration and creates an engine with no parameters.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		space:    space.New(cfg.SampleCount),
		observer: NopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.SampleCount = e.space.SampleCount()

	if e.runID == "" {
		e.runID = uuid.New().String()
	}
	e.logger = e.logger.With("run_id", e.runID)

	if e.evaluator == nil {
		precision := cfg.Precision
		if precision <= 0 {
			precision = -1
		}
		cmd, err := eval.NewCommand(cfg.EvaluatorPath, eval.WithPrecision(precision))
		if err != nil {
			return nil, err
		}
		e.evaluator = cmd
	}

	e.evaluator = eval.NewRetrier(e.evaluator, cfg.Retry,
		eval.WithRetryLogger(e.logger),
		eval.OnRetry(func(attempt int, err error) {
			e.observer.Retried(e.round, attempt, err)
		}),
	)

	return e, nil
}

// RunID returns the identifier stamped on logs and results.
func (e *Engine) RunID() string {
	return e.runID
}

// Config returns the effective configuration, with the sample count clamped.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetEstimatedEvalTime sets the per-evaluation estimate used for the
// projected duration.
func (e *Engine) SetEstimatedEvalTime(d time.Duration) {
	e.cfg.EstimatedEval = d
}

// AddParameter registers a parameter with its initial range.
func (e *Engine) AddParameter(name string, low, high float64) error {
	return e.space.Register(name, space.Bounds{Low: low, High: high})
}

// Parameters returns the current bounds of all parameters in registration
// order.
func (e *Engine) Parameters() []ParamBounds {
	params := e.space.Parameters()
	out := make([]ParamBounds, len(params))
	for i, p := range params {
		out[i] = ParamBounds{Name: p.Name, Bounds: p.Bounds}
	}
	return out
}

// Run executes the configured number of rounds. On failure it returns the
// error together with the result of the rounds completed so far. An
// evaluator failure stops the run before any further combination is
// evaluated.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: e.runID}

	if e.cfg.Rounds == 0 {
		return e.finish(res, start, nil)
	}

	info := RunInfo{
		RunID:       e.runID,
		Rounds:      e.cfg.Rounds,
		SampleCount: e.cfg.SampleCount,
		Parameters:  e.Parameters(),
	}
	if e.cfg.Rounds > 0 && e.cfg.EstimatedEval > 0 {
		info.Estimate = EstimateDuration(e.cfg.EstimatedEval, e.cfg.Rounds, e.cfg.SampleCount, e.space.Len())
	}

	e.logger.Info("Starting refinement",
		"rounds", e.cfg.Rounds,
		"samples", e.cfg.SampleCount,
		"parameters", e.space.Len(),
		"estimate", info.Estimate,
	)
	e.observer.RunStarted(info)

	for round := 1; e.cfg.Rounds < 0 || round <= e.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return e.finish(res, start, err)
		}

		rr, err := e.runRound(ctx, round)
		if err != nil {
			return e.finish(res, start, err)
		}

		res.RoundsCompleted = round
		res.Evaluations += rr.Evaluations
		res.BestValue = rr.BestValue
		res.Best = rr.Best
	}

	return e.finish(res, start, nil)
}

func (e *Engine) finish(res *Result, start time.Time, err error) (*Result, error) {
	res.Bounds = e.Parameters()
	res.Elapsed = time.Since(start)

	if err != nil {
		e.logger.Error("Refinement stopped", "rounds_completed", res.RoundsCompleted, "error", err)
	} else {
		e.logger.Info("Refinement complete",
			"rounds_completed", res.RoundsCompleted,
			"evaluations", res.Evaluations,
			"best_value", res.BestValue,
			"elapsed", res.Elapsed,
		)
	}

	if e.cfg.Rounds != 0 {
		e.observer.RunFinished(res, err)
	}
	return res, err
}

// best is the per-round best-so-far state. value, args and indices always
// describe the same combination.
type best struct {
	found   bool
	value   float64
	args    []eval.Arg
	indices []int
}

func (b *best) offer(value float64, args []eval.Arg, indices []int) bool {
	// Strictly greater: the first combination reaching a maximum keeps it.
	// NaN never compares greater, so it never becomes the best.
	if !(value > b.value) {
		return false
	}
	b.found = true
	b.value = value
	b.args = append(b.args[:0], args...)
	b.indices = append(b.indices[:0], indices...)
	return true
}

func (e *Engine) runRound(ctx context.Context, round int) (*RoundResult, error) {
	roundStart := time.Now()
	e.round = round
	e.observer.RoundStarted(round, e.cfg.Rounds)

	names := e.space.Names()
	grid := e.space.Grid()
	n := e.space.SampleCount()

	var state best
	args := make([]eval.Arg, len(names))
	evaluations := 0

	product := e.space.Combinations()
	for product.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		indices := product.Indices()
		for d, name := range names {
			args[d] = eval.Arg{Name: name, Value: grid[d][indices[d]]}
		}

		value, err := e.evaluator.Evaluate(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		evaluations++
		e.observer.Evaluated(round, args, value)

		if state.offer(value, args, indices) {
			e.logger.Debug("New maximum", "round", round, "value", value)
			e.observer.Improved(round, value, cloneArgs(state.args))
		}
	}

	bounds := make([]ParamBounds, len(names))
	for d, name := range names {
		b, err := e.space.Bounds(name)
		if err != nil {
			return nil, err
		}
		if state.found {
			b = narrow(grid[d], state.indices[d], n)
		}
		bounds[d] = ParamBounds{Name: name, Bounds: b}
	}
	for _, pb := range bounds {
		if err := e.space.SetBounds(pb.Name, pb.Bounds); err != nil {
			return nil, err
		}
	}

	rr := &RoundResult{
		Round:       round,
		BestValue:   state.value,
		Improved:    state.found,
		Best:        cloneArgs(state.args),
		Indices:     append([]int(nil), state.indices...),
		Bounds:      bounds,
		Evaluations: evaluations,
		Elapsed:     time.Since(roundStart),
	}

	e.logger.Info("Round complete",
		"round", round,
		"best_value", rr.BestValue,
		"improved", rr.Improved,
		"evaluations", evaluations,
		"elapsed", rr.Elapsed,
	)
	e.observer.RoundFinished(*rr)

	return rr, nil
}

// narrow returns the neighbours of samples[idx], clamped to the sequence ends.
func narrow(samples []float64, idx, n int) space.Bounds {
	return space.Bounds{
		Low:  samples[max(idx-1, 0)],
		High: samples[min(idx+1, n-1)],
	}
}

func cloneArgs(args []eval.Arg) []eval.Arg {
	if len(args) == 0 {
		return nil
	}
	return append([]eval.Arg(nil), args...)
}

// EstimateDuration projects single * rounds * sampleCount^params. The result
// saturates at the largest representable duration.
func EstimateDuration(single time.Duration, rounds, sampleCount, params int) time.Duration {
	if single <= 0 || rounds <= 0 {
		return 0
	}
	total := single.Seconds() * float64(rounds) * math.Pow(float64(sampleCount), float64(params))
	if total >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(total * float64(time.Second))
}
