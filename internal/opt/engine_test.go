package opt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder keeps every notification for inspection.
type recorder struct {
	NopObserver
	info      *RunInfo
	started   []int
	evaluated [][]eval.Arg
	retried   int
	improved  []float64
	rounds    []RoundResult
	finished  bool
	finalErr  error
}

func (r *recorder) RunStarted(info RunInfo)       { r.info = &info }
func (r *recorder) RoundStarted(round, total int) { r.started = append(r.started, round) }
func (r *recorder) Retried(round, attempt int, err error) {
	r.retried++
}
func (r *recorder) Evaluated(round int, args []eval.Arg, value float64) {
	r.evaluated = append(r.evaluated, append([]eval.Arg(nil), args...))
}
func (r *recorder) Improved(round int, value float64, best []eval.Arg) {
	r.improved = append(r.improved, value)
}
func (r *recorder) RoundFinished(rr RoundResult) { r.rounds = append(r.rounds, rr) }
func (r *recorder) RunFinished(res *Result, err error) {
	r.finished = true
	r.finalErr = err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config, ev eval.EvaluatorFunc) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := New(cfg, WithEvaluator(ev), WithObserver(rec), WithLogger(quietLogger()))
	require.NoError(t, err)
	return e, rec
}

func identity(ctx context.Context, args []eval.Arg) (float64, error) {
	return args[0].Value, nil
}

func TestRun_IdentitySelectsUpperEndpoint(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig(""), identity)
	require.NoError(t, e.AddParameter("x", 0, 1))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.rounds, 1)
	rr := rec.rounds[0]
	assert.Equal(t, 1.0, rr.BestValue)
	assert.True(t, rr.Improved)
	assert.Equal(t, []int{3}, rr.Indices)
	assert.Equal(t, 4, rr.Evaluations)

	require.Len(t, rr.Bounds, 1)
	assert.InDelta(t, 0.6667, rr.Bounds[0].Low, 1e-4)
	assert.Equal(t, 1.0, rr.Bounds[0].High)

	assert.Equal(t, 1, res.RoundsCompleted)
	assert.Equal(t, 1.0, res.BestValue)
	assert.Equal(t, []eval.Arg{{Name: "x", Value: 1}}, res.Best)
	assert.Equal(t, rr.Bounds, res.Bounds)

	// 0 never beats the seed, 1/3, 2/3 and 1 each improve
	assert.InDeltaSlice(t, []float64{1.0 / 3, 2.0 / 3, 1}, rec.improved, 1e-12)
}

func TestRun_ZeroScoresKeepBounds(t *testing.T) {
	zero := func(ctx context.Context, args []eval.Arg) (float64, error) { return 0, nil }
	e, rec := newTestEngine(t, DefaultConfig(""), zero)
	require.NoError(t, e.AddParameter("a", 0, 1))
	require.NoError(t, e.AddParameter("b", -2, 2))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.rounds, 1)
	rr := rec.rounds[0]
	assert.Equal(t, 0.0, rr.BestValue)
	assert.False(t, rr.Improved)
	assert.Empty(t, rr.Best)
	assert.Empty(t, rr.Indices)
	assert.Empty(t, rec.improved)

	assert.Equal(t, []ParamBounds{
		{Name: "a", Bounds: space.Bounds{Low: 0, High: 1}},
		{Name: "b", Bounds: space.Bounds{Low: -2, High: 2}},
	}, res.Bounds)
}

func TestRun_NegativeScoresNeverImprove(t *testing.T) {
	negative := func(ctx context.Context, args []eval.Arg) (float64, error) { return -args[0].Value - 1, nil }
	e, rec := newTestEngine(t, DefaultConfig(""), negative)
	require.NoError(t, e.AddParameter("x", 0, 1))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.BestValue)
	assert.False(t, rec.rounds[0].Improved)
	assert.Equal(t, space.Bounds{Low: 0, High: 1}, res.Bounds[0].Bounds)
}

func TestRun_TwoParametersLexicographicOrder(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig(""), func(ctx context.Context, args []eval.Arg) (float64, error) {
		return 1, nil
	})
	require.NoError(t, e.AddParameter("p1", 0, 3))
	require.NoError(t, e.AddParameter("p2", 10, 13))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.evaluated, 16)
	k := 0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			args := rec.evaluated[k]
			require.Len(t, args, 2)
			assert.Equal(t, "p1", args[0].Name)
			assert.Equal(t, "p2", args[1].Name)
			assert.InDelta(t, float64(i), args[0].Value, 1e-12)
			assert.InDelta(t, float64(10+j), args[1].Value, 1e-12)
			k++
		}
	}
}

func TestRun_TieKeepsFirstOccurrence(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig(""), func(ctx context.Context, args []eval.Arg) (float64, error) {
		return 5, nil
	})
	require.NoError(t, e.AddParameter("a", 0, 3))
	require.NoError(t, e.AddParameter("b", 0, 3))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	rr := rec.rounds[0]
	assert.Equal(t, []int{0, 0}, rr.Indices)
	assert.Equal(t, []float64{5}, rec.improved)
	for _, pb := range res.Bounds {
		assert.Equal(t, 0.0, pb.Low)
		assert.InDelta(t, 1.0, pb.High, 1e-12)
	}
}

func TestRun_NaNScoreNeverBecomesBest(t *testing.T) {
	scores := []float64{5, math.NaN(), 1, 0.5}
	calls := 0
	e, rec := newTestEngine(t, DefaultConfig(""), func(ctx context.Context, args []eval.Arg) (float64, error) {
		v := scores[calls]
		calls++
		return v, nil
	})
	require.NoError(t, e.AddParameter("x", 0, 3))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	rr := rec.rounds[0]
	assert.Equal(t, 5.0, rr.BestValue)
	assert.Equal(t, []int{0}, rr.Indices)
	assert.Equal(t, []float64{5}, rec.improved)
	assert.Equal(t, space.Bounds{Low: 0, High: 1}, res.Bounds[0].Bounds)
}

func TestRun_NoParametersEvaluatesOnce(t *testing.T) {
	var got [][]eval.Arg
	cfg := DefaultConfig("")
	cfg.Rounds = 2
	cfg.EstimatedEval = time.Second
	e, rec := newTestEngine(t, cfg, func(ctx context.Context, args []eval.Arg) (float64, error) {
		got = append(got, args)
		return 2, nil
	})

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Empty(t, got[0])
	assert.Equal(t, 2, res.Evaluations)
	assert.Equal(t, 2.0, res.BestValue)
	assert.Empty(t, res.Bounds)
	assert.Equal(t, 2*time.Second, rec.info.Estimate)
}

func TestRun_InteriorOptimumNarrowsBothSides(t *testing.T) {
	parabola := func(ctx context.Context, args []eval.Arg) (float64, error) {
		d := args[0].Value - 0.3
		return 100 - 100*d*d, nil
	}
	cfg := DefaultConfig("")
	cfg.Rounds = 4
	cfg.SampleCount = 5
	e, rec := newTestEngine(t, cfg, parabola)
	require.NoError(t, e.AddParameter("x", 0, 1))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.RoundsCompleted)
	assert.Equal(t, 20, res.Evaluations)
	assert.Equal(t, []int{1, 2, 3, 4}, rec.started)

	// First round: samples 0, .25, .5, .75, 1 -> best .25 -> (0, .5)
	assert.Equal(t, space.Bounds{Low: 0, High: 0.5}, rec.rounds[0].Bounds[0].Bounds)

	final := res.Bounds[0]
	assert.LessOrEqual(t, final.Low, 0.3)
	assert.GreaterOrEqual(t, final.High, 0.3)
	assert.Less(t, final.High-final.Low, 0.1)

	for i := 1; i < len(rec.rounds); i++ {
		prev := rec.rounds[i-1].Bounds[0]
		cur := rec.rounds[i].Bounds[0]
		assert.GreaterOrEqual(t, cur.Low, prev.Low)
		assert.LessOrEqual(t, cur.High, prev.High)
	}
}

func TestRun_EvaluatorFailureStopsImmediately(t *testing.T) {
	calls := 0
	failure := &eval.EvaluatorFailure{Stderr: "segfault\n"}
	e, rec := newTestEngine(t, DefaultConfig(""), func(ctx context.Context, args []eval.Arg) (float64, error) {
		calls++
		if calls == 3 {
			return 0, failure
		}
		return 1, nil
	})
	require.NoError(t, e.AddParameter("a", 0, 1))
	require.NoError(t, e.AddParameter("b", 0, 1))

	res, err := e.Run(context.Background())
	require.Error(t, err)

	var got *eval.EvaluatorFailure
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "segfault\n", got.Stderr)

	assert.Equal(t, 3, calls)
	assert.Empty(t, rec.rounds)
	assert.True(t, rec.finished)
	assert.Equal(t, err, rec.finalErr)

	require.NotNil(t, res)
	assert.Equal(t, 0, res.RoundsCompleted)
	// Bounds are not narrowed by an aborted round
	assert.Equal(t, space.Bounds{Low: 0, High: 1}, res.Bounds[0].Bounds)
}

func TestRun_MalformedOutputRetriesSameCombination(t *testing.T) {
	calls := 0
	e, rec := newTestEngine(t, DefaultConfig(""), func(ctx context.Context, args []eval.Arg) (float64, error) {
		calls++
		if calls <= 2 {
			return 0, &eval.MalformedOutputError{Output: "abc"}
		}
		return args[0].Value, nil
	})
	require.NoError(t, e.AddParameter("x", 0, 1))

	// Record raw invocations underneath the retrier
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, calls)
	assert.Equal(t, 2, rec.retried)
	assert.Len(t, rec.evaluated, 4)
	assert.Equal(t, 0.0, rec.evaluated[0][0].Value)
}

func TestRun_RetryLimitExhausted(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Retry = eval.RetryPolicy{MaxRetries: 3}
	calls := 0
	e, _ := newTestEngine(t, cfg, func(ctx context.Context, args []eval.Arg) (float64, error) {
		calls++
		return 0, &eval.MalformedOutputError{Output: "nan?"}
	})
	require.NoError(t, e.AddParameter("x", 0, 1))

	_, err := e.Run(context.Background())
	assert.True(t, errors.Is(err, eval.ErrMalformedOutput))
	assert.Equal(t, 4, calls)
}

func TestRun_ZeroRoundsIsNoOp(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Rounds = 0
	calls := 0
	e, rec := newTestEngine(t, cfg, func(ctx context.Context, args []eval.Arg) (float64, error) {
		calls++
		return 1, nil
	})
	require.NoError(t, e.AddParameter("x", 0, 1))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, res.RoundsCompleted)
	assert.Nil(t, rec.info)
	assert.False(t, rec.finished)
}

func TestRun_UnboundedUntilCancelled(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Rounds = -1
	cfg.EstimatedEval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	e, rec := newTestEngine(t, cfg, func(ctx context.Context, args []eval.Arg) (float64, error) {
		calls++
		if calls == 10 {
			cancel()
		}
		return args[0].Value, nil
	})
	require.NoError(t, e.AddParameter("x", 0, 1))

	res, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, calls)
	assert.Equal(t, 2, res.RoundsCompleted)

	require.NotNil(t, rec.info)
	assert.True(t, rec.info.Unbounded())
	assert.Equal(t, time.Duration(0), rec.info.Estimate)
}

func TestRun_ReportsEstimate(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Rounds = 3
	e, rec := newTestEngine(t, cfg, identity)
	e.SetEstimatedEvalTime(2 * time.Second)
	require.NoError(t, e.AddParameter("a", 0, 1))
	require.NoError(t, e.AddParameter("b", 0, 1))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, rec.info)
	assert.Equal(t, 96*time.Second, rec.info.Estimate)
	assert.Equal(t, 4, rec.info.SampleCount)
	assert.Len(t, rec.info.Parameters, 2)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 96*time.Second, EstimateDuration(2*time.Second, 3, 4, 2))
	assert.Equal(t, 500*time.Millisecond, EstimateDuration(500*time.Millisecond, 1, 4, 0))
	assert.Equal(t, time.Duration(0), EstimateDuration(0, 3, 4, 2))
	assert.Equal(t, time.Duration(0), EstimateDuration(time.Second, -1, 4, 2))
	assert.Equal(t, time.Duration(1<<63-1), EstimateDuration(time.Hour, 1000, 100, 50))
}

func TestNew_EvaluatorNotFound(t *testing.T) {
	_, err := New(DefaultConfig(filepath.Join(t.TempDir(), "missing")), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, eval.ErrEvaluatorNotFound))
	assert.True(t, errors.Is(err, space.ErrConfiguration))
}

func TestNew_ClampsSampleCount(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.SampleCount = 2
	e, _ := newTestEngine(t, cfg, identity)
	assert.Equal(t, 4, e.Config().SampleCount)
	assert.NotEmpty(t, e.RunID())
}

func TestNew_RunID(t *testing.T) {
	e, err := New(DefaultConfig(""), WithEvaluator(eval.EvaluatorFunc(identity)), WithRunID("fixed"), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.RunID())

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.RunID)
}

func TestAddParameter_Errors(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(""), identity)
	require.NoError(t, e.AddParameter("x", 0, 1))

	err := e.AddParameter("x", 0, 1)
	assert.True(t, errors.Is(err, space.ErrDuplicateParameter))
	assert.True(t, errors.Is(err, space.ErrConfiguration))

	err = e.AddParameter("y", 1, 0)
	assert.True(t, errors.Is(err, space.ErrInvalidRange))

	assert.NoError(t, e.AddParameter("z", 2, 2))
	assert.Len(t, e.Parameters(), 2)
}

func TestRun_WithScriptEvaluator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell evaluators are not supported on windows")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := filepath.Join(dir, "identity.sh")
	body := "#!/bin/sh\nprintf '%s\\n' \"$*\" >> \"" + logPath + "\"\necho \"$2\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	cfg := DefaultConfig(script)
	cfg.Precision = 4
	e, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, e.AddParameter("-m", 0, 1))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.BestValue)
	assert.InDelta(t, 0.6667, res.Bounds[0].Low, 1e-4)
	assert.Equal(t, 1.0, res.Bounds[0].High)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "-m 0.0000\n-m 0.3333\n-m 0.6667\n-m 1.0000\n", string(data))
}

func TestRun_ScriptStderrTerminates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell evaluators are not supported on windows")
	}
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	script := filepath.Join(dir, "fail.sh")
	body := "#!/bin/sh\necho x >> \"" + counter + "\"\necho 'broken' >&2\necho 1\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	e, err := New(DefaultConfig(script), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, e.AddParameter("a", 0, 1))
	require.NoError(t, e.AddParameter("b", 0, 1))

	_, err = e.Run(context.Background())
	var failure *eval.EvaluatorFailure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Stderr, "broken")

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}
