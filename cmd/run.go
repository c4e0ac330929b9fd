package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/gridrefine/internal/config"
	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/metrics"
	"github.com/cwbudde/gridrefine/internal/opt"
	"github.com/cwbudde/gridrefine/internal/space"
	"github.com/cwbudde/gridrefine/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	evaluatorPath string
	rounds        int
	samples       int
	precision     int
	estimate      time.Duration
	paramFlags    []string
	studyPath     string
	maxRetries    int
	backoffKind   string
	backoffBaseMs int
	backoffMaxMs  int
	runDataDir    string
	metricsFile   string
	fromRun       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a grid refinement",
	Long: `Runs the evaluator once per grid combination for every round and prints
the best combination and the narrowed ranges after each round.

Parameters come from --param name=low:high (repeatable, in order) or from the
parameters list of a --config study file. Explicit flags override the file.
With --rounds -1 the run continues until interrupted with Ctrl-C.`,
	RunE: runRefinement,
}

func init() {
	runCmd.Flags().StringVar(&evaluatorPath, "evaluator", "", "Path to the evaluator executable")
	runCmd.Flags().IntVar(&rounds, "rounds", opt.DefaultRounds, "Number of rounds (-1 = until interrupted)")
	runCmd.Flags().IntVar(&samples, "samples", opt.DefaultSampleCount, "Samples per parameter and round (minimum 4)")
	runCmd.Flags().IntVar(&precision, "precision", 0, "Decimals passed to the evaluator (0 = shortest representation)")
	runCmd.Flags().DurationVar(&estimate, "estimate", 0, "Expected duration of one evaluation, used for the time estimation")
	runCmd.Flags().StringArrayVar(&paramFlags, "param", nil, "Parameter as name=low:high (repeatable)")
	runCmd.Flags().StringVar(&studyPath, "config", "", "YAML study file")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries after malformed evaluator output (0 = unlimited)")
	runCmd.Flags().StringVar(&backoffKind, "backoff", "none", "Delay between retries: none, constant, linear, exponential")
	runCmd.Flags().IntVar(&backoffBaseMs, "backoff-base-ms", 100, "Base retry delay in milliseconds")
	runCmd.Flags().IntVar(&backoffMaxMs, "backoff-max-ms", 0, "Maximum retry delay in milliseconds (0 = 30s)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Directory for run records and traces (empty = disabled)")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	runCmd.Flags().StringVar(&fromRun, "from-run", "", "Start from the final ranges of a stored run (requires --data-dir)")

	rootCmd.AddCommand(runCmd)
}

func runRefinement(cmd *cobra.Command, args []string) error {
	study, err := buildStudy(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = executeRun(ctx, cmd, study)

	var failure *eval.EvaluatorFailure
	switch {
	case errors.As(err, &failure):
		fmt.Fprintf(cmd.ErrOrStderr(), "[ERROR]: %s\n", failure.Stderr)
		return &reportedError{err: err}
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(cmd.OutOrStdout(), "Interrupted.")
		return nil
	}
	return err
}

// reportedError marks an error already shown to the user. main exits
// non-zero without printing it again.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string {
	return e.err.Error()
}

func (e *reportedError) Unwrap() error {
	return e.err
}

// buildStudy merges the study file with the flags set on the command line.
func buildStudy(cmd *cobra.Command) (*config.Study, error) {
	study := config.DefaultStudy()
	if studyPath != "" {
		loaded, err := config.LoadStudy(studyPath)
		if err != nil {
			return nil, err
		}
		study = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("evaluator") || studyPath == "" {
		study.Evaluator = evaluatorPath
	}
	if flags.Changed("rounds") || studyPath == "" {
		study.Rounds = rounds
	}
	if flags.Changed("samples") || studyPath == "" {
		study.Samples = samples
	}
	if flags.Changed("precision") {
		study.Precision = precision
	}
	if flags.Changed("estimate") {
		study.Estimate = estimate.String()
	}
	if flags.Changed("max-retries") {
		study.Retry.MaxRetries = maxRetries
	}
	if flags.Changed("backoff") || studyPath == "" {
		study.Retry.Backoff = backoffKind
	}
	if flags.Changed("backoff-base-ms") || studyPath == "" {
		study.Retry.BaseMs = backoffBaseMs
	}
	if flags.Changed("backoff-max-ms") {
		study.Retry.MaxMs = backoffMaxMs
	}

	if len(paramFlags) > 0 {
		study.Parameters = study.Parameters[:0]
		for _, p := range paramFlags {
			param, err := config.ParseParamFlag(p)
			if err != nil {
				return nil, err
			}
			study.Parameters = append(study.Parameters, param)
		}
	}

	if err := study.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}
	if len(study.Parameters) == 0 {
		return nil, &space.ConfigError{Err: errors.New("at least one parameter is required")}
	}
	return study, nil
}

func executeRun(ctx context.Context, cmd *cobra.Command, study *config.Study) error {
	log := slog.Default()
	runID := uuid.New().String()

	cfg, err := study.EngineConfig()
	if err != nil {
		return err
	}

	initial := make([]opt.ParamBounds, len(study.Parameters))
	for i, p := range study.Parameters {
		initial[i] = opt.ParamBounds{Name: p.Name, Bounds: space.Bounds{Low: p.Range[0], High: p.Range[1]}}
	}
	runCfg := store.RunConfig{
		Evaluator:   study.Evaluator,
		Rounds:      study.Rounds,
		SampleCount: space.ClampSampleCount(study.Samples),
		Parameters:  initial,
	}

	observers := opt.MultiObserver{opt.NewTextReporter(cmd.OutOrStdout())}

	var runStore *store.FSStore
	if runDataDir != "" {
		runStore, err = store.NewFSStore(runDataDir)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}

		trace, err := store.NewTraceWriter(runDataDir, runID, false)
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		defer trace.Close()
		observers = append(observers, store.NewTraceObserver(trace, log))
	} else if fromRun != "" {
		return &space.ConfigError{Err: errors.New("--from-run requires --data-dir")}
	}

	if fromRun != "" {
		rec, err := runStore.LoadRun(fromRun)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", fromRun, err)
		}
		if err := rec.IsCompatible(runCfg); err != nil {
			return fmt.Errorf("cannot start from run %s: %w", fromRun, err)
		}
		initial = rec.Bounds
		runCfg.Parameters = initial
		log.Info("Starting from stored run", "from_run", fromRun, "rounds_completed", rec.RoundsCompleted)
	}

	if metricsFile != "" {
		m, err := metrics.New(metrics.DefaultNamespace, metricsFile)
		if err != nil {
			return err
		}
		observers = append(observers, m)
	}

	engine, err := opt.New(cfg,
		opt.WithObserver(observers),
		opt.WithLogger(log),
		opt.WithRunID(runID),
	)
	if err != nil {
		return err
	}
	for _, p := range initial {
		if err := engine.AddParameter(p.Name, p.Low, p.High); err != nil {
			return err
		}
	}

	res, runErr := engine.Run(ctx)

	if runStore != nil {
		if err := runStore.SaveRun(store.NewRunRecord(runCfg, res, runErr)); err != nil {
			log.Warn("Failed to save run record", "run_id", runID, "error", err)
		} else {
			log.Info("Saved run record", "run_id", runID, "dir", runDataDir)
		}
	}

	return runErr
}
