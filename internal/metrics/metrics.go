// Package metrics exposes run counters in the Prometheus format. There is no
// HTTP listener; the registry is dumped to a textfile for node_exporter's
// textfile collector or inspected directly.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/opt"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "gridrefine"

// Metrics collects refinement counters on a private registry and implements
// opt.Observer.
type Metrics struct {
	opt.NopObserver

	evaluations   prometheus.Counter
	retries       prometheus.Counter
	improvements  prometheus.Counter
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
	bestValue     prometheus.Gauge
	parameters    prometheus.Gauge
	runs          *prometheus.CounterVec

	registry *prometheus.Registry
	textfile string
	logger   *slog.Logger
}

// New creates a metrics collector. If textfile is not empty the registry is
// written there after every round and at the end of the run.
func New(namespace, textfile string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		logger:   slog.Default(),

		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of successful evaluator invocations",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_output_retries_total",
			Help:      "Total number of evaluations repeated after malformed output",
		}),
		improvements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "improvements_total",
			Help:      "Total number of times a round maximum increased",
		}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Total number of completed rounds",
		}, []string{"improved"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Duration of a refinement round in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		bestValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_value",
			Help:      "Best value of the last completed round",
		}),
		parameters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parameters",
			Help:      "Number of parameters being refined",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of finished runs by status",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.evaluations, m.retries, m.improvements, m.rounds,
		m.roundDuration, m.bestValue, m.parameters, m.runs,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RunStarted(info opt.RunInfo) {
	m.parameters.Set(float64(len(info.Parameters)))
}

func (m *Metrics) Evaluated(round int, args []eval.Arg, value float64) {
	m.evaluations.Inc()
}

func (m *Metrics) Retried(round, attempt int, err error) {
	m.retries.Inc()
}

func (m *Metrics) Improved(round int, value float64, best []eval.Arg) {
	m.improvements.Inc()
}

func (m *Metrics) RoundFinished(rr opt.RoundResult) {
	m.rounds.WithLabelValues(strconv.FormatBool(rr.Improved)).Inc()
	m.roundDuration.Observe(rr.Elapsed.Seconds())
	m.bestValue.Set(rr.BestValue)
	m.flush()
}

func (m *Metrics) RunFinished(res *opt.Result, err error) {
	m.runs.WithLabelValues(Status(err)).Inc()
	m.flush()
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) flush() {
	if m.textfile == "" {
		return
	}
	if err := m.WriteTextfile(m.textfile); err != nil {
		m.logger.Warn("Failed to write metrics", "path", m.textfile, "error", err)
	}
}

// Status maps a run error to the status label.
func Status(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}
