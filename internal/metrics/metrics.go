// Package metrics counts scenario outcomes for a run and writes them in the
// Prometheus text format, ready for a node_exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/readiness"
)

// Result label values.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
)

// Recorder holds the metrics of one run on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	Scenarios         *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	StepAttempts      *prometheus.CounterVec
	ScenarioDuration  *prometheus.HistogramVec
	ReadinessAttempts prometheus.Gauge
	ReadinessReady    prometheus.Gauge
}

// New creates a Recorder with every metric registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		Scenarios: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petroverify_scenarios_total",
				Help: "Scenarios run, by result",
			},
			[]string{"result"},
		),
		Failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petroverify_failures_total",
				Help: "Failed scenarios, by failure kind",
			},
			[]string{"kind"},
		),
		StepAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petroverify_step_attempts_total",
				Help: "Assertion evaluations, by scenario",
			},
			[]string{"scenario"},
		),
		ScenarioDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "petroverify_scenario_duration_seconds",
				Help:    "Scenario wall time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
			[]string{"scenario"},
		),
		ReadinessAttempts: f.NewGauge(prometheus.GaugeOpts{
			Name: "petroverify_readiness_attempts",
			Help: "Probes sent before the application answered",
		}),
		ReadinessReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "petroverify_readiness_ready",
			Help: "1 when the application became ready",
		}),
	}
}

// Registry exposes the registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveResult records one finished scenario.
func (r *Recorder) ObserveResult(res *harness.Result) {
	if res.Passed {
		r.Scenarios.WithLabelValues(ResultPassed).Inc()
	} else {
		r.Scenarios.WithLabelValues(ResultFailed).Inc()
		r.Failures.WithLabelValues(string(res.Kind)).Inc()
	}
	r.StepAttempts.WithLabelValues(res.ScenarioID).Add(float64(res.Attempts()))
	r.ScenarioDuration.WithLabelValues(res.ScenarioID).Observe(res.Duration().Seconds())
}

// ObserveReadiness records the outcome of the readiness probe.
func (r *Recorder) ObserveReadiness(res readiness.Result) {
	r.ReadinessAttempts.Set(float64(res.Attempts))
	if res.Ready {
		r.ReadinessReady.Set(1)
	} else {
		r.ReadinessReady.Set(0)
	}
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
