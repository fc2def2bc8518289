package observer

import (
	"context"
	"time"

	"codelab/internal/judge/sandbox/result"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codelab"

// PrometheusRecorder exports sandbox metrics to a Prometheus registry.
type PrometheusRecorder struct {
	compilesTotal   *prometheus.CounterVec
	compileDuration prometheus.Histogram
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	outputBytes     prometheus.Histogram
	inFlight        prometheus.Gauge
	rateLimitHits   prometheus.Counter
}

// NewPrometheusRecorder registers the sandbox collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		compilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compiles_total",
				Help:      "Total number of compilations by outcome",
			},
			[]string{"status"},
		),
		compileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_ms",
				Help:      "Compilation duration in milliseconds",
				Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000},
			},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by verdict",
			},
			[]string{"verdict"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_ms",
				Help:      "Execution wall time in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"verdict"},
		),
		outputBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_output_bytes",
				Help:      "Bytes written to stdout per run",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Number of runs currently executing",
			},
		),
		rateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),
	}
}

func (p *PrometheusRecorder) ObserveCompile(_ context.Context, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	p.compilesTotal.WithLabelValues(status).Inc()
	p.compileDuration.Observe(float64(elapsed.Milliseconds()))
}

func (p *PrometheusRecorder) ObserveRun(_ context.Context, verdict result.Verdict, elapsed time.Duration, outputBytes int64) {
	p.runsTotal.WithLabelValues(string(verdict)).Inc()
	p.runDuration.WithLabelValues(string(verdict)).Observe(float64(elapsed.Milliseconds()))
	p.outputBytes.Observe(float64(outputBytes))
}

func (p *PrometheusRecorder) RunStarted() { p.inFlight.Inc() }

func (p *PrometheusRecorder) RunFinished() { p.inFlight.Dec() }

// RateLimited counts one rejected request.
func (p *PrometheusRecorder) RateLimited() { p.rateLimitHits.Inc() }
