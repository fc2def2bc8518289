// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"

	"codelab/internal/judge/sandbox/result"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, ok bool, elapsed time.Duration)
	ObserveRun(ctx context.Context, verdict result.Verdict, elapsed time.Duration, outputBytes int64)
	RunStarted()
	RunFinished()
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, bool, time.Duration) {}

func (NoopMetricsRecorder) ObserveRun(context.Context, result.Verdict, time.Duration, int64) {}

func (NoopMetricsRecorder) RunStarted() {}

func (NoopMetricsRecorder) RunFinished() {}
