// Package sandbox wires staging, compilation, supervised execution and
// classification into a single run.
package sandbox

import (
	"context"
	"math"
	"time"

	"codelab/internal/judge/sandbox/compiler"
	"codelab/internal/judge/sandbox/engine"
	"codelab/internal/judge/sandbox/observer"
	"codelab/internal/judge/sandbox/result"
	"codelab/internal/judge/sandbox/transform"
	"codelab/internal/judge/sandbox/workspace"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

// RunRequest is the input of one run.
type RunRequest struct {
	RunID            string
	Source           string
	Stdin            string
	TimeLimitSeconds float64
	// MaxOutputBytes overrides the supervisor cap when positive.
	MaxOutputBytes int64
}

// Limits bounds what a caller may submit.
type Limits struct {
	MaxSourceBytes int
	MaxStdinBytes  int
	MaxTimeLimit   time.Duration
}

// Runner executes one request end to end.
type Runner struct {
	workspaces  *workspace.Manager
	compiler    *compiler.Compiler
	supervisor  *engine.Supervisor
	transformer transform.Transformer
	metrics     observer.MetricsRecorder
	limits      Limits
}

// Option customizes a Runner.
type Option func(*Runner)

// WithTransformer installs a source rewrite applied before compilation.
func WithTransformer(t transform.Transformer) Option {
	return func(r *Runner) {
		if t != nil {
			r.transformer = t
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m observer.MetricsRecorder) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLimits bounds request sizes. Zero fields are unlimited.
func WithLimits(l Limits) Option {
	return func(r *Runner) {
		r.limits = l
	}
}

// NewRunner creates a runner.
func NewRunner(ws *workspace.Manager, c *compiler.Compiler, sup *engine.Supervisor, opts ...Option) *Runner {
	r := &Runner{
		workspaces:  ws,
		compiler:    c,
		supervisor:  sup,
		transformer: transform.Identity{},
		metrics:     observer.NoopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOne compiles and executes req. An error is returned only for invalid
// requests; every other path resolves to a RunResult, and the workspace is
// already removed when it returns.
func (r *Runner) RunOne(ctx context.Context, req RunRequest) (result.RunResult, error) {
	limit, err := r.validate(req)
	if err != nil {
		return result.RunResult{}, err
	}
	ctx = logger.WithRunID(ctx, req.RunID)

	r.metrics.RunStarted()
	defer r.metrics.RunFinished()

	var (
		res         result.RunResult
		outputBytes int64
	)
	err = r.workspaces.With(ctx, func(ws *workspace.Workspace) error {
		res, outputBytes = r.runStaged(ctx, req, limit, ws)
		return nil
	})
	if err != nil {
		logger.Error(ctx, "stage workspace failed", zap.Error(err))
		res = result.Classify(result.ExecutionOutcome{
			CompileFailed: true,
			CompileLog:    "failed to prepare the build workspace: " + err.Error(),
		})
	}

	res.RunID = req.RunID
	res.FinishedAt = time.Now().UnixMilli()
	r.metrics.ObserveRun(ctx, res.Verdict, time.Duration(res.TimeMs)*time.Millisecond, outputBytes)
	logger.Info(ctx, "run finished",
		zap.String("verdict", string(res.Verdict)),
		zap.Int64("time_ms", res.TimeMs),
		zap.Int("exit_code", res.ExitCode),
	)
	return res, nil
}

func (r *Runner) runStaged(ctx context.Context, req RunRequest, limit time.Duration, ws *workspace.Workspace) (result.RunResult, int64) {
	source := r.transformer.Transform(req.Source)

	compiled, err := r.compiler.Compile(ctx, source, ws)
	if err != nil {
		logger.Error(ctx, "stage source failed", zap.Error(err))
		return result.Classify(result.ExecutionOutcome{
			CompileFailed: true,
			CompileLog:    "failed to stage source: " + err.Error(),
		}), 0
	}
	r.metrics.ObserveCompile(ctx, compiled.OK, compiled.Duration)
	if !compiled.OK {
		return result.Classify(result.ExecutionOutcome{
			CompileFailed: true,
			CompileLog:    compiled.Diagnostic,
		}), 0
	}

	outcome := r.supervisor.Execute(ctx, engine.Request{
		BinaryPath:     ws.BinaryPath,
		Stdin:          req.Stdin,
		TimeLimit:      limit,
		MaxOutputBytes: req.MaxOutputBytes,
		OutputPath:     ws.OutputPath,
	})
	if outcome.Termination != result.TerminationNone {
		logger.Debug(ctx, "run terminated by supervisor",
			zap.String("reason", string(outcome.Termination)),
			zap.Int64("output_bytes", outcome.OutputBytes),
		)
	}
	return result.Classify(outcome), outcome.OutputBytes
}

// Validate checks req without running it.
func (r *Runner) Validate(req RunRequest) error {
	_, err := r.validate(req)
	return err
}

// validate returns the checked time limit of req.
func (r *Runner) validate(req RunRequest) (time.Duration, error) {
	if req.Source == "" {
		return 0, appErr.ValidationError("source", "must not be empty")
	}
	limit, err := timeLimit(req.TimeLimitSeconds)
	if err != nil {
		return 0, err
	}
	if r.limits.MaxTimeLimit > 0 && limit > r.limits.MaxTimeLimit {
		return 0, appErr.ValidationError("time_limit_seconds", "must not exceed "+r.limits.MaxTimeLimit.String())
	}
	if req.MaxOutputBytes < 0 {
		return 0, appErr.ValidationError("max_output_bytes", "must be positive")
	}
	if r.limits.MaxSourceBytes > 0 && len(req.Source) > r.limits.MaxSourceBytes {
		return 0, appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", r.limits.MaxSourceBytes)
	}
	if r.limits.MaxStdinBytes > 0 && len(req.Stdin) > r.limits.MaxStdinBytes {
		return 0, appErr.Newf(appErr.StdinTooLarge, "stdin exceeds %d bytes", r.limits.MaxStdinBytes)
	}
	return limit, nil
}

// maxTimeLimitSeconds is the largest limit representable as a time.Duration.
var maxTimeLimitSeconds = float64(math.MaxInt64) / float64(time.Second)

// timeLimit converts seconds to a Duration, rejecting values that would
// truncate to zero or overflow.
func timeLimit(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, appErr.ValidationError("time_limit_seconds", "must be a positive number")
	}
	if seconds >= maxTimeLimitSeconds {
		return 0, appErr.ValidationError("time_limit_seconds", "is too large")
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= 0 {
		return 0, appErr.ValidationError("time_limit_seconds", "must be at least 1ns")
	}
	return d, nil
}
