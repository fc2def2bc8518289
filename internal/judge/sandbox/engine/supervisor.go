// Package engine runs compiled programs under a wall-clock limit and an output cap.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"codelab/internal/judge/sandbox/proc"
	"codelab/internal/judge/sandbox/result"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultMaxOutputBytes int64 = 5 * 1024 * 1024
	defaultWaitDelay            = time.Second
)

// Config is fixed when the supervisor is built.
type Config struct {
	MaxOutputBytes int64
	WaitDelay      time.Duration
}

// Request describes one execution.
type Request struct {
	BinaryPath string
	Args       []string
	Stdin      string
	TimeLimit  time.Duration
	// MaxOutputBytes overrides the supervisor cap when positive.
	MaxOutputBytes int64
	OutputPath     string
}

// ErrNoTimeLimit is reported when a request carries no positive time limit.
var ErrNoTimeLimit = errors.New("time limit must be positive")

// Supervisor spawns a program and enforces its limits.
type Supervisor struct {
	cfg Config
}

// NewSupervisor creates a supervisor with defaults applied.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return &Supervisor{cfg: cfg}
}

// MaxOutputBytes returns the default output cap.
func (s *Supervisor) MaxOutputBytes() int64 {
	return s.cfg.MaxOutputBytes
}

// Execute runs req to completion or until a limit is hit. Every failure is
// reported inside the outcome; the process group is gone when it returns.
func (s *Supervisor) Execute(ctx context.Context, req Request) result.ExecutionOutcome {
	limit := req.MaxOutputBytes
	if limit <= 0 {
		limit = s.cfg.MaxOutputBytes
	}
	out := result.ExecutionOutcome{TimeLimit: req.TimeLimit, OutputLimit: limit}

	if req.TimeLimit <= 0 {
		out.SpawnErr = ErrNoTimeLimit
		out.ExitCode = -1
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Termination = result.TerminationCanceled
		out.ExitCode = -1
		return out
	}

	file, err := os.OpenFile(req.OutputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		out.StagingErr = fmt.Errorf("open output file: %w", err)
		return out
	}
	sink := newCappedSink(file, limit)

	cmd := exec.Command(req.BinaryPath, req.Args...)
	proc.Isolate(cmd)
	cmd.Stdin = strings.NewReader(req.Stdin)
	cmd.Stdout = sink
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.cfg.WaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = file.Close()
		out.SpawnErr = err
		return out
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(req.TimeLimit)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
		// stdout is drained before Wait returns, so a breach is already visible here.
		select {
		case <-sink.breached:
			out.Termination = result.TerminationOutputLimit
		default:
		}
	case <-timer.C:
		out.Termination = result.TerminationTimeLimit
		waitErr = s.kill(ctx, cmd, waitCh)
	case <-sink.breached:
		out.Termination = result.TerminationOutputLimit
		waitErr = s.kill(ctx, cmd, waitCh)
	case <-ctx.Done():
		out.Termination = result.TerminationCanceled
		waitErr = s.kill(ctx, cmd, waitCh)
	}
	out.WallTime = time.Since(start)

	// Reap anything the program left behind in its group.
	_ = proc.KillGroup(cmd.Process)

	if err := file.Close(); err != nil {
		logger.Warn(ctx, "close output file failed", zap.String("path", req.OutputPath), zap.Error(err))
	}
	if sink.err != nil {
		logger.Warn(ctx, "write output file failed", zap.String("path", req.OutputPath), zap.Error(sink.err))
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Debug(ctx, "wait returned unexpected error", zap.Error(waitErr))
	}

	out.ExitCode = -1
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.Signal = proc.SignalName(cmd.ProcessState)
	}
	out.Stderr = stderr.Bytes()
	out.OutputBytes = sink.total
	out.Stdout = readCapped(ctx, req.OutputPath, limit)
	return out
}

func (s *Supervisor) kill(ctx context.Context, cmd *exec.Cmd, waitCh <-chan error) error {
	if err := proc.KillGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn(ctx, "kill process group failed", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
	return <-waitCh
}

func readCapped(ctx context.Context, path string, limit int64) []byte {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn(ctx, "open captured output failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		logger.Warn(ctx, "read captured output failed", zap.String("path", path), zap.Error(err))
	}
	return data
}
