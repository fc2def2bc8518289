// Package compiler turns staged source into an executable with an external toolchain.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"codelab/internal/judge/sandbox/proc"
	"codelab/internal/judge/sandbox/workspace"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	DefaultCommandTemplate    = "g++ {src} -o {bin}"
	DefaultTimeout            = 20 * time.Second
	DefaultMaxDiagnosticBytes = 64 * 1024
	defaultWaitDelay          = 2 * time.Second

	srcPlaceholder = "{src}"
	binPlaceholder = "{bin}"
)

// Config controls how the toolchain is invoked.
type Config struct {
	CommandTemplate    string
	Timeout            time.Duration
	MaxDiagnosticBytes int
	WaitDelay          time.Duration
}

// Outcome is the result of one compilation. Compile failures are data, not errors.
type Outcome struct {
	OK         bool
	Diagnostic string
	TimedOut   bool
	Duration   time.Duration
}

// Compiler invokes the configured toolchain.
type Compiler struct {
	cfg  Config
	args []string
}

// New parses the command template once.
func New(cfg Config) (*Compiler, error) {
	if strings.TrimSpace(cfg.CommandTemplate) == "" {
		cfg.CommandTemplate = DefaultCommandTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxDiagnosticBytes <= 0 {
		cfg.MaxDiagnosticBytes = DefaultMaxDiagnosticBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	fields, err := shlex.Split(cfg.CommandTemplate)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse compile command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("compile command template is empty")
	}
	if !strings.Contains(cfg.CommandTemplate, srcPlaceholder) || !strings.Contains(cfg.CommandTemplate, binPlaceholder) {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("compile command template must reference {src} and {bin}")
	}
	return &Compiler{cfg: cfg, args: fields}, nil
}

// Timeout returns the compile time budget.
func (c *Compiler) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Command expands the template for ws.
func (c *Compiler) Command(ws *workspace.Workspace) []string {
	out := make([]string, len(c.args))
	for i, arg := range c.args {
		arg = strings.ReplaceAll(arg, srcPlaceholder, ws.SourcePath)
		out[i] = strings.ReplaceAll(arg, binPlaceholder, ws.BinaryPath)
	}
	return out
}

// Compile writes source verbatim to the workspace and runs the toolchain on it.
// The returned error is set only when the source could not be staged.
func (c *Compiler) Compile(ctx context.Context, source string, ws *workspace.Workspace) (Outcome, error) {
	if err := os.WriteFile(ws.SourcePath, []byte(source), 0o600); err != nil {
		return Outcome{}, appErr.Wrapf(err, appErr.StagingFailed, "write source file failed")
	}

	compileCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	argv := c.Command(ws)
	cmd := exec.CommandContext(compileCtx, argv[0], argv[1:]...)
	proc.Isolate(cmd)
	cmd.Cancel = func() error { return proc.KillGroup(cmd.Process) }
	cmd.WaitDelay = c.cfg.WaitDelay

	stdout := newCappedBuffer(c.cfg.MaxDiagnosticBytes)
	stderr := newCappedBuffer(c.cfg.MaxDiagnosticBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	out := Outcome{Duration: time.Since(start)}
	if runErr == nil {
		out.OK = true
		return out, nil
	}

	out.TimedOut = errors.Is(compileCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	diagnostic := stderr.String()
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = stdout.String()
	}
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = runErr.Error()
	}
	switch {
	case out.TimedOut:
		diagnostic = strings.TrimRight(diagnostic, "\n") + fmt.Sprintf("\ncompilation timed out after %s", c.cfg.Timeout)
	case ctx.Err() != nil:
		diagnostic = strings.TrimRight(diagnostic, "\n") + "\ncompilation canceled"
	}
	out.Diagnostic = diagnostic

	logger.Debug(ctx, "compilation failed",
		zap.String("binary", ws.BinaryPath),
		zap.Bool("timed_out", out.TimedOut),
		zap.Duration("duration", out.Duration),
		zap.Error(runErr),
	)
	return out, nil
}

// cappedBuffer keeps the first max bytes written and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[diagnostic truncated]"
	}
	return b.buf.String()
}
