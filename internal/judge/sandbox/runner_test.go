package sandbox_test

import (
	"context"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"codelab/internal/judge/sandbox"
	"codelab/internal/judge/sandbox/compiler"
	"codelab/internal/judge/sandbox/engine"
	"codelab/internal/judge/sandbox/observer"
	"codelab/internal/judge/sandbox/result"
	"codelab/internal/judge/sandbox/sandboxtest"
	"codelab/internal/judge/sandbox/workspace"
	appErr "codelab/pkg/errors"
)

type recordingMetrics struct {
	observer.NoopMetricsRecorder
	mu       sync.Mutex
	compiles []bool
	verdicts []result.Verdict
}

func (m *recordingMetrics) ObserveCompile(_ context.Context, ok bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiles = append(m.compiles, ok)
}

func (m *recordingMetrics) ObserveRun(_ context.Context, v result.Verdict, _ time.Duration, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, v)
}

type fixture struct {
	runner  *sandbox.Runner
	scratch string
	metrics *recordingMetrics
}

func newFixture(t *testing.T, template string, maxOutput int64, opts ...sandbox.Option) *fixture {
	t.Helper()
	scratch := t.TempDir()
	ws, err := workspace.NewManager(scratch)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	c, err := compiler.New(compiler.Config{CommandTemplate: template, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("compiler: %v", err)
	}
	metrics := &recordingMetrics{}
	opts = append(opts, sandbox.WithMetrics(metrics))
	return &fixture{
		runner:  sandbox.NewRunner(ws, c, engine.NewSupervisor(engine.Config{MaxOutputBytes: maxOutput}), opts...),
		scratch: scratch,
		metrics: metrics,
	}
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not empty: %d entries left", len(entries))
	}
}

func TestRunOneVerdicts(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 1024)

	cases := []struct {
		name        string
		source      string
		stdin       string
		limit       float64
		wantVerdict result.Verdict
		check       func(t *testing.T, res result.RunResult)
	}{
		{
			name:        "echo_stdin",
			source:      sandboxtest.Script("cat"),
			stdin:       "42\n",
			limit:       2,
			wantVerdict: result.VerdictSuccess,
			check: func(t *testing.T, res result.RunResult) {
				if res.Output != "42\n" || res.Diagnostic != "" {
					t.Fatalf("unexpected result %+v", res)
				}
			},
		},
		{
			name:        "compile_error",
			source:      sandboxtest.CompileErrorMarker,
			limit:       2,
			wantVerdict: result.VerdictCompileError,
			check: func(t *testing.T, res result.RunResult) {
				if !strings.Contains(res.Diagnostic, "planted failure") || res.Output != "" {
					t.Fatalf("unexpected result %+v", res)
				}
			},
		},
		{
			name:        "output_limit",
			source:      sandboxtest.Script(`i=0; while [ $i -lt 2048 ]; do printf A; i=$((i+1)); done`),
			limit:       5,
			wantVerdict: result.VerdictOutputLimitExceeded,
			check: func(t *testing.T, res result.RunResult) {
				if res.Output != "" || res.Diagnostic != "" {
					t.Fatalf("partial output must not be surfaced: %+v", res)
				}
			},
		},
		{
			name:        "time_limit",
			source:      sandboxtest.Script("sleep 5"),
			limit:       0.5,
			wantVerdict: result.VerdictTimeLimitExceeded,
		},
		{
			name:        "runtime_error_with_stderr",
			source:      sandboxtest.Script("echo oops >&2; exit 1"),
			limit:       2,
			wantVerdict: result.VerdictRuntimeError,
			check: func(t *testing.T, res result.RunResult) {
				if !strings.Contains(res.Diagnostic, "oops") {
					t.Fatalf("diagnostic = %q", res.Diagnostic)
				}
			},
		},
		{
			name:        "runtime_error_exit_code",
			source:      sandboxtest.Script("exit 1"),
			limit:       2,
			wantVerdict: result.VerdictRuntimeError,
			check: func(t *testing.T, res result.RunResult) {
				if res.Diagnostic != "exit code 1" {
					t.Fatalf("diagnostic = %q", res.Diagnostic)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{
				RunID:            tc.name,
				Source:           tc.source,
				Stdin:            tc.stdin,
				TimeLimitSeconds: tc.limit,
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Duration(tc.limit*float64(time.Second))+3*time.Second {
				t.Fatalf("run took %s", elapsed)
			}
			if res.Verdict != tc.wantVerdict {
				t.Fatalf("verdict = %s (%s), want %s", res.Verdict, res.Diagnostic, tc.wantVerdict)
			}
			if res.RunID != tc.name || res.FinishedAt == 0 {
				t.Fatalf("run metadata missing: %+v", res)
			}
			if tc.check != nil {
				tc.check(t, res)
			}
			f.assertScratchEmpty(t)
		})
	}

	if len(f.metrics.verdicts) != len(cases) {
		t.Fatalf("recorded %d runs, want %d", len(f.metrics.verdicts), len(cases))
	}
}

func TestRunOneCompileErrorNeverSpawns(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0)
	marker := t.TempDir() + "/spawned"
	src := sandboxtest.CompileErrorMarker + "\n" + "touch " + marker

	res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{Source: src, TimeLimitSeconds: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != result.VerdictCompileError {
		t.Fatalf("verdict = %s", res.Verdict)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("program was executed after a compile error")
	}
	if len(f.metrics.compiles) != 1 || f.metrics.compiles[0] {
		t.Fatalf("compile metrics = %v", f.metrics.compiles)
	}
}

func TestRunOneStagingFailureIsCompileError(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0)
	if err := os.RemoveAll(f.scratch); err != nil {
		t.Fatalf("remove scratch: %v", err)
	}

	res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{Source: "x", TimeLimitSeconds: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != result.VerdictCompileError || res.Diagnostic == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunOneAppliesTransformer(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0,
		sandbox.WithTransformer(suffixTransformer("\necho transformed")))

	res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{Source: sandboxtest.Script("echo original"), TimeLimitSeconds: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "original\ntransformed\n" {
		t.Fatalf("output = %q", res.Output)
	}
}

type suffixTransformer string

func (s suffixTransformer) Transform(src string) string { return strings.TrimRight(src, "\n") + string(s) + "\n" }

func TestRunOneValidation(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0, sandbox.WithLimits(sandbox.Limits{
		MaxSourceBytes: 16,
		MaxStdinBytes:  4,
		MaxTimeLimit:   10 * time.Second,
	}))

	cases := []struct {
		name string
		req  sandbox.RunRequest
		code appErr.ErrorCode
	}{
		{name: "empty_source", req: sandbox.RunRequest{TimeLimitSeconds: 1}, code: appErr.ValidationFailed},
		{name: "zero_limit", req: sandbox.RunRequest{Source: "x"}, code: appErr.ValidationFailed},
		{name: "negative_limit", req: sandbox.RunRequest{Source: "x", TimeLimitSeconds: -1}, code: appErr.ValidationFailed},
		{name: "limit_too_high", req: sandbox.RunRequest{Source: "x", TimeLimitSeconds: 11}, code: appErr.ValidationFailed},
		{name: "limit_below_a_nanosecond", req: sandbox.RunRequest{Source: "x", TimeLimitSeconds: 1e-12}, code: appErr.ValidationFailed},
		{name: "limit_overflows_duration", req: sandbox.RunRequest{Source: "x", TimeLimitSeconds: 1e12}, code: appErr.ValidationFailed},
		{name: "negative_cap", req: sandbox.RunRequest{Source: "x", TimeLimitSeconds: 1, MaxOutputBytes: -1}, code: appErr.ValidationFailed},
		{name: "source_too_large", req: sandbox.RunRequest{Source: strings.Repeat("x", 17), TimeLimitSeconds: 1}, code: appErr.CodeTooLarge},
		{name: "stdin_too_large", req: sandbox.RunRequest{Source: "x", Stdin: "12345", TimeLimitSeconds: 1}, code: appErr.StdinTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.runner.RunOne(context.Background(), tc.req)
			if appErr.GetCode(err) != tc.code {
				t.Fatalf("code = %v, want %v (%v)", appErr.GetCode(err), tc.code, err)
			}
			f.assertScratchEmpty(t)
		})
	}
	if len(f.metrics.verdicts) != 0 {
		t.Fatalf("rejected requests must not be recorded as runs")
	}
}

func TestRunOneRejectsUnrepresentableTimeLimits(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0)
	for _, limit := range []float64{1e-12, 1e12, 9.3e9, math.MaxFloat64, math.Inf(1), math.NaN()} {
		err := f.runner.Validate(sandbox.RunRequest{Source: "x", TimeLimitSeconds: limit})
		if appErr.GetCode(err) != appErr.ValidationFailed {
			t.Fatalf("limit %v: code = %v, want ValidationFailed", limit, appErr.GetCode(err))
		}
	}
}

func TestRunOneSmallestLimitStillArmsDeadline(t *testing.T) {
	sandboxtest.RequireShell(t)
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0)

	start := time.Now()
	res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{
		Source:           sandboxtest.Script("sleep 4; echo done"),
		TimeLimitSeconds: 1e-6,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != result.VerdictTimeLimitExceeded || res.Output != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("run took %v, deadline was not enforced", elapsed)
	}
	f.assertScratchEmpty(t)
}

func TestRunOneConcurrentRunsDoNotCollide(t *testing.T) {
	f := newFixture(t, sandboxtest.FakeCompilerTemplate(t), 0)
	const n = 16

	type outcome struct {
		want string
		res  result.RunResult
		err  error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		want := strings.Repeat("z", i+1)
		go func() {
			res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{
				Source:           sandboxtest.Script("cat"),
				Stdin:            want,
				TimeLimitSeconds: 5,
			})
			results <- outcome{want: want, res: res, err: err}
		}()
	}
	for i := 0; i < n; i++ {
		o := <-results
		if o.err != nil {
			t.Fatalf("run: %v", o.err)
		}
		if o.res.Output != o.want {
			t.Fatalf("cross-talk between runs: got %q want %q", o.res.Output, o.want)
		}
	}
	f.assertScratchEmpty(t)
}

func TestRunOneWithGpp(t *testing.T) {
	sandboxtest.RequireGpp(t)
	f := newFixture(t, compiler.DefaultCommandTemplate, 1024)

	cases := []struct {
		name   string
		source string
		stdin  string
		limit  float64
		want   result.Verdict
		output string
	}{
		{
			name:   "echo",
			source: "#include <iostream>\nint main(){int x; std::cin >> x; std::cout << x << \"\\n\"; return 0;}",
			stdin:  "42\n",
			limit:  2,
			want:   result.VerdictSuccess,
			output: "42\n",
		},
		{
			name:   "missing_semicolon",
			source: "int main(){ return 0 }",
			limit:  2,
			want:   result.VerdictCompileError,
		},
		{
			name:   "flood",
			source: "#include <cstdio>\nint main(){for(int i=0;i<2048;i++) putchar('A'); return 0;}",
			limit:  2,
			want:   result.VerdictOutputLimitExceeded,
		},
		{
			name:   "sleep",
			source: "#include <unistd.h>\nint main(){ sleep(5); return 0; }",
			limit:  1,
			want:   result.VerdictTimeLimitExceeded,
		},
		{
			name:   "exit_one",
			source: "int main(){ return 1; }",
			limit:  2,
			want:   result.VerdictRuntimeError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.runner.RunOne(context.Background(), sandbox.RunRequest{Source: tc.source, Stdin: tc.stdin, TimeLimitSeconds: tc.limit})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if res.Verdict != tc.want {
				t.Fatalf("verdict = %s (%s), want %s", res.Verdict, res.Diagnostic, tc.want)
			}
			if tc.output != "" && res.Output != tc.output {
				t.Fatalf("output = %q", res.Output)
			}
			f.assertScratchEmpty(t)
		})
	}
}
