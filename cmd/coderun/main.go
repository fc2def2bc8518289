// Command coderun compiles and runs one source file through the sandbox
// and prints the verdict.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codelab/internal/judge/sandbox"
	"codelab/internal/judge/sandbox/compare"
	"codelab/internal/judge/sandbox/compiler"
	"codelab/internal/judge/sandbox/engine"
	"codelab/internal/judge/sandbox/result"
	"codelab/internal/judge/sandbox/transform"
	"codelab/internal/judge/sandbox/workspace"
	"codelab/pkg/utils/logger"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type options struct {
	sourcePath   string
	stdinPath    string
	expectPath   string
	timeLimit    float64
	maxOutput    string
	compileCmd   string
	compileLimit time.Duration
	transform    string
	scratchDir   string
	asJSON       bool
	logLevel     string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	if err := logger.Init(logger.Config{Level: opts.logLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(stderr, "init logger failed: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, err := readInput(opts.sourcePath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read source: %v\n", err)
		return 2
	}
	input := ""
	if opts.stdinPath != "" {
		if input, err = readInput(opts.stdinPath, stdin); err != nil {
			fmt.Fprintf(stderr, "read stdin file: %v\n", err)
			return 2
		}
	}
	maxOutput, err := humanize.ParseBytes(opts.maxOutput)
	if err != nil {
		fmt.Fprintf(stderr, "invalid -max-output %q: %v\n", opts.maxOutput, err)
		return 2
	}

	runner, err := newRunner(opts, int64(maxOutput))
	if err != nil {
		fmt.Fprintf(stderr, "init sandbox: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.RunOne(ctx, sandbox.RunRequest{
		RunID:            uuid.NewString(),
		Source:           source,
		Stdin:            input,
		TimeLimitSeconds: opts.timeLimit,
	})
	if err != nil {
		fmt.Fprintf(stderr, "invalid request: %v\n", err)
		return 2
	}

	var cmp *result.ComparisonResult
	if opts.expectPath != "" && res.Success {
		expected, err := os.ReadFile(opts.expectPath)
		if err != nil {
			fmt.Fprintf(stderr, "read expected output: %v\n", err)
			return 2
		}
		c := compare.Compare(string(expected), res.Output)
		cmp = &c
	}

	if err := report(stdout, res, cmp, opts.asJSON); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 2
	}
	if !res.Success || (cmp != nil && (cmp.Different || !cmp.Success)) {
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("coderun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.sourcePath, "source", "-", "C++ source file, - for standard input")
	fs.StringVar(&opts.stdinPath, "stdin", "", "file fed to the program's standard input")
	fs.StringVar(&opts.expectPath, "expect", "", "expected output file to compare against")
	fs.Float64Var(&opts.timeLimit, "time-limit", 2, "wall-clock limit in seconds")
	fs.StringVar(&opts.maxOutput, "max-output", "5MiB", "stdout cap, e.g. 512KiB")
	fs.StringVar(&opts.compileCmd, "compile", compiler.DefaultCommandTemplate, "compile command template with {src} and {bin}")
	fs.DurationVar(&opts.compileLimit, "compile-timeout", compiler.DefaultTimeout, "compile time limit")
	fs.StringVar(&opts.transform, "transform", "", "source rewrite before compiling (cpp-snippet)")
	fs.StringVar(&opts.scratchDir, "scratch", "", "scratch directory (default: system temp)")
	fs.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return options{}, flag.ErrHelp
	}
	if opts.sourcePath == "-" && opts.stdinPath == "-" {
		fmt.Fprintln(stderr, "-source and -stdin cannot both read standard input")
		return options{}, flag.ErrHelp
	}
	return opts, nil
}

func newRunner(opts options, maxOutput int64) (*sandbox.Runner, error) {
	transformer, err := transform.FromName(opts.transform)
	if err != nil {
		return nil, err
	}
	workspaces, err := workspace.NewManager(opts.scratchDir)
	if err != nil {
		return nil, err
	}
	toolchain, err := compiler.New(compiler.Config{
		CommandTemplate: opts.compileCmd,
		Timeout:         opts.compileLimit,
	})
	if err != nil {
		return nil, err
	}
	return sandbox.NewRunner(workspaces, toolchain,
		engine.NewSupervisor(engine.Config{MaxOutputBytes: maxOutput}),
		sandbox.WithTransformer(transformer),
	), nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

type jsonReport struct {
	result.RunResult
	Comparison *result.ComparisonResult `json:"comparison,omitempty"`
}

func report(w io.Writer, res result.RunResult, cmp *result.ComparisonResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{RunResult: res, Comparison: cmp})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "verdict: %s (%d ms)\n", res.Verdict, res.TimeMs)
	if res.Message != "" {
		fmt.Fprintf(&b, "message: %s\n", res.Message)
	}
	switch {
	case res.Output != "":
		fmt.Fprintf(&b, "--- output ---\n%s", res.Output)
		if res.Output[len(res.Output)-1] != '\n' {
			fmt.Fprintln(&b)
		}
	case res.OutputUnreadable:
		fmt.Fprintln(&b, "output is not valid UTF-8")
	case res.Diagnostic != "":
		fmt.Fprintf(&b, "--- diagnostic ---\n%s\n", res.Diagnostic)
	}
	if cmp != nil {
		switch {
		case !cmp.Success:
			fmt.Fprintf(&b, "compare: failed: %s\n", cmp.Error)
		case cmp.Different:
			fmt.Fprintln(&b, "compare: output differs from expected")
		default:
			fmt.Fprintln(&b, "compare: output matches expected")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
