// Package result defines run outcomes and the verdict classifier.
package result

import "time"

// Verdict is the final classification of one run.
type Verdict string

const (
	VerdictSuccess             Verdict = "Success"
	VerdictCompileError        Verdict = "CompileError"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictOutputLimitExceeded Verdict = "OutputLimitExceeded"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSuccess, VerdictCompileError, VerdictRuntimeError,
		VerdictTimeLimitExceeded, VerdictOutputLimitExceeded:
		return true
	}
	return false
}

// Termination records why the supervisor killed a process.
type Termination string

const (
	TerminationNone        Termination = ""
	TerminationTimeLimit   Termination = "time_limit"
	TerminationOutputLimit Termination = "output_limit"
	TerminationCanceled    Termination = "canceled"
)

// ExecutionOutcome is the raw data gathered for one run before classification.
type ExecutionOutcome struct {
	CompileFailed bool
	CompileLog    string

	// StagingErr is set when scratch artifacts could not be prepared.
	// It is reported like a compile failure.
	StagingErr error

	// SpawnErr is set when the binary never started.
	SpawnErr error

	Termination Termination
	ExitCode    int
	Signal      string

	// Stdout holds at most the output cap; Stderr is unbounded.
	Stdout      []byte
	Stderr      []byte
	OutputBytes int64

	TimeLimit   time.Duration
	OutputLimit int64
	WallTime    time.Duration
}

// RunResult is the caller-facing result of one run. It is immutable once built.
type RunResult struct {
	RunID            string  `json:"run_id"`
	Verdict          Verdict `json:"verdict"`
	Success          bool    `json:"success"`
	Message          string  `json:"message"`
	Output           string  `json:"output,omitempty"`
	OutputUnreadable bool    `json:"output_unreadable,omitempty"`
	Diagnostic       string  `json:"diagnostic,omitempty"`
	ExitCode         int     `json:"exit_code"`
	TimeMs           int64   `json:"time_ms"`
	FinishedAt       int64   `json:"finished_at"`
}

// ComparisonResult reports whether two outputs match after normalization.
type ComparisonResult struct {
	Success   bool   `json:"success"`
	Different bool   `json:"different"`
	Error     string `json:"error,omitempty"`
}
