package result

import (
	"fmt"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Classify maps an execution outcome to exactly one verdict.
// Output is kept only for Success and diagnostics only for compile and runtime errors.
func Classify(out ExecutionOutcome) RunResult {
	res := RunResult{
		ExitCode: out.ExitCode,
		TimeMs:   out.WallTime.Milliseconds(),
	}

	switch {
	case out.CompileFailed:
		res.Verdict = VerdictCompileError
		res.Message = "compilation failed"
		res.Diagnostic = out.CompileLog
		if res.Diagnostic == "" {
			res.Diagnostic = "compiler exited without diagnostics"
		}
		res.ExitCode = 0
	case out.StagingErr != nil:
		res.Verdict = VerdictCompileError
		res.Message = "compilation failed"
		res.Diagnostic = "failed to prepare the run workspace: " + out.StagingErr.Error()
		res.ExitCode = 0
	case out.SpawnErr != nil:
		res.Verdict = VerdictRuntimeError
		res.Message = "program could not be started"
		res.Diagnostic = out.SpawnErr.Error()
	case out.Termination == TerminationTimeLimit:
		res.Verdict = VerdictTimeLimitExceeded
		res.Message = limitMessage("program exceeded the time limit", out.TimeLimit.String(), out.TimeLimit > 0)
	case out.Termination == TerminationOutputLimit:
		res.Verdict = VerdictOutputLimitExceeded
		res.Message = limitMessage("program output exceeded the limit", humanize.IBytes(uint64(out.OutputLimit)), out.OutputLimit > 0)
	case out.Termination == TerminationCanceled:
		res.Verdict = VerdictRuntimeError
		res.Message = "run was canceled"
		res.Diagnostic = "execution canceled before the program finished"
	case out.ExitCode != 0 || out.Signal != "":
		res.Verdict = VerdictRuntimeError
		res.Message = "program exited abnormally"
		res.Diagnostic = string(out.Stderr)
		if res.Diagnostic == "" {
			res.Diagnostic = exitDiagnostic(out.ExitCode, out.Signal)
		}
	default:
		res.Verdict = VerdictSuccess
		res.Message = "run successful"
		if utf8.Valid(out.Stdout) {
			res.Output = string(out.Stdout)
		} else {
			res.OutputUnreadable = true
			res.Message = "run successful but output is not valid UTF-8 text"
		}
	}

	res.Success = res.Verdict == VerdictSuccess
	return res
}

func limitMessage(base, limit string, known bool) string {
	if !known {
		return base
	}
	return fmt.Sprintf("%s of %s", base, limit)
}

func exitDiagnostic(code int, signal string) string {
	if signal != "" {
		return fmt.Sprintf("exit code %d (signal: %s)", code, signal)
	}
	return fmt.Sprintf("exit code %d", code)
}
