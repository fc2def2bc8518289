// Package sandboxtest provides process fixtures for sandbox tests.
package sandboxtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// Markers recognised by the fake compiler when they appear in the source.
const (
	CompileErrorMarker = "PLANTED_COMPILE_ERROR"
	CompileHangMarker  = "PLANTED_COMPILE_HANG"
)

const fakeCompiler = `#!/bin/sh
src="$1"
bin="$2"
if grep -q ` + CompileErrorMarker + ` "$src"; then
	echo "$src:1:1: error: planted failure" >&2
	exit 1
fi
if grep -q ` + CompileHangMarker + ` "$src"; then
	sleep 30
fi
cp "$src" "$bin" && chmod +x "$bin"
`

// RequireShell skips the test when no POSIX shell is available.
func RequireShell(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process fixtures need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

// FakeCompilerTemplate writes a shell "compiler" that copies the source to the
// binary path and marks it executable, so shell scripts can stand in for C++.
func FakeCompilerTemplate(t testing.TB) string {
	t.Helper()
	RequireShell(t)
	path := filepath.Join(t.TempDir(), "fake-cc.sh")
	if err := os.WriteFile(path, []byte(fakeCompiler), 0o755); err != nil {
		t.Fatalf("write fake compiler: %v", err)
	}
	return "/bin/sh " + path + " {src} {bin}"
}

// Script returns a shell program usable as source with the fake compiler.
func Script(body string) string {
	return "#!/bin/sh\n" + body + "\n"
}

// WriteScript writes an executable shell script and returns its path.
func WriteScript(t testing.TB, body string) string {
	t.Helper()
	RequireShell(t)
	path := filepath.Join(t.TempDir(), "prog.sh")
	if err := os.WriteFile(path, []byte(Script(body)), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// RequireGpp skips the test unless g++ is installed.
func RequireGpp(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("g++"); err != nil {
		t.Skip("g++ not installed")
	}
}
