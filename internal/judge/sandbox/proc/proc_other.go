//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

// Isolate is a no-op where process groups are unavailable.
func Isolate(cmd *exec.Cmd) {}

// KillGroup kills only the direct child on platforms without process groups.
func KillGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

// SignalName always reports no signal.
func SignalName(state *os.ProcessState) string {
	return ""
}
