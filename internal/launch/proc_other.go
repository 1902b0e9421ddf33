//go:build !unix

package launch

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// signalProcess kills the process; only kill is portable outside unix.
func signalProcess(cmd *exec.Cmd, _ os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
