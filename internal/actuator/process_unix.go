//go:build unix

package actuator

import (
	"context"
	"os/exec"
	"syscall"
)

const defaultShell = "/bin/sh"

func shellCommand(ctx context.Context, shell, line string) *exec.Cmd {
	return exec.CommandContext(ctx, shell, "-c", line)
}

// setProcessGroup puts the command in its own process group so a timeout
// kills every child it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
