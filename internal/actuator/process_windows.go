//go:build windows

package actuator

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

const defaultShell = "cmd"

func shellCommand(ctx context.Context, shell, line string) *exec.Cmd {
	return exec.CommandContext(ctx, shell, "/C", line)
}

// setProcessGroup starts the command in a new process group. Windows can only
// kill the main process on timeout; children may survive.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
}
