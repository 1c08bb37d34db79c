//go:build unix

package launcher

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the tool and everything it spawned.
func killProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if p.Pid > 0 {
		if err := unix.Kill(-p.Pid, unix.SIGKILL); err == nil {
			return nil
		}
	}
	return p.Kill()
}

func exitSignal(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}
