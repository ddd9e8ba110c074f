package analyzer

import (
	"os/exec"
	"time"

	"github.com/videoguard/scancore/internal/procgroup"
)

func applyProcgroup(cmd *exec.Cmd) {
	procgroup.Set(cmd)
}

// killCmd terminates the whole process group owned by cmd, tolerating a
// process that has already exited.
func killCmd(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = procgroup.KillGroup(cmd.Process.Pid, 2*time.Second, 5*time.Second)
}
