//go:build unix

package extractor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killTreeOnCancel starts the tool in its own process group and kills the
// group, so helpers it spawned (ffmpeg, aria2c) die with it.
func killTreeOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
