package extractor

import (
	"context"
	"os/exec"
	"time"
)

// toolWaitDelay bounds how long Wait keeps draining output after the tool is
// killed. Grandchildren that escape the kill would otherwise hold the pipes.
const toolWaitDelay = 2 * time.Second

// toolCommand builds a command whose whole process tree dies with ctx
func toolCommand(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = toolWaitDelay
	killTreeOnCancel(cmd)
	return cmd
}
