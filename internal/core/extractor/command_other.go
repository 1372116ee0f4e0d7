//go:build !unix

package extractor

import "os/exec"

// killTreeOnCancel keeps the default cancel; WaitDelay still bounds Wait
func killTreeOnCancel(cmd *exec.Cmd) {}
