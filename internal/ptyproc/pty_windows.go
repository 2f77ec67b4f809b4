//go:build windows

package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
)

// Windows PTY support (ConPTY) is not wired in this build: the domain
// stack intentionally stays within the dependency set grounded in the
// example pack, and none of it vendors a ConPTY binding. Interactive
// mode is Unix-only for now.

func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (ptyFile, error) {
	return nil, fmt.Errorf("ptyproc: interactive PTY mode is not supported on windows")
}

func setProcGroup(cmd *exec.Cmd) {}

func killProcessGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func interruptProcess(p *os.Process) error {
	return p.Kill()
}

func waitPtyProcess(cmd *exec.Cmd, _ ptyFile) (exitCode int, signalName string, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, "", nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), "", err
	}
	return 1, "", err
}
