//go:build unix

package execdriver

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the helper in its own session, and therefore its own
// process group, so the whole tree (browser children included) can be
// signalled at once. The controlling terminal is not set because stdin is a
// pipe rather than the pty.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// killGroup sends SIGKILL to the helper's process group.
func killGroup(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
