//go:build unix

package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup sends SIGKILL to every process in the group led by pid.
// ESRCH means the group is already gone and counts as success.
func killGroup(pid int) error {
	if pid <= 0 {
		return unix.EINVAL
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

func terminateProcess(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}

func isEIO(err error) bool {
	return errors.Is(err, unix.EIO)
}
