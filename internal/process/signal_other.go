//go:build !unix

package process

import (
	"errors"
	"os"
)

var errNoProcessGroups = errors.New("process groups are not supported on this platform")

// killGroup is unavailable; Terminate falls back to escalate.
func killGroup(pid int) error {
	return errNoProcessGroups
}

func terminateProcess(proc *os.Process) error {
	return proc.Kill()
}

func isEIO(err error) bool {
	return false
}
