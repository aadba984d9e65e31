//go:build unix

package job

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// procAttrNewGroup makes the child a session leader in its own process
// group, per the child-side signal discipline: becoming a session
// leader detaches it from the controlling terminal's process group,
// so a terminal-generated SIGTSTP does not reach it except through the
// scheduler explicitly forwarding one to its pgid.
func procAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// signalGroup delivers sig to every process in pid's process group.
func signalGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}
