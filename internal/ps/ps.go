// Package ps provides process inspection helpers backed by procfs.
package ps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const SC_CLK_TCK int64 = 100 // C.sysconf(C._SC_CLK_TCK)

// ErrNotChild is returned by Reap and Wait when the process is not a child
// of the current process (e.g. it was started by a previous daemon instance).
var ErrNotChild = errors.New("not a child process")

func procfile(pid int, name string) string {
	return filepath.Join("/proc", strconv.Itoa(pid), name)
}

// GetCmdline returns the command line arguments of the process
// with the specified pid as a slice.
func GetCmdline(pid int) ([]string, error) {
	c, err := os.ReadFile(procfile(pid, "cmdline"))
	if err != nil {
		return nil, err
	}

	return strings.FieldsFunc(string(c), func(r rune) bool { return r == '\u0000' }), nil
}

// statFields returns the fields of /proc/<pid>/stat that follow
// the command name. The first element is the process state.
func statFields(pid int) ([]string, error) {
	c, err := os.ReadFile(procfile(pid, "stat"))
	if err != nil {
		return nil, err
	}

	// The command name may contain spaces and parentheses
	idx := strings.LastIndexByte(string(c), ')')
	if idx == -1 {
		return nil, fmt.Errorf("unexpected format of %s", procfile(pid, "stat"))
	}

	return strings.Fields(string(c[idx+1:])), nil
}

// IsZombie reports whether the process has terminated but was not reaped yet.
func IsZombie(pid int) bool {
	fields, err := statFields(pid)
	if err != nil || len(fields) == 0 {
		return false
	}

	return fields[0] == "Z"
}

// Alive reports whether a process with the specified pid exists
// and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
	default:
		return false
	}

	return !IsZombie(pid)
}

// GetLifeTime returns the life time of the specified pid.
func GetLifeTime(pid int) (time.Duration, error) {
	var sysinfo unix.Sysinfo_t

	if err := unix.Sysinfo(&sysinfo); err != nil {
		return 0, err
	}

	fields, err := statFields(pid)
	if err != nil {
		return 0, err
	}

	// starttime is the 22nd field of the stat file
	if len(fields) < 20 {
		return 0, fmt.Errorf("unexpected format of %s", procfile(pid, "stat"))
	}

	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0, err
	}

	t := int64(sysinfo.Uptime) - ticks/SC_CLK_TCK

	return time.Duration(t) * time.Second, nil
}

// Reap collects the exit status of a terminated child without blocking.
// The done flag is false while the child is still running.
func Reap(pid int) (done bool, ws unix.WaitStatus, err error) {
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	switch {
	case err == unix.ECHILD:
		return !Alive(pid), ws, ErrNotChild
	case err != nil:
		return false, ws, err
	}

	return wpid == pid, ws, nil
}

// Wait blocks until the child terminates and returns its exit status.
func Wait(pid int) (ws unix.WaitStatus, err error) {
	for {
		_, err = unix.Wait4(pid, &ws, 0, nil)
		switch err {
		case unix.EINTR:
			continue
		case unix.ECHILD:
			return ws, ErrNotChild
		}

		return ws, err
	}
}

// WaitGone polls until the process disappears or the timeout expires.
// It is used for processes that are not children of the current process.
func WaitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if !Alive(pid) {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(50 * time.Millisecond)
	}
}
