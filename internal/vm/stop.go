package vm

import (
	"errors"
	"slices"
	"time"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/ps"
	"github.com/0xef53/hvd/internal/vmm"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// How long to wait for a killed process that is not our child.
	killWaitTimeout = 10 * time.Second

	// How long to wait after a halt request before killing.
	haltWaitTimeout = time.Second

	pollInterval = 50 * time.Millisecond
)

// belongsTo reports whether the process runs the given VM. The VM name
// is a separate argument on the command line of every VM process.
// It is used for processes that are not our children, whose pids may
// have been reused after a restart of the daemon.
func belongsTo(pid int, vmname string) bool {
	args, err := ps.GetCmdline(pid)
	if err != nil {
		return false
	}

	return slices.Contains(args, vmname)
}

// terminate brings the VM process down: graceful power-off through the
// device or SIGTERM, halt and SIGKILL once the grace period has expired.
func (m *Manager) terminate(l *log.Entry, vmname string, pid int) {
	gone := func() bool {
		done, _, err := ps.Reap(pid)
		if err != nil && !errors.Is(err, ps.ErrNotChild) {
			l.Warnf("Failed to reap pid %d: %s", pid, err)
		}
		return done
	}

	// waitGone polls until the process exits or the timeout expires
	waitGone := func(timeout time.Duration) bool {
		deadline := time.Now().Add(timeout)

		for {
			if gone() {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(pollInterval)
		}
	}

	if !ps.Alive(pid) {
		// Collect the zombie if it is our child
		gone()

		l.Debugf("Process %d has already exited", pid)

		return
	}

	if done, _, err := ps.Reap(pid); done {
		return
	} else if errors.Is(err, ps.ErrNotChild) && !belongsTo(pid, vmname) {
		l.Warnf("Process %d does not belong to the machine, leaving it alone", pid)

		return
	}

	var dev *vmm.Device

	if d, err := m.hv.Open(vmname); err == nil {
		dev = d
	} else {
		l.Debugf("Device is unavailable: %s", err)
	}

	suspend := func(mode vmm.SuspendMode) bool {
		if dev == nil {
			return false
		}

		if err := m.hv.Suspend(dev, mode); err != nil {
			l.Debugf("Suspend (%s) failed: %s", mode, err)
			return false
		}

		return true
	}

	if !suspend(vmm.SuspendPowerOff) {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
			l.Warn(&hvd.ProcessControlError{Op: "send SIGTERM", PID: pid, Err: err})
		}
	}

	if waitGone(m.opts.StopGracePeriod) {
		return
	}

	if suspend(vmm.SuspendHalt) && waitGone(haltWaitTimeout) {
		return
	}

	l.Warnf("Process %d did not exit within %s, sending SIGKILL", pid, m.opts.StopGracePeriod)

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		l.Error(&hvd.ProcessControlError{Op: "send SIGKILL", PID: pid, Err: err})
	}

	if _, err := ps.Wait(pid); err != nil {
		if !errors.Is(err, ps.ErrNotChild) {
			l.Warnf("Failed to wait for pid %d: %s", pid, err)
		}

		if !ps.WaitGone(pid, killWaitTimeout) {
			l.Errorf("Process %d is still alive after SIGKILL", pid)
		}
	}
}
