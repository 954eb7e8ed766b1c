// Package vmmtest provides a hypervisor for tests that runs shell
// scripts instead of virtual machines.
package vmmtest

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/vmm"
)

// Shell has no control device. By default every suspend fails and
// the caller has to fall back to signals; SetSuspendSignal turns
// a suspend into a signal delivered to the script.
type Shell struct {
	StateDir func(vmname string) string

	mu       sync.Mutex
	script   string
	runs     int
	failed   bool
	signal   syscall.Signal
	pids     map[string]int
	suspends []vmm.SuspendMode
}

func NewShell(stateDir func(string) string) *Shell {
	return &Shell{
		StateDir: stateDir,
		script:   "exec sleep 30",
		pids:     make(map[string]int),
	}
}

// SetSuspendSignal makes every next Suspend call send sig to the
// process of the VM. Zero restores the failing suspend.
func (h *Shell) SetSuspendSignal(sig syscall.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.signal = sig
}

// Suspends returns the modes of all Suspend calls.
func (h *Shell) Suspends() []vmm.SuspendMode {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]vmm.SuspendMode(nil), h.suspends...)
}

// SetScript sets the script run by the next Run calls.
func (h *Shell) SetScript(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.script = s
}

// SetFailed makes every next Run call fail.
func (h *Shell) SetFailed(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failed = v
}

// Runs returns the number of started processes.
func (h *Shell) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.runs
}

func (h *Shell) Open(vmname string) (*vmm.Device, error) {
	dir := h.StateDir(vmname)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &hvd.ProcessControlError{Op: "open device", Err: err}
	}

	return &vmm.Device{VMName: vmname, Node: filepath.Join(dir, "ctl"), Dir: dir}, nil
}

func (h *Shell) Run(dev *vmm.Device, vm *hvd.VirtualMachine, vcpu int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failed {
		return 0, &hvd.ProcessControlError{Op: "run", Err: errors.New("no such device")}
	}

	// The VM name becomes $0 of the script
	cmd := exec.Command("/bin/sh", "-c", h.script, vm.Name)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, &hvd.ProcessControlError{Op: "run", Err: err}
	}

	h.runs++

	pid := cmd.Process.Pid

	h.pids[dev.VMName] = pid

	cmd.Process.Release()

	return pid, nil
}

func (h *Shell) Suspend(dev *vmm.Device, mode vmm.SuspendMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.suspends = append(h.suspends, mode)

	pid, ok := h.pids[dev.VMName]

	if h.signal == 0 || !ok {
		return &hvd.ProcessControlError{Op: "suspend " + mode.String(), Err: errors.New("device is not supported")}
	}

	if err := syscall.Kill(pid, h.signal); err != nil {
		return &hvd.ProcessControlError{Op: "suspend " + mode.String(), PID: pid, Err: err}
	}

	return nil
}
