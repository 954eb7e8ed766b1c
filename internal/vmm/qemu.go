package vmm

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/0xef53/hvd/hvd"

	qmp "github.com/0xef53/go-qmp/v2"
	log "github.com/sirupsen/logrus"
)

const (
	qmpSocketName  = "qmp.sock"
	consoleLogName = "console.log"
)

type QemuOptions struct {
	Binary string

	// StateDir returns the runtime directory of the VM.
	StateDir func(vmname string) string

	// VolumePath returns the host path of the VM disk.
	VolumePath func(vmname, diskname string) string

	MonitorTimeout time.Duration
}

// Qemu runs every VM as a separate QEMU process controlled through QMP.
// QEMU drives all vCPUs of a machine from one process, so only
// the boot vCPU can be run.
type Qemu struct {
	opts QemuOptions
}

func NewQemu(opts QemuOptions) *Qemu {
	if len(opts.Binary) == 0 {
		opts.Binary = "qemu-system-x86_64"
	}
	if opts.MonitorTimeout == 0 {
		opts.MonitorTimeout = 5 * time.Second
	}

	return &Qemu{opts: opts}
}

func (q *Qemu) Open(vmname string) (*Device, error) {
	dir := q.opts.StateDir(vmname)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, &hvd.ProcessControlError{Op: "open device", Err: err}
	}

	return &Device{
		VMName: vmname,
		Node:   filepath.Join(dir, qmpSocketName),
		Dir:    dir,
	}, nil
}

func (q *Qemu) args(dev *Device, vm *hvd.VirtualMachine) []string {
	args := []string{
		"-name", vm.Name,
		"-machine", "accel=kvm",
		"-smp", strconv.Itoa(vm.CPU),
		"-m", strconv.FormatUint(vm.Memory, 10),
		"-nographic",
		"-nodefaults",
		"-qmp", "unix:" + dev.Node + ",server=on,wait=off",
		"-serial", "stdio",
	}

	for idx, d := range vm.Disks {
		if d.Type != hvd.DiskTypeZvol {
			continue
		}

		id := fmt.Sprintf("disk%d", idx)

		args = append(args,
			"-blockdev", fmt.Sprintf("driver=raw,node-name=%s,file.driver=host_device,file.filename=%s", id, q.opts.VolumePath(vm.Name, d.Name)),
		)

		dev := "virtio-blk-pci,drive=" + id
		if d.Name == vm.BootDevice {
			dev += ",bootindex=1"
		}

		args = append(args, "-device", dev)
	}

	return args
}

func (q *Qemu) Run(dev *Device, vm *hvd.VirtualMachine, vcpu int) (int, error) {
	if vcpu != 0 {
		return 0, &hvd.ProcessControlError{Op: "run", Err: fmt.Errorf("vCPU %d cannot be run separately", vcpu)}
	}

	// A stale socket makes QEMU fail at startup
	os.Remove(dev.Node)

	console, err := os.OpenFile(filepath.Join(dev.Dir, consoleLogName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return 0, &hvd.ProcessControlError{Op: "run", Err: err}
	}
	defer console.Close()

	cmd := exec.Command(q.opts.Binary, q.args(dev, vm)...)

	cmd.Dir = dev.Dir
	cmd.Stdout = console
	cmd.Stderr = console
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, &hvd.ProcessControlError{Op: "run", Err: err}
	}

	pid := cmd.Process.Pid

	// The process is managed by pid from now on
	cmd.Process.Release()

	log.WithField("vm", vm.Name).Debugf("QEMU process started: %s %v", q.opts.Binary, cmd.Args[1:])

	return pid, nil
}

func (q *Qemu) Suspend(dev *Device, mode SuspendMode) error {
	var command string

	switch mode {
	case SuspendPowerOff:
		command = "system_powerdown"
	case SuspendHalt:
		command = "quit"
	default:
		return &hvd.ProcessControlError{Op: "suspend", Err: fmt.Errorf("unknown mode: %d", mode)}
	}

	mon, err := qmp.NewMonitor(dev.Node, q.opts.MonitorTimeout)
	if err != nil {
		return &hvd.ProcessControlError{Op: "suspend " + mode.String(), Err: err}
	}
	defer mon.Close()

	if err := mon.Run(qmp.Command{Name: command, Arguments: nil}, nil); err != nil {
		return &hvd.ProcessControlError{Op: "suspend " + mode.String(), Err: err}
	}

	return nil
}
