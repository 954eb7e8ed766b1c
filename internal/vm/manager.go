// Package vm manages the lifecycle of virtual machines: storage
// provisioning, records and the VM processes.
package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/confstore"
	"github.com/0xef53/hvd/internal/ps"
	"github.com/0xef53/hvd/internal/storage"
	"github.com/0xef53/hvd/internal/task"
	"github.com/0xef53/hvd/internal/vmm"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Options struct {
	// StopGracePeriod is the time given to the VM process to exit
	// before it is killed.
	StopGracePeriod time.Duration

	DefaultBootDevice string
}

type Manager struct {
	rootdir string
	opts    Options

	backend storage.Backend
	store   *confstore.Bucket[hvd.VirtualMachine]
	hv      vmm.Hypervisor
	tasks   *task.Pool
}

func NewManager(rootdir string, backend storage.Backend, hv vmm.Hypervisor, pool *task.Pool, opts Options) *Manager {
	if opts.StopGracePeriod <= 0 {
		opts.StopGracePeriod = 2 * time.Second
	}
	if len(opts.DefaultBootDevice) == 0 {
		opts.DefaultBootDevice = hvd.DEFAULT_BOOT_DEVICE
	}

	return &Manager{
		rootdir: rootdir,
		opts:    opts,
		backend: backend,
		store:   confstore.NewBucket[hvd.VirtualMachine](rootdir, hvd.VMBASE),
		hv:      hv,
		tasks:   pool,
	}
}

// Info is a VM record extended with the runtime state of the VM process.
type Info struct {
	hvd.VirtualMachine

	PID    int
	Uptime time.Duration
}

func taskKey(name string) string {
	return "vm/" + name
}

func (m *Manager) load(name string) (*hvd.VirtualMachine, error) {
	vm, err := m.store.Load(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &hvd.NotFoundError{Kind: "VM", Name: name}
		}
		return nil, err
	}

	return vm, nil
}

func (m *Manager) save(vm *hvd.VirtualMachine) error {
	if err := m.store.Save(vm.Name, vm); err != nil {
		return &hvd.BackendError{Backend: "store", Op: "save VM record", Err: err}
	}

	return nil
}

func (m *Manager) backendError(op string, err error) error {
	return &hvd.BackendError{Backend: m.backend.Name(), Op: op, Err: err}
}

func (m *Manager) Create(ctx context.Context, name string, cpu int, memory uint64) (*hvd.VirtualMachine, error) {
	vm := hvd.NewVirtualMachine(name, cpu, memory)

	vm.BootDevice = m.opts.DefaultBootDevice

	if err := vm.Validate(); err != nil {
		return nil, err
	}

	err := m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		l = l.WithField("vm", name)

		if m.store.Exists(name) {
			return fmt.Errorf("VM '%s' %w", name, hvd.ErrAlreadyExists)
		}

		base := hvd.VMContainer(name)

		var success bool

		defer func() {
			if !success {
				m.store.Delete(name)

				if err := m.backend.DestroyContainer(base); err != nil {
					l.Errorf("Rollback failed: cannot destroy container: %s", err)
				}
			}
		}()

		for _, p := range []string{base, hvd.VMDisksContainer(name), hvd.VMStateContainer(name)} {
			if err := m.backend.CreateContainer(p); err != nil {
				return m.backendError("create container "+p, err)
			}
		}

		for k, v := range map[string]string{"hvd:type": "vm", "hvd:name": name} {
			if err := m.backend.SetProperty(base, k, v); err != nil {
				l.Warnf("Failed to set container property %s: %s", k, err)
			}
		}

		if err := m.save(vm); err != nil {
			return err
		}

		success = true

		l.Infof("Created VM (cpu = %d, memory = %d MB)", cpu, memory)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return vm, nil
}

// reconcile checks the process of a Running record and rewrites the record
// if the process is gone: a clean exit gives Stopped, anything else Error.
func (m *Manager) reconcile(l *log.Entry, vm *hvd.VirtualMachine) (int, error) {
	if vm.State != hvd.StateRunning {
		return 0, nil
	}

	newState := hvd.StateError

	pid, err := m.readPID(vm.Name)
	if err == nil {
		done, ws, err := ps.Reap(pid)
		switch {
		case !done && errors.Is(err, ps.ErrNotChild) && !belongsTo(pid, vm.Name):
			l.Warnf("Process %d does not belong to the machine, marking the machine as %s", pid, newState)
		case !done:
			return pid, nil
		default:
			if err == nil && ws.Exited() && ws.ExitStatus() == 0 {
				newState = hvd.StateStopped
			}

			l.Warnf("VM process %d has gone (%s), marking the machine as %s", pid, exitReason(ws, err), newState)
		}
	} else {
		l.Warnf("Running machine has no valid pid file (%s), marking it as %s", err, newState)
	}

	vm.State = newState

	if err := m.removePID(vm.Name); err != nil {
		l.Warnf("Failed to remove pid file: %s", err)
	}

	return 0, m.save(vm)
}

func (m *Manager) Start(ctx context.Context, name string) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		l = l.WithField("vm", name)

		vm, err := m.load(name)
		if err != nil {
			return err
		}

		if pid, err := m.reconcile(l, vm); err != nil {
			return err
		} else if pid > 0 {
			l.Infof("Already running (pid = %d)", pid)

			return nil
		}

		dev, err := m.hv.Open(name)
		if err != nil {
			return err
		}

		pid, err := m.hv.Run(dev, vm, 0)
		if err != nil {
			return err
		}

		// The process is not waited for: the machine is considered running
		// as soon as it has been spawned.
		vm.State = hvd.StateRunning

		err = m.writePID(name, pid)
		if err == nil {
			err = m.save(vm)
		}

		if err != nil {
			l.Errorf("Failed to persist the running state, killing pid %d: %s", pid, err)

			m.terminate(l, name, pid)
			m.removePID(name)

			return err
		}

		l.Infof("Started (pid = %d)", pid)

		return nil
	})
}

// stop must be called within the task of the VM.
func (m *Manager) stop(l *log.Entry, vm *hvd.VirtualMachine) error {
	switch vm.State {
	case hvd.StateRunning:
	case hvd.StateError:
		l.Info("Clearing the error state")
	default:
		l.Info("Not running")
		return nil
	}

	if vm.State == hvd.StateRunning {
		if pid, err := m.readPID(vm.Name); err == nil {
			m.terminate(l, vm.Name, pid)
		} else {
			l.Warnf("Cannot read pid file, the process is left as is: %s", err)
		}
	}

	vm.State = hvd.StateStopped

	if err := m.removePID(vm.Name); err != nil {
		l.Warnf("Failed to remove pid file: %s", err)
	}

	if err := m.save(vm); err != nil {
		return err
	}

	l.Info("Stopped")

	return nil
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		vm, err := m.load(name)
		if err != nil {
			return err
		}

		return m.stop(l.WithField("vm", name), vm)
	})
}

// Destroy stops the VM and removes its storage container and record.
// An unreadable record or a container left without a record is
// destroyed as well.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	if err := hvd.ValidateName(name); err != nil {
		return err
	}

	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		l = l.WithField("vm", name)

		vm, err := m.load(name)

		switch {
		case err == nil:
			if err := m.stop(l, vm); err != nil {
				l.Warnf("Stop before destroy failed: %s", err)
			}
		case hvd.IsNotFoundError(err):
			if _, err := os.Stat(m.store.Dir(name)); err != nil {
				return &hvd.NotFoundError{Kind: "VM", Name: name}
			}

			l.Warn("Found a container without a record")
		default:
			l.Warnf("Cannot load the record: %s", err)

			if pid, err := m.readPID(name); err == nil {
				m.terminate(l, name, pid)
			}
		}

		base := hvd.VMContainer(name)

		if err := m.backend.DestroyContainer(base); err != nil {
			return m.backendError("destroy container "+base, err)
		}

		if err := m.store.Delete(name); err != nil {
			return &hvd.BackendError{Backend: "store", Op: "delete VM record", Err: err}
		}

		l.Info("Destroyed")

		return nil
	})
}

func (m *Manager) AddDisk(ctx context.Context, vmname, disk string, sizeGB uint64, dtype hvd.DiskType) error {
	if err := hvd.ValidateName(disk); err != nil {
		return err
	}

	switch dtype {
	case hvd.DiskTypeZvol:
	case hvd.DiskTypeISCSI:
		return fmt.Errorf("iSCSI disks: %w", hvd.ErrNotImplemented)
	default:
		return &hvd.ValidationError{Field: "disk type", Reason: string(dtype)}
	}

	if sizeGB == 0 {
		return &hvd.ValidationError{Field: "disk size", Reason: "must be a positive number of GB"}
	}

	return m.tasks.RunFunc(ctx, taskKey(vmname), func(l *log.Entry) error {
		l = l.WithField("vm", vmname)

		vm, err := m.load(vmname)
		if err != nil {
			return err
		}

		if vm.DiskIndex(disk) != -1 {
			return fmt.Errorf("disk '%s' %w", disk, hvd.ErrAlreadyExists)
		}

		volume := hvd.VMDiskVolume(vmname, disk)

		if err := m.backend.CreateVolume(volume, sizeGB); err != nil {
			return m.backendError("create volume "+volume, err)
		}

		vm.Disks = append(vm.Disks, hvd.Disk{Name: disk, Type: dtype, SizeGB: sizeGB})

		if err := m.save(vm); err != nil {
			if err := m.backend.DestroyContainer(volume); err != nil {
				l.Errorf("Rollback failed: cannot destroy volume: %s", err)
			}

			return err
		}

		l.Infof("Added disk %s (%d GB)", disk, sizeGB)

		return nil
	})
}

func (m *Manager) RemoveDisk(ctx context.Context, vmname, disk string) error {
	return m.tasks.RunFunc(ctx, taskKey(vmname), func(l *log.Entry) error {
		l = l.WithField("vm", vmname)

		vm, err := m.load(vmname)
		if err != nil {
			return err
		}

		if _, err := m.reconcile(l, vm); err != nil {
			return err
		}

		if vm.State == hvd.StateRunning {
			return fmt.Errorf("cannot remove disk: %w", hvd.ErrRunning)
		}

		idx := vm.DiskIndex(disk)
		if idx == -1 {
			return &hvd.NotFoundError{Kind: "disk", Name: vmname + "/" + disk}
		}

		volume := hvd.VMDiskVolume(vmname, disk)

		if err := m.backend.DestroyContainer(volume); err != nil {
			return m.backendError("destroy volume "+volume, err)
		}

		vm.Disks = append(vm.Disks[:idx], vm.Disks[idx+1:]...)

		if err := m.save(vm); err != nil {
			return err
		}

		l.Infof("Removed disk %s", disk)

		return nil
	})
}

// update applies fn to the record and saves it. Changes of a running
// machine take effect on the next start.
func (m *Manager) update(ctx context.Context, name string, fn func(*hvd.VirtualMachine)) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		vm, err := m.load(name)
		if err != nil {
			return err
		}

		fn(vm)

		if err := vm.Validate(); err != nil {
			return err
		}

		return m.save(vm)
	})
}

func (m *Manager) SetCPU(ctx context.Context, name string, n int) error {
	if err := hvd.ValidateCPU(n); err != nil {
		return err
	}

	return m.update(ctx, name, func(vm *hvd.VirtualMachine) { vm.CPU = n })
}

func (m *Manager) SetMemory(ctx context.Context, name string, mb uint64) error {
	if err := hvd.ValidateMemory(mb); err != nil {
		return err
	}

	return m.update(ctx, name, func(vm *hvd.VirtualMachine) { vm.Memory = mb })
}

func (m *Manager) SetBootDevice(ctx context.Context, name, device string) error {
	if len(device) == 0 || len(device) > hvd.MaxNameLen {
		return &hvd.ValidationError{Field: "boot device", Reason: fmt.Sprintf("length must be 1-%d", hvd.MaxNameLen)}
	}

	return m.update(ctx, name, func(vm *hvd.VirtualMachine) { vm.BootDevice = device })
}

func (m *Manager) Get(ctx context.Context, name string) (*Info, error) {
	if err := hvd.ValidateName(name); err != nil {
		return nil, err
	}

	var info *Info

	err := m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		vm, err := m.load(name)
		if err != nil {
			return err
		}

		pid, err := m.reconcile(l.WithField("vm", name), vm)
		if err != nil {
			return err
		}

		info = &Info{VirtualMachine: *vm, PID: pid}

		if pid > 0 {
			if t, err := ps.GetLifeTime(pid); err == nil {
				info.Uptime = t
			}
		}

		return nil
	})

	return info, err
}

func (m *Manager) List(ctx context.Context) ([]*Info, error) {
	names, err := m.store.Names()
	if err != nil {
		return nil, err
	}

	vms := make([]*Info, 0, len(names))

	for _, name := range names {
		info, err := m.Get(ctx, name)
		if err != nil {
			if hvd.IsNotFoundError(err) {
				// Destroyed in the meantime
				continue
			}

			if ctx.Err() != nil {
				return nil, err
			}

			log.WithField("vm", name).Warnf("Skipping unreadable record: %s", err)

			continue
		}

		vms = append(vms, info)
	}

	return vms, nil
}

func exitReason(ws unix.WaitStatus, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case ws.Exited():
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled():
		return "killed by " + ws.Signal().String()
	}

	return "unknown reason"
}
