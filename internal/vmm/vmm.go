// Package vmm defines the virtualization device contract consumed by
// the VM lifecycle manager.
package vmm

import (
	"fmt"

	"github.com/0xef53/hvd/hvd"
)

type SuspendMode uint8

const (
	SuspendPowerOff SuspendMode = iota
	SuspendHalt
)

func (m SuspendMode) String() string {
	switch m {
	case SuspendHalt:
		return "halt"
	}

	return "poweroff"
}

// Device is an opened virtualization device of a single VM.
type Device struct {
	VMName string

	// Node is the control node of the device.
	Node string

	// Dir contains the node and the runtime files of the VM process.
	Dir string
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.VMName, d.Node)
}

type Hypervisor interface {
	// Open returns the device of the VM, creating it on first use.
	Open(vmname string) (*Device, error)

	// Run starts a detached process that runs the given vCPU of the VM
	// and returns its pid. The process is not waited for.
	Run(dev *Device, vm *hvd.VirtualMachine, vcpu int) (int, error)

	Suspend(dev *Device, mode SuspendMode) error
}
