package hvd

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type VMState uint16

const (
	StateStopped VMState = iota
	StateRunning
	StatePaused
	StateError
)

func (s VMState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	}

	return "stopped"
}

func ParseVMState(s string) (VMState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stopped", "":
		return StateStopped, nil
	case "running":
		return StateRunning, nil
	case "paused":
		return StatePaused, nil
	case "error":
		return StateError, nil
	}

	return StateStopped, fmt.Errorf("unknown machine state: %s", s)
}

func (s VMState) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *VMState) UnmarshalYAML(value *yaml.Node) error {
	var str string

	if err := value.Decode(&str); err != nil {
		return err
	}

	v, err := ParseVMState(str)
	if err != nil {
		return err
	}

	*s = v

	return nil
}

type DiskType string

const (
	DiskTypeZvol  DiskType = "zvol"
	DiskTypeISCSI DiskType = "iscsi"
)

func ParseDiskType(s string) (DiskType, error) {
	switch DiskType(strings.ToLower(s)) {
	case DiskTypeZvol, "":
		return DiskTypeZvol, nil
	case DiskTypeISCSI:
		return DiskTypeISCSI, nil
	}

	return "", &ValidationError{Field: "disk type", Reason: fmt.Sprintf("unknown type '%s' (zvol|iscsi)", s)}
}

type Disk struct {
	Name   string   `yaml:"name"`
	Type   DiskType `yaml:"type"`
	SizeGB uint64   `yaml:"size-gb"`
}

// VirtualMachine is the durable VM record. The process id of a running
// machine is runtime state and is never part of the record.
type VirtualMachine struct {
	Name       string  `yaml:"name"`
	CPU        int     `yaml:"cpu"`
	Memory     uint64  `yaml:"memory"`
	BootDevice string  `yaml:"boot-device"`
	State      VMState `yaml:"state"`
	Disks      []Disk  `yaml:"disks,omitempty"`
}

func NewVirtualMachine(name string, cpu int, memory uint64) *VirtualMachine {
	return &VirtualMachine{
		Name:       name,
		CPU:        cpu,
		Memory:     memory,
		BootDevice: DEFAULT_BOOT_DEVICE,
		State:      StateStopped,
	}
}

func (vm *VirtualMachine) Validate() error {
	if err := ValidateName(vm.Name); err != nil {
		return err
	}
	if err := ValidateCPU(vm.CPU); err != nil {
		return err
	}

	return ValidateMemory(vm.Memory)
}

func (vm *VirtualMachine) DiskIndex(name string) int {
	for idx, d := range vm.Disks {
		if d.Name == name {
			return idx
		}
	}

	return -1
}

// VMContainer returns the storage path of the VM's base container.
func VMContainer(name string) string {
	return VMBASE + "/" + name
}

func VMDisksContainer(name string) string {
	return VMContainer(name) + "/disks"
}

func VMStateContainer(name string) string {
	return VMContainer(name) + "/state"
}

func VMDiskVolume(vmname, diskname string) string {
	return VMDisksContainer(vmname) + "/" + diskname
}
