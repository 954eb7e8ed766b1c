package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/0xef53/hvd/hvd"
)

func (h *Handler) createVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbCreate, ObjectVM}, args, 3, 3); err != nil {
		return "", err
	}

	cpu, err := hvd.ParseCPU(args[1])
	if err != nil {
		return "", err
	}

	memory, err := hvd.ParseMemory(args[2])
	if err != nil {
		return "", err
	}

	if _, err := h.vms.Create(ctx, args[0], cpu, memory); err != nil {
		return "", err
	}

	return ok("Created VM %s", args[0]), nil
}

func (h *Handler) destroyVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbDestroy, ObjectVM}, args, 1, 1); err != nil {
		return "", err
	}

	if err := h.vms.Destroy(ctx, args[0]); err != nil {
		return "", err
	}

	return ok("Destroyed VM %s", args[0]), nil
}

func (h *Handler) startVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbStart, ObjectVM}, args, 1, 1); err != nil {
		return "", err
	}

	if err := h.vms.Start(ctx, args[0]); err != nil {
		return "", err
	}

	return ok("Started VM %s", args[0]), nil
}

func (h *Handler) stopVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbStop, ObjectVM}, args, 1, 1); err != nil {
		return "", err
	}

	if err := h.vms.Stop(ctx, args[0]); err != nil {
		return "", err
	}

	return ok("Stopped VM %s", args[0]), nil
}

func (h *Handler) createDisk(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbCreate, ObjectDisk}, args, 3, 4); err != nil {
		return "", err
	}

	size, err := hvd.ParseSizeGB(args[2])
	if err != nil {
		return "", err
	}

	dtype := hvd.DiskTypeZvol

	if len(args) == 4 {
		if dtype, err = hvd.ParseDiskType(args[3]); err != nil {
			return "", err
		}
	}

	if err := h.vms.AddDisk(ctx, args[0], args[1], size, dtype); err != nil {
		return "", err
	}

	return ok("Added disk %s to VM %s", args[1], args[0]), nil
}

func (h *Handler) destroyDisk(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbDestroy, ObjectDisk}, args, 2, 2); err != nil {
		return "", err
	}

	if err := h.vms.RemoveDisk(ctx, args[0], args[1]); err != nil {
		return "", err
	}

	return ok("Removed disk %s from VM %s", args[1], args[0]), nil
}

func (h *Handler) setVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbSet, ObjectVM}, args, 3, 3); err != nil {
		return "", err
	}

	name, prop, value := args[0], strings.ToLower(args[1]), args[2]

	switch prop {
	case "cpu":
		n, err := hvd.ParseCPU(value)
		if err != nil {
			return "", err
		}
		if err := h.vms.SetCPU(ctx, name, n); err != nil {
			return "", err
		}
	case "memory":
		n, err := hvd.ParseMemory(value)
		if err != nil {
			return "", err
		}
		if err := h.vms.SetMemory(ctx, name, n); err != nil {
			return "", err
		}
	case "boot-device":
		if err := h.vms.SetBootDevice(ctx, name, value); err != nil {
			return "", err
		}
	default:
		return "", &hvd.ValidationError{Reason: fmt.Sprintf("unknown VM property '%s' (cpu|memory|boot-device)", args[1])}
	}

	return ok("Set %s of VM %s to %s", prop, name, value), nil
}

func (h *Handler) showVM(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbShow, ObjectVM}, args, 1, 1); err != nil {
		return "", err
	}

	info, err := h.vms.Get(ctx, args[0])
	if err != nil {
		return "", err
	}

	return formatVM(info), nil
}

func (h *Handler) listVMs(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbList, ObjectVM}, args, 0, 0); err != nil {
		return "", err
	}

	vms, err := h.vms.List(ctx)
	if err != nil {
		return "", err
	}

	return formatVMList(vms), nil
}
