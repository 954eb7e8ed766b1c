package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/0xef53/hvd/hvd"
)

func (h *Handler) createNetwork(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbCreate, ObjectNetwork}, args, 2, 3); err != nil {
		return "", err
	}

	fib, err := hvd.ParseFIB(args[1])
	if err != nil {
		return "", err
	}

	var physIface string

	if len(args) == 3 {
		physIface = args[2]
	}

	n, err := h.nets.Create(ctx, args[0], fib, physIface)
	if err != nil {
		return "", err
	}

	return ok("Created network %s (bridge %s)", n.Name, n.Bridge), nil
}

func (h *Handler) destroyNetwork(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbDestroy, ObjectNetwork}, args, 1, 1); err != nil {
		return "", err
	}

	if err := h.nets.Destroy(ctx, args[0]); err != nil {
		return "", err
	}

	return ok("Destroyed network %s", args[0]), nil
}

func (h *Handler) createTap(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbCreate, ObjectTap}, args, 3, 3); err != nil {
		return "", err
	}

	if err := h.nets.CreateTap(ctx, args[0], args[1], args[2]); err != nil {
		return "", err
	}

	return ok("Created tap %s for VM %s on network %s", args[0], args[1], args[2]), nil
}

func (h *Handler) destroyTap(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbDestroy, ObjectTap}, args, 1, 1); err != nil {
		return "", err
	}

	if err := h.nets.RemoveTap(ctx, args[0]); err != nil {
		return "", err
	}

	return ok("Removed tap %s", args[0]), nil
}

func (h *Handler) createRoute(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbCreate, ObjectRoute}, args, 3, -1); err != nil {
		return "", err
	}

	if err := h.nets.AddRoute(ctx, args[0], args[1], args[2], strings.Join(args[3:], " ")); err != nil {
		return "", err
	}

	return ok("Added route %s via %s to network %s", args[1], args[2], args[0]), nil
}

func (h *Handler) setNetwork(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbSet, ObjectNetwork}, args, 3, 3); err != nil {
		return "", err
	}

	name, prop, value := args[0], strings.ToLower(args[1]), args[2]

	switch prop {
	case "fib":
		fib, err := hvd.ParseFIB(value)
		if err != nil {
			return "", err
		}
		if err := h.nets.SetFIB(ctx, name, fib); err != nil {
			return "", err
		}
	case "physical-interface":
		if err := h.nets.SetPhysicalInterface(ctx, name, value); err != nil {
			return "", err
		}
	case "address":
		if err := h.nets.AddAddress(ctx, name, value); err != nil {
			return "", err
		}
	default:
		return "", &hvd.ValidationError{Reason: fmt.Sprintf("unknown network property '%s' (fib|physical-interface|address)", args[1])}
	}

	return ok("Set %s of network %s to %s", prop, name, value), nil
}

func (h *Handler) showNetwork(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbShow, ObjectNetwork}, args, 1, 1); err != nil {
		return "", err
	}

	n, err := h.nets.Get(args[0])
	if err != nil {
		return "", err
	}

	return formatNetwork(n), nil
}

func (h *Handler) listNetworks(ctx context.Context, args []string) (string, error) {
	if err := h.checkArgs(route{VerbList, ObjectNetwork}, args, 0, 0); err != nil {
		return "", err
	}

	networks, err := h.nets.List()
	if err != nil {
		return "", err
	}

	return formatNetworkList(networks), nil
}
