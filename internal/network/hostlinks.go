package network

import (
	"fmt"

	"github.com/0xef53/hvd/hvd"

	"github.com/vishvananda/netlink"
)

// HostLinks checks that a network interface exists on the host.
type HostLinks interface {
	Check(ifname string) error
}

// NetlinkHostLinks looks interfaces up in the current network namespace.
type NetlinkHostLinks struct{}

func (NetlinkHostLinks) Check(ifname string) error {
	link, err := netlink.LinkByName(ifname)

	switch err.(type) {
	case nil:
	case netlink.LinkNotFoundError:
		return &hvd.ValidationError{Field: "physical interface", Reason: fmt.Sprintf("interface does not exist: %s", ifname)}
	default:
		return fmt.Errorf("netlink: %s", err)
	}

	if _, ok := link.(*netlink.Bridge); ok {
		return &hvd.ValidationError{Field: "physical interface", Reason: fmt.Sprintf("%s is a bridge", ifname)}
	}

	return nil
}
