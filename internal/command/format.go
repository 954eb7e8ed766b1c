package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/vm"
)

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)

	day := d / (24 * time.Hour)
	rest := d % (24 * time.Hour)

	if day == 0 {
		return rest.String()
	}

	return fmt.Sprintf("%dd%s", day, rest)
}

func formatVM(info *vm.Info) string {
	var b strings.Builder

	fmt.Fprintf(&b, "VM: %s\n", info.Name)
	fmt.Fprintf(&b, "  CPU: %d cores\n", info.CPU)
	fmt.Fprintf(&b, "  Memory: %d MB\n", info.Memory)
	fmt.Fprintf(&b, "  Boot Device: %s\n", info.BootDevice)
	fmt.Fprintf(&b, "  State: %s\n", info.State)

	if info.PID > 0 {
		fmt.Fprintf(&b, "  PID: %d\n", info.PID)
		fmt.Fprintf(&b, "  Uptime: %s\n", formatUptime(info.Uptime))
	}

	if len(info.Disks) > 0 {
		fmt.Fprintf(&b, "  Disks:\n")

		for _, d := range info.Disks {
			fmt.Fprintf(&b, "    %-16s %-6s %d GB\n", d.Name, d.Type, d.SizeGB)
		}
	}

	return b.String()
}

func formatVMList(vms []*vm.Info) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-18s %-6s %-9s %-8s %s\n", "Name", "CPU", "Memory", "State", "PID")
	fmt.Fprintf(&b, "%-18s %-6s %-9s %-8s %s\n", "----", "---", "------", "-----", "---")

	for _, v := range vms {
		pid := "-"
		if v.PID > 0 {
			pid = fmt.Sprintf("%d", v.PID)
		}

		fmt.Fprintf(&b, "%-18s %-6d %-9d %-8s %s\n", v.Name, v.CPU, v.Memory, v.State, pid)
	}

	return b.String()
}

func formatNetwork(n *hvd.Network) string {
	var b strings.Builder

	physIface := n.PhysicalInterface
	if len(physIface) == 0 {
		physIface = "none"
	}

	fmt.Fprintf(&b, "Network: %s\n", n.Name)
	fmt.Fprintf(&b, "  Type: %s\n", n.Type)
	fmt.Fprintf(&b, "  FIB ID: %d\n", n.FIB)
	fmt.Fprintf(&b, "  Bridge: %s\n", n.Bridge)
	fmt.Fprintf(&b, "  Physical Interface: %s\n", physIface)

	if len(n.Addresses) > 0 {
		fmt.Fprintf(&b, "  Addresses: %s\n", strings.Join(n.Addresses, ", "))
	}

	return b.String()
}

func formatNetworkList(networks []*hvd.Network) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-18s %-8s %-6s %-18s %s\n", "Name", "Type", "FIB", "Bridge", "Physical Interface")
	fmt.Fprintf(&b, "%-18s %-8s %-6s %-18s %s\n", "----", "----", "---", "------", "------------------")

	for _, n := range networks {
		physIface := n.PhysicalInterface
		if len(physIface) == 0 {
			physIface = "-"
		}

		fmt.Fprintf(&b, "%-18s %-8s %-6d %-18s %s\n", n.Name, n.Type, n.FIB, n.Bridge, physIface)
	}

	return b.String()
}
