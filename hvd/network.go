package hvd

import (
	"fmt"
)

type NetworkType string

const (
	NetworkTypeBridge NetworkType = "bridge"
)

type Network struct {
	Name              string      `yaml:"name"`
	Type              NetworkType `yaml:"type"`
	FIB               uint32      `yaml:"fib"`
	PhysicalInterface string      `yaml:"physical-interface,omitempty"`
	Bridge            string      `yaml:"bridge"`
	Addresses         []string    `yaml:"addresses,omitempty"`
}

func NewNetwork(name string, fib uint32, physIface string) *Network {
	return &Network{
		Name:              name,
		Type:              NetworkTypeBridge,
		FIB:               fib,
		PhysicalInterface: physIface,
		Bridge:            BridgeName(name),
	}
}

func (n *Network) Validate() error {
	if err := ValidateName(n.Name); err != nil {
		return err
	}
	if n.Type != NetworkTypeBridge {
		return &ValidationError{Field: "network type", Reason: fmt.Sprintf("unsupported type '%s'", n.Type)}
	}

	return ValidateFIB(int64(n.FIB))
}

func (n *Network) HasAddress(addr string) bool {
	for _, a := range n.Addresses {
		if a == addr {
			return true
		}
	}

	return false
}

// BridgeName returns the host bridge interface name of the network.
func BridgeName(network string) string {
	return "bridge_" + network
}

func NetworkContainer(name string) string {
	return NETWORKBASE + "/" + name
}
