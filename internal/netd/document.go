package netd

import (
	"encoding/xml"
	"fmt"
)

const Namespace = "urn:netd:simple"

const (
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

// Config is a complete configuration document accepted by netd.
// Every operation builds a new document from scratch.
type Config struct {
	XMLName    xml.Name    `xml:"urn:netd:simple config"`
	Interfaces []Interface `xml:"interfaces>interface,omitempty"`
	Routes     []Route     `xml:"routes>route,omitempty"`
}

type Interface struct {
	Name      string    `xml:"name"`
	Type      string    `xml:"type,omitempty"`
	Enabled   bool      `xml:"enabled"`
	FIB       uint32    `xml:"fib"`
	MemberOf  string    `xml:"member-of,omitempty"`
	Addresses []Address `xml:"address"`
}

type Address struct {
	IP     string `xml:"ip"`
	Family string `xml:"family"`
}

type Route struct {
	Destination string `xml:"destination"`
	Gateway     string `xml:"gateway"`
	FIB         uint32 `xml:"fib"`
	Description string `xml:"description,omitempty"`
}

func NewConfig() *Config {
	return new(Config)
}

// AddInterface appends an interface to the document and returns a pointer
// to it. The pointer is valid until the next AddInterface call.
func (c *Config) AddInterface(name string, enabled bool, fib uint32) *Interface {
	c.Interfaces = append(c.Interfaces, Interface{
		Name:    name,
		Enabled: enabled,
		FIB:     fib,
	})

	return &c.Interfaces[len(c.Interfaces)-1]
}

// AddAddress validates the prefix and attaches it to the interface.
func (i *Interface) AddAddress(prefix string) error {
	family, err := ValidatePrefix(prefix)
	if err != nil {
		return err
	}

	i.Addresses = append(i.Addresses, Address{IP: prefix, Family: family})

	return nil
}

func (c *Config) AddRoute(destination, gateway string, fib uint32, description string) error {
	if _, err := ValidatePrefix(destination); err != nil {
		return fmt.Errorf("route destination: %w", err)
	}
	if _, err := ValidateAddress(gateway); err != nil {
		return fmt.Errorf("route gateway: %w", err)
	}

	c.Routes = append(c.Routes, Route{
		Destination: destination,
		Gateway:     gateway,
		FIB:         fib,
		Description: description,
	})

	return nil
}

func (c *Config) Encode() (string, error) {
	b, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}

	return xml.Header + string(b) + "\n", nil
}
