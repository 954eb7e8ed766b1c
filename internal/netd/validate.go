package netd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/0xef53/hvd/hvd"
)

func ValidateIPv4(addr string) error {
	parts := strings.Split(addr, ".")

	if len(parts) != 4 {
		return &hvd.ValidationError{Field: "IPv4 address", Reason: fmt.Sprintf("'%s' must consist of four octets", addr)}
	}

	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n > 255 {
			return &hvd.ValidationError{Field: "IPv4 address", Reason: fmt.Sprintf("'%s' has an invalid octet '%s'", addr, p)}
		}
	}

	return nil
}

func ValidateIPv6(addr string) error {
	if strings.Count(addr, ":") < 2 {
		return &hvd.ValidationError{Field: "IPv6 address", Reason: fmt.Sprintf("'%s' is not an IPv6 address", addr)}
	}

	return nil
}

// ValidateAddress returns the family of the address.
func ValidateAddress(addr string) (string, error) {
	if strings.Contains(addr, ":") {
		return FamilyIPv6, ValidateIPv6(addr)
	}

	return FamilyIPv4, ValidateIPv4(addr)
}

// ValidatePrefix checks an address with a prefix length (addr/len)
// and returns the family of the address.
func ValidatePrefix(prefix string) (string, error) {
	idx := strings.LastIndexByte(prefix, '/')
	if idx == -1 {
		return "", &hvd.ValidationError{Field: "prefix", Reason: fmt.Sprintf("'%s' has no prefix length", prefix)}
	}

	if n, err := strconv.ParseUint(prefix[idx+1:], 10, 8); err != nil || n > 128 {
		return "", &hvd.ValidationError{Field: "prefix", Reason: fmt.Sprintf("'%s' has an invalid prefix length", prefix)}
	}

	return ValidateAddress(prefix[:idx])
}
