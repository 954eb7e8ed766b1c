package hvd

import (
	"fmt"
	"regexp"
	"strconv"
)

var nameRe = regexp.MustCompile(`^[0-9A-Za-z_][0-9A-Za-z_.-]*$`)

func ValidateName(name string) error {
	switch {
	case len(name) == 0:
		return &ValidationError{Field: "name", Reason: "empty value"}
	case len(name) > MaxNameLen:
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("max length is %d", MaxNameLen)}
	case !nameRe.MatchString(name):
		return &ValidationError{Field: "name", Reason: "only [0-9A-Za-z_.-] are allowed and the first character must be [0-9A-Za-z_]"}
	}

	return nil
}

func ValidateCPU(n int) error {
	if n < MinCPU || n > MaxCPU {
		return &ValidationError{Field: "CPU count", Reason: fmt.Sprintf("%d is out of range (%d-%d)", n, MinCPU, MaxCPU)}
	}

	return nil
}

func ValidateMemory(mb uint64) error {
	if mb < MinMemory || mb > MaxMemory {
		return &ValidationError{Field: "memory size", Reason: fmt.Sprintf("%d is out of range (%d-%d MB)", mb, MinMemory, MaxMemory)}
	}

	return nil
}

func ValidateFIB(fib int64) error {
	if fib < 0 || fib > MaxFIB {
		return &ValidationError{Field: "FIB ID", Reason: fmt.Sprintf("%d is out of range (0-%d)", fib, MaxFIB)}
	}

	return nil
}

// ParseCPU converts a protocol token into a validated CPU count.
func ParseCPU(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: "CPU count", Reason: fmt.Sprintf("not an integer: '%s'", s)}
	}

	return n, ValidateCPU(n)
}

// ParseMemory converts a protocol token into a validated memory size in MB.
func ParseMemory(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "memory size", Reason: fmt.Sprintf("not an unsigned integer: '%s'", s)}
	}

	return n, ValidateMemory(n)
}

// ParseFIB converts a protocol token into a validated FIB ID.
func ParseFIB(s string) (uint32, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "FIB ID", Reason: fmt.Sprintf("not an integer: '%s'", s)}
	}

	if err := ValidateFIB(n); err != nil {
		return 0, err
	}

	return uint32(n), nil
}

func ParseSizeGB(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, &ValidationError{Field: "disk size", Reason: fmt.Sprintf("must be a positive number of GB: '%s'", s)}
	}

	return n, nil
}

// ValidateIfname checks a host network interface name.
func ValidateIfname(name string) error {
	switch {
	case len(name) == 0:
		return &ValidationError{Field: "interface name", Reason: "empty value"}
	case len(name) > MaxIfnameLen:
		return &ValidationError{Field: "interface name", Reason: fmt.Sprintf("max length is %d", MaxIfnameLen)}
	case !nameRe.MatchString(name):
		return &ValidationError{Field: "interface name", Reason: fmt.Sprintf("'%s' contains invalid characters", name)}
	}

	return nil
}
