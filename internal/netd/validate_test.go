package netd

import (
	"testing"

	"github.com/0xef53/hvd/hvd"
)

func TestValidateAddresses(t *testing.T) {
	validPrefixes := map[string]string{
		"10.0.0.1/24":        FamilyIPv4,
		"0.0.0.0/0":          FamilyIPv4,
		"255.255.255.255/32": FamilyIPv4,
		"fd00::1/64":         FamilyIPv6,
		"2001:db8::/128":     FamilyIPv6,
	}

	for s, want := range validPrefixes {
		family, err := ValidatePrefix(s)
		if err != nil {
			t.Fatalf("got unexpected error (value = %q): %s", s, err)
		}
		if family != want {
			t.Fatalf("got unexpected family (value = %q):\nwant:\t%s\ngot:\t%s", s, want, family)
		}
	}

	for _, s := range []string{"10.0.0.1", "10.0.0.256/24", "10.0.0/24", "10.0.0.1/129", "10.0.0.1/x", "fd00/64", "a.b.c.d/8", "/24"} {
		if _, err := ValidatePrefix(s); !hvd.IsValidationError(err) {
			t.Fatalf("got unexpected result (value = %q):\nwant:\tValidationError\ngot:\t%v", s, err)
		}
	}

	if err := ValidateIPv6("::1"); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if err := ValidateIPv4("1.2.3.-4"); err == nil {
		t.Fatalf("negative octet was accepted")
	}
}
