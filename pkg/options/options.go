// Package options collects the flag-bound configuration structs shared by
// every syncd binary. Each struct knows its own defaults, its own flag
// names, and its own validation — cmd/*/app wires them into a single
// viper-backed config tree.
package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every configuration struct in this package so
// that cmd/*/app can treat them uniformly when building the flag set and
// running validation.
type IOptions interface {
	// Validate checks the options for invalid values and returns every
	// problem found, rather than failing fast on the first one.
	Validate() []error

	// AddFlags registers this option group's flags on the given FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a well-formed host:port pair.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
