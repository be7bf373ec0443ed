// Package geo is the address-to-location resolver boundary. Lookups are
// best-effort: a failed or unknown lookup degrades to an empty result and
// never interrupts event decoding.
package geo

import "net/netip"

// Resolver maps an address to an optional country or location string.
// An empty string with a nil error means "unknown".
type Resolver interface {
	Country(addr netip.Addr) (string, error)
}

// Nop resolves nothing. Used when location lookups are disabled.
type Nop struct{}

func (Nop) Country(netip.Addr) (string, error) { return "", nil }

// Static resolves from a fixed address-to-country table. Useful for tests
// and for small operator-provided mappings.
type Static map[string]string

func (s Static) Country(addr netip.Addr) (string, error) {
	return s[addr.String()], nil
}
