// Package validation parses and validates CIDR address strings per IP
// version. Invalid entries are collected as warnings rather than failing the
// whole input; an input with zero valid entries is a hard validation error.
package validation

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// ErrNoValidAddresses indicates every supplied address was rejected.
// This fails before any remote call is made.
var ErrNoValidAddresses = errors.New("no valid addresses")

// Warning describes one rejected address and why it was dropped.
type Warning struct {
	// Address is the input string as given.
	Address string
	// Reason is a human-readable rejection reason.
	Reason string
}

// String renders the warning for logs.
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Address, w.Reason)
}

// ParseCIDRs validates addrs against the declared IP version and returns the
// canonical (masked) CIDR strings of the valid entries, preserving first-seen
// order with duplicates collapsed. A bare address without a prefix length is
// accepted and canonicalized to a single-host prefix. Rejected entries are
// returned as warnings; when no entry survives, the error wraps
// ErrNoValidAddresses.
func ParseCIDRs(version policy.IPVersion, addrs []string) ([]string, []Warning, error) {
	if version != policy.IPv4 && version != policy.IPv6 {
		return nil, nil, fmt.Errorf("unknown ip version %q", version)
	}

	valid := make([]string, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	var warnings []Warning

	for _, raw := range addrs {
		prefix, err := parsePrefix(raw)
		if err != nil {
			warnings = append(warnings, Warning{Address: raw, Reason: err.Error()})
			continue
		}
		if err := checkVersion(version, prefix); err != nil {
			warnings = append(warnings, Warning{Address: raw, Reason: err.Error()})
			continue
		}
		canonical := prefix.Masked().String()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		valid = append(valid, canonical)
	}

	if len(valid) == 0 {
		return nil, warnings, fmt.Errorf("%w (rejected %d of %d)", ErrNoValidAddresses, len(warnings), len(addrs))
	}
	return valid, warnings, nil
}

// parsePrefix parses a CIDR string, accepting a bare address as a
// single-host prefix.
func parsePrefix(raw string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(raw); err == nil {
		return prefix, nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, errors.New("not a valid CIDR or IP address")
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// checkVersion rejects prefixes whose address family does not match the
// declared version. IPv4-mapped IPv6 forms are rejected for v4 sets: the
// remote store treats them as distinct values.
func checkVersion(version policy.IPVersion, prefix netip.Prefix) error {
	addr := prefix.Addr()
	switch version {
	case policy.IPv4:
		if !addr.Is4() {
			return errors.New("not an IPv4 range")
		}
	case policy.IPv6:
		if !addr.Is6() || addr.Is4In6() {
			return errors.New("not an IPv6 range")
		}
	}
	return nil
}
