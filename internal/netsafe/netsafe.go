// Package netsafe classifies hosts that the crawler must never reach:
// loopback, private and link-local ranges, and local-only name suffixes.
// It is the SSRF guard applied to the initial target and to every fetch,
// including redirect targets.
package netsafe

import (
	"net/netip"
	"strings"
)

var v4Blocked = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

var v6Blocked = []netip.Prefix{
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),   // unique-local
	netip.MustParsePrefix("fe80::/10"),  // link-local, covers the fe90-feb0 legacy sub-ranges
	netip.MustParsePrefix("fec0::/10"),  // deprecated site-local
}

// Disallowed reports whether host (a hostname or literal IP, optionally
// bracket-wrapped) must not be fetched.
func Disallowed(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	if h == "" {
		return true
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") || strings.HasSuffix(h, ".local") {
		return true
	}
	addr, err := netip.ParseAddr(h)
	if err != nil {
		// Not an IP literal; public hostnames pass.
		return false
	}
	return disallowedAddr(addr)
}

func disallowedAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		// IPv4-mapped: the embedded IPv4 decides.
		return disallowedAddr(addr.Unmap())
	}
	prefixes := v6Blocked
	if addr.Is4() {
		prefixes = v4Blocked
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
