// host.go - host allow/deny checks
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package daemon

import (
	"net/netip"
)

// hostMatches checks one pattern: "*", an exact address, or a CIDR
// block.
func hostMatches(ip netip.Addr, pat string) bool {
	if pat == "*" {
		return true
	}
	if pfx, err := netip.ParsePrefix(pat); err == nil {
		return pfx.Contains(ip)
	}
	if a, err := netip.ParseAddr(pat); err == nil {
		return a == ip
	}
	return false
}

// HostAllowed applies the allow list (empty admits everyone) and
// then the deny list.
func HostAllowed(ip netip.Addr, allow, deny []string) bool {
	if len(allow) > 0 {
		ok := false
		for _, p := range allow {
			if hostMatches(ip, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, p := range deny {
		if hostMatches(ip, p) {
			return false
		}
	}
	return true
}
