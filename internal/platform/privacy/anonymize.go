// Package privacy reduces client identifiers before they reach audit
// records.
package privacy

import "net/netip"

const (
	ipv4Bits = 24
	ipv6Bits = 48
)

// AnonymizeIP masks an address to its /24 (IPv4) or /48 (IPv6) network,
// rendered in canonical form: "192.168.1.47" becomes "192.168.1.0" and
// "2001:db8:85a3::8a2e:370:7334" becomes "2001:db8:85a3::". IPv4-mapped
// IPv6 addresses are treated as IPv4.
//
// Empty input yields "unknown"; anything unparseable yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := ipv6Bits
	if addr.Is4() {
		bits = ipv4Bits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
