// Package targets turns a subnet specification and an explicit IP list into
// the de-duplicated set of IPv4 addresses a scan will probe.
package targets

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/HerbHall/relayscan/pkg/models"
)

// DefaultMaxTargets bounds a single expansion to a /16.
const DefaultMaxTargets = 1 << 16

var (
	// ErrInvalidTargetSpec reports a malformed CIDR string.
	ErrInvalidTargetSpec = fmt.Errorf("invalid CIDR range: %w", models.ErrInvalidInput)
	// ErrTooManyTargets reports a subnet larger than the configured ceiling.
	ErrTooManyTargets = fmt.Errorf("subnet too large: %w", models.ErrInvalidInput)
)

// dottedQuad is a syntax check only; octets are not range-checked.
var dottedQuad = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// IsValidIP reports whether s looks like a dotted-quad IPv4 address.
func IsValidIP(s string) bool {
	return dottedQuad.MatchString(s)
}

// Enumerator expands target specifications.
type Enumerator struct {
	// MaxTargets caps the size of a subnet expansion. Zero means DefaultMaxTargets.
	MaxTargets int
}

// Expand returns the usable hosts of subnet (network and broadcast dropped
// when the block holds more than two addresses) followed by every valid
// ipList entry not already present. Malformed list entries are skipped.
// An empty subnet contributes nothing.
func (e Enumerator) Expand(subnet string, ipList []string) ([]string, error) {
	var hosts []string
	if s := strings.TrimSpace(subnet); s != "" {
		_, size, err := Network(s)
		if err != nil {
			return nil, err
		}
		limit := e.MaxTargets
		if limit <= 0 {
			limit = DefaultMaxTargets
		}
		if size > uint64(limit) {
			return nil, fmt.Errorf("%s has %d addresses, limit %d: %w", s, size, limit, ErrTooManyTargets)
		}
		all, err := ExpandCIDR(s)
		if err != nil {
			return nil, err
		}
		hosts = UsableHosts(all)
	}

	seen := make(map[string]struct{}, len(hosts)+len(ipList))
	out := make([]string, 0, len(hosts)+len(ipList))
	add := func(ip string) {
		if _, dup := seen[ip]; dup {
			return
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	for _, ip := range hosts {
		add(ip)
	}
	for _, raw := range ipList {
		ip := strings.TrimSpace(raw)
		if IsValidIP(ip) {
			add(ip)
		}
	}
	return out, nil
}

// Expand is Enumerator{}.Expand.
func Expand(subnet string, ipList []string) ([]string, error) {
	return Enumerator{}.Expand(subnet, ipList)
}

// Network parses cidr and returns the masked network base and the number of
// addresses in the block.
func Network(cidr string) (base uint32, size uint64, err error) {
	addrPart, prefixPart, ok := strings.Cut(strings.TrimSpace(cidr), "/")
	if !ok {
		return 0, 0, fmt.Errorf("%q: missing prefix: %w", cidr, ErrInvalidTargetSpec)
	}
	prefix, err := strconv.Atoi(prefixPart)
	if err != nil || prefix < 0 || prefix > 32 {
		return 0, 0, fmt.Errorf("%q: bad prefix: %w", cidr, ErrInvalidTargetSpec)
	}
	// Octets are read as decimal, so "192.168.001.0" is 192.168.1.0.
	if !IsValidIP(addrPart) {
		return 0, 0, fmt.Errorf("%q: bad address: %w", cidr, ErrInvalidTargetSpec)
	}
	var ip uint32
	for _, octet := range strings.Split(addrPart, ".") {
		n, _ := strconv.Atoi(octet)
		if n > 255 {
			return 0, 0, fmt.Errorf("%q: bad address: %w", cidr, ErrInvalidTargetSpec)
		}
		ip = ip<<8 | uint32(n)
	}
	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	return ip & mask, uint64(1) << (32 - prefix), nil
}

// ExpandCIDR enumerates every address in the block in ascending order,
// including network and broadcast.
func ExpandCIDR(cidr string) ([]string, error) {
	base, size, err := Network(cidr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, size)
	for i := uint64(0); i < size; i++ {
		out = append(out, formatIPv4(base+uint32(i)))
	}
	return out, nil
}

// UsableHosts drops the first and last address of an expansion with more
// than two entries. /31 and /32 expansions are returned unchanged.
func UsableHosts(all []string) []string {
	if len(all) > 2 {
		return all[1 : len(all)-1]
	}
	return all
}

func formatIPv4(v uint32) string {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String()
}

