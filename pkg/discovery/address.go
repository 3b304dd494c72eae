package discovery

import (
	"net"
	"sort"
	"strings"
)

// Address ranks, ascending is better. Most LAN deployments put both the
// server and the displays on 192.168/16, so that range wins.
const (
	rank192168  = 0
	rank10      = 1
	rank172     = 2
	rankUnknown = 3
)

var (
	net10  = mustCIDR("10.0.0.0/8")
	net172 = mustCIDR("172.16.0.0/12")
	net192 = mustCIDR("192.168.0.0/16")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// isLoopback reports whether addr is a loopback address. "localhost" is
// treated as loopback without resolving it.
func isLoopback(addr string) bool {
	if strings.EqualFold(addr, "localhost") {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// rankAddress assigns the priority rank for a non-loopback address.
// Unparseable addresses (hostnames) rank as unknown rather than being
// dropped.
func rankAddress(addr string) int {
	ip := net.ParseIP(addr)
	if ip == nil {
		return rankUnknown
	}
	switch {
	case net192.Contains(ip):
		return rank192168
	case net10.Contains(ip):
		return rank10
	case net172.Contains(ip):
		return rank172
	default:
		return rankUnknown
	}
}

// FilterAddresses discards loopback addresses and sorts the rest
// ascending by rank. Ties keep their original order, so the result is
// deterministic for a given input.
func FilterAddresses(addrs []string) []string {
	type ranked struct {
		addr string
		rank int
	}

	kept := make([]ranked, 0, len(addrs))
	for _, addr := range addrs {
		if addr == "" || isLoopback(addr) {
			continue
		}
		kept = append(kept, ranked{addr: addr, rank: rankAddress(addr)})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].rank < kept[j].rank
	})

	out := make([]string, len(kept))
	for i, r := range kept {
		out[i] = r.addr
	}
	return out
}
