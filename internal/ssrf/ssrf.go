// Package ssrf implements outbound request safety checks (component F):
// reject private/loopback/link-local destinations unless they are on a
// fixed allow-list. A hostname is resolved during the check and every
// address it resolves to must be public; the check returns only a verdict
// and does not pin those addresses for a connection made afterwards.
package ssrf

import (
	"context"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// privateV4 are the IPv4 ranges treated as private for SSRF purposes.
var privateV4 = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
}

// privateV6 are the IPv6 ranges treated as private for SSRF purposes.
var privateV6 = []string{
	"::1/128",
	"fe80::/10",
	"fc00::/7",
}

var privateNets = compileNets(append(append([]string{}, privateV4...), privateV6...))

func compileNets(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("ssrf: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsPrivateIP reports whether ip falls within any private/loopback/
// link-local/unique-local range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS lookup so tests can inject deterministic results.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard evaluates outbound URLs against the allow-list and private-IP
// rules. The zero value uses net.DefaultResolver.
type Guard struct {
	AllowList []string // "host:port" pairs, matched exactly after idna normalization
	Resolver  Resolver
}

// New builds a Guard with the given allow-list entries ("host:port").
func New(allowList []string) *Guard {
	return &Guard{AllowList: allowList, Resolver: net.DefaultResolver}
}

// IsURLSafe runs the ordered checks: parse, allow-list, DNS
// resolution, then private-IP rejection on every resolved address.
func (g *Guard) IsURLSafe(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	port := u.Port()
	if port == "" {
		port = defaultPortFor(u.Scheme)
	}

	normalizedHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		normalizedHost = host
	}

	for _, entry := range g.AllowList {
		allowHost, allowPort, splitErr := net.SplitHostPort(entry)
		if splitErr != nil {
			continue
		}
		if strings.EqualFold(allowHost, normalizedHost) && allowPort == port {
			return true
		}
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, normalizedHost)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, addr := range addrs {
		if IsPrivateIP(addr.IP) {
			return false
		}
	}
	return true
}

func defaultPortFor(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https":
		return "443"
	default:
		return "80"
	}
}
