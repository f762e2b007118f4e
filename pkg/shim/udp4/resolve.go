package udp4

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// FixedPort is the well-known UDP port shim-udp4 binds to, spec.md §6.
const FixedPort = 0x0D1F

// wireName maps an application name in its "APN/API" form to a
// DNS-queryable hostname by replacing "/" with "." per spec.md §6.
// ribtypes.Name never appears here directly to keep this package free of
// a pkg/ribtypes import; callers pass the already-joined string.
func wireName(apn string) string {
	return strings.ReplaceAll(apn, "/", ".")
}

// Resolver resolves an application name to an IPv4 address, either via an
// explicit DNS query (when a resolver address is configured) or via the OS
// hosts file / resolver library (net.LookupHost), covering both resolution
// paths spec.md §6 names ("DNS or hosts file").
type Resolver struct {
	// DNSServer is host:port of an explicit resolver. Empty disables
	// explicit DNS lookups in favor of net.LookupHost.
	DNSServer string
	client    dns.Client
}

// NewResolver returns a Resolver. dnsServer may be empty.
func NewResolver(dnsServer string) *Resolver {
	return &Resolver{DNSServer: dnsServer}
}

// Resolve looks up applName (already in APN/API joined form) and returns
// its IPv4 address.
func (r *Resolver) Resolve(applName string) (net.IP, error) {
	host := wireName(applName)

	if r.DNSServer != "" {
		ip, err := r.resolveDNS(host)
		if err == nil {
			return ip, nil
		}
		// fall through to hosts-file resolution per spec.md §6's "DNS or
		// hosts file", rather than failing outright on a resolver miss.
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("udp4: resolve %q: %w", host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a).To4(); ip != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("udp4: no IPv4 address found for %q", host)
}

func (r *Resolver) resolveDNS(host string) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	resp, _, err := r.client.Exchange(m, r.DNSServer)
	if err != nil {
		return nil, fmt.Errorf("dns query %q via %s: %w", host, r.DNSServer, err)
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("dns query %q via %s: no A record", host, r.DNSServer)
}
