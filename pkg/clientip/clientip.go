package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"net/textproto"
	"strings"
)

// DefaultHeaders are the proxy headers trusted by NewResolver when none are given
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// Resolver finds the client address of a request. Only headers set by a proxy
// in front of jobq should be trusted; otherwise a sender can pick any address
// and sidestep per-sender limits.
type Resolver struct {
	headers []string
}

// NewResolver trusts the given headers in order, falling back to RemoteAddr.
// With no headers it uses DefaultHeaders; pass "" alone to trust none.
func NewResolver(headers ...string) *Resolver {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}

	trusted := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			trusted = append(trusted, textproto.CanonicalMIMEHeaderKey(h))
		}
	}
	return &Resolver{headers: trusted}
}

// IP returns the normalized client address, or "" when none is valid.
// Comma separated headers yield their first valid entry.
func (r *Resolver) IP(req *http.Request) string {
	for _, h := range r.headers {
		for value := range strings.SplitSeq(req.Header.Get(h), ",") {
			if ip := parseIP(value); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return parseIP(req.RemoteAddr)
	}
	return parseIP(host)
}

// parseIP normalizes an address; IPv4-mapped IPv6 collapses to IPv4 and zones are dropped
func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}
