package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIPResolver attributes a request to a client address. X-Forwarded-For
// and X-Real-IP are only read when the direct peer is a trusted proxy.
type clientIPResolver struct {
	trusted []netip.Prefix
}

func (c clientIPResolver) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return c.fromForwardedFor(xff, peer)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// fromForwardedFor walks the chain right to left and returns the first hop
// that is not a trusted proxy. Entries left of an unparsable one are ignored.
func (c clientIPResolver) fromForwardedFor(xff, peer string) string {
	hops := strings.Split(xff, ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			return client
		}
		client = hop
		if !c.isTrusted(hop) {
			return hop
		}
	}
	return client
}

func (c clientIPResolver) isTrusted(ip string) bool {
	if len(c.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
