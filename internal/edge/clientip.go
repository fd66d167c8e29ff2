// Package edge is the public request router: it resolves an app hostname
// through the load balancer, caches the route per client, and proxies the
// request to the chosen backend instance.
package edge

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the first X-Forwarded-For value when present, else the
// transport peer address. Cache entries are keyed per client so a sticky
// route follows the caller, not the whole edge.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return peerAddr(r)
}

// peerAddr extracts the IP address from r.RemoteAddr, stripping the port.
// Falls back to the raw RemoteAddr if parsing fails.
func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
