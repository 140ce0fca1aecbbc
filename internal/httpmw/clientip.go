package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// UnknownIP is reported when no usable address can be derived.
const UnknownIP = "unknown"

type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the server.
	// 0 ignores X-Forwarded-For, 1 takes the rightmost entry (single load
	// balancer), 2 the second from the right, and so on.
	TrustedHops int
	// Header, when set, names a single-value header written by the edge
	// (for example CF-Connecting-IP or X-Nf-Client-Connection-Ip). It wins
	// over X-Forwarded-For but is only read from private peers.
	Header string
}

func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, opts)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request, extra string) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
	if extra != "" {
		r.Header.Del(extra)
	}
}

// clientAddr trusts forwarding headers only when the TCP peer is a private
// address, i.e. our own load balancer. Public peers get their headers
// stripped so nothing downstream can read a forged value.
func clientAddr(r *http.Request, opts ClientIPOptions) string {
	if r.RemoteAddr == "" {
		return UnknownIP
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return UnknownIP
	}
	if !ip.IsPrivate() && !ip.IsLoopback() {
		stripForwarded(r, opts.Header)
		return ip.String()
	}

	if opts.Header != "" {
		if v := strings.TrimSpace(r.Header.Get(opts.Header)); net.ParseIP(v) != nil {
			return v
		}
	}

	if opts.TrustedHops <= 0 {
		stripForwarded(r, opts.Header)
		return ip.String()
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return ip.String()
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - opts.TrustedHops
	if idx < 0 {
		// fewer entries than configured proxies
		stripForwarded(r, opts.Header)
		return ip.String()
	}
	if cand := strings.TrimSpace(parts[idx]); net.ParseIP(cand) != nil {
		return cand
	}
	return ip.String()
}

// ClientIPFromContext returns the resolved client address, or UnknownIP.
func ClientIPFromContext(ctx context.Context) string {
	if ip, _ := ctx.Value(clientIPKey{}).(string); ip != "" {
		return ip
	}
	return UnknownIP
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
