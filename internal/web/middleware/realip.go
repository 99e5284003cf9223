package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
)

// TrustedProxies resolves the client address that audit entries record.
// Forwarding headers are honoured only when the connecting peer is one of
// the configured proxies, so an untrusted client cannot put another
// address into the audit trail.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDRs or bare addresses. Invalid entries are
// logged and skipped.
func NewTrustedProxies(entries []string, logger *slog.Logger) *TrustedProxies {
	if logger == nil {
		logger = slog.Default()
	}
	p := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			p.prefixes = append(p.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("ignoring invalid trusted proxy", "entry", entry, "error", err)
			continue
		}
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p
}

// Len returns the number of accepted proxy ranges.
func (p *TrustedProxies) Len() int { return len(p.prefixes) }

func (p *TrustedProxies) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client behind r. X-Real-IP wins over
// the first X-Forwarded-For hop; either is used only from a trusted peer
// and only when it parses as an address.
func (p *TrustedProxies) ClientIP(r *http.Request) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if p.trusts(peer) {
		if addr, ok := forwardedAddr(r.Header); ok {
			return addr.String()
		}
	}
	return peer.Unmap().String()
}

// AuditMetadata stores the resolved client address and user agent in the
// request context, where the import service picks them up for audit
// entries and the access log reads the address.
func (p *TrustedProxies) AuditMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithIPAddress(r.Context(), p.ClientIP(r))
		ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func forwardedAddr(h http.Header) (netip.Addr, bool) {
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		addr, err := netip.ParseAddr(rip)
		return addr.Unmap(), err == nil
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		addr, err := netip.ParseAddr(strings.TrimSpace(first))
		return addr.Unmap(), err == nil
	}
	return netip.Addr{}, false
}

func peerAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	return addr, err == nil
}

// clientIP is the address AuditMetadata resolved, or the peer address when
// the middleware did not run.
func clientIP(r *http.Request) string {
	if ip := core.IPAddressFromContext(r.Context()); ip != "" {
		return ip
	}
	if addr, ok := peerAddr(r.RemoteAddr); ok {
		return addr.Unmap().String()
	}
	return r.RemoteAddr
}
