package tracking

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// BotDetector flags user agents that belong to crawlers, link scanners and
// mailbox prefetch proxies. Flagged captures are still recorded; they only
// carry metadata bot=true.
type BotDetector struct {
	patterns []string
}

// NewBotDetector returns a detector with the default pattern list.
func NewBotDetector() *BotDetector {
	return &BotDetector{
		patterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

// IsBot checks if the user agent matches any pattern.
func (d *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, p := range d.patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

// ParseTrustedProxies parses CIDRs or bare addresses of the load balancers
// allowed to set X-Forwarded-For.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: not a CIDR or IP address", e)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// realIP returns the client address. Forwarding headers are honoured only
// when the direct peer is a trusted proxy.
func realIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !fromTrustedProxy(peer, trusted) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return peer
}

func fromTrustedProxy(peer string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
