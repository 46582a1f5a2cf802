// Package metadata resolves the client IP and a coarse client description for
// every request so public verification audit events never carry raw headers.
package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"blockcreds/pkg/requestcontext"
)

// MaxXFFHeaderLength is the maximum accepted length for X-Forwarded-For.
const MaxXFFHeaderLength = 500

// Config holds configuration for the metadata middleware.
type Config struct {
	// TrustedProxies is a list of IP prefixes (CIDR notation) that are trusted
	// to set X-Forwarded-For headers. If empty, XFF is never trusted.
	TrustedProxies []netip.Prefix
}

// DefaultConfig returns a Config with no trusted proxies.
func DefaultConfig() *Config {
	return &Config{}
}

// ParseTrustedProxies converts a comma separated CIDR list. Invalid entries
// are skipped.
func ParseTrustedProxies(raw string) []netip.Prefix {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Middleware handles client metadata extraction with configurable trusted proxies.
type Middleware struct {
	config *Config
}

// NewMiddleware creates a new metadata middleware with the given config.
func NewMiddleware(cfg *Config) *Middleware {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Middleware{config: cfg}
}

// Handler stores the client IP and described User-Agent in the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.extractClientIP(r)
		agent := DescribeUserAgent(r.Header.Get("User-Agent"))

		ctx := requestcontext.WithClientMetadata(r.Context(), ip, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DescribeUserAgent reduces a User-Agent header to "Browser on OS".
// Returns "" for an empty header.
func DescribeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}

	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}

	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			os = platform
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

func (m *Middleware) extractClientIP(r *http.Request) string {
	remoteIP := parseRemoteAddr(r.RemoteAddr)
	if remoteIP == "" {
		return "unknown"
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := r.Header.Get("X-Real-IP"); xri != "" && m.isTrustedProxy(remoteIP) {
			if len(xri) <= MaxXFFHeaderLength {
				return strings.TrimSpace(xri)
			}
		}
		return remoteIP
	}

	if !m.isTrustedProxy(remoteIP) || len(xff) > MaxXFFHeaderLength {
		return remoteIP
	}

	// First entry is the original client.
	clientIP, _, _ := strings.Cut(xff, ",")
	clientIP = strings.TrimSpace(clientIP)
	if _, err := netip.ParseAddr(clientIP); err != nil {
		return remoteIP
	}
	return clientIP
}

func (m *Middleware) isTrustedProxy(ip string) bool {
	if len(m.config.TrustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, prefix := range m.config.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr strips the port from RemoteAddr.
func parseRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}

	// [::1]:port
	if strings.HasPrefix(remoteAddr, "[") {
		if idx := strings.LastIndex(remoteAddr, "]:"); idx != -1 {
			return remoteAddr[1:idx]
		}
		return strings.Trim(strings.Split(remoteAddr, "]:")[0], "[]")
	}

	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		return remoteAddr[:idx]
	}

	return remoteAddr
}
