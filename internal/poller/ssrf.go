package poller

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedURL marks an endpoint rejected by the SSRF policy. Blocked URLs
// never cause an outbound fetch and bypass the circuit breaker.
var ErrBlockedURL = errors.New("blocked URL")

// blockedHosts are hostnames refused regardless of resolution.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// blockedSuffixes are hostname suffixes refused regardless of resolution.
var blockedSuffixes = []string{".localhost", ".internal", ".local"}

// ValidateEndpoint checks a health endpoint against the SSRF policy: only
// http/https schemes, no loopback, private, link-local, or unspecified IP
// literals, and no blocked hostnames. It never resolves DNS; hostname
// policy is purely string-based.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrBlockedURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}

	if blockedHosts[host] {
		return fmt.Errorf("%w: host %q is blocked", ErrBlockedURL, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %q is blocked", ErrBlockedURL, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return fmt.Errorf("%w: IP address is not routable from this service", ErrBlockedURL)
		}
	}

	return nil
}

// isForbiddenIP reports whether an IP literal falls inside the loopback,
// private, link-local, or unspecified ranges.
func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
