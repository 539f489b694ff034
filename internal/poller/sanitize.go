package poller

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxErrorLength bounds persisted error messages.
const maxErrorLength = 200

// errnoPhrases maps well-known OS and Go network error markers to stable
// human phrases. Checked case-insensitively, first match wins.
var errnoPhrases = []struct {
	marker string
	phrase string
}{
	{"econnrefused", "Connection refused"},
	{"connection refused", "Connection refused"},
	{"etimedout", "Connection timed out"},
	{"i/o timeout", "Connection timed out"},
	{"context deadline exceeded", "Connection timed out"},
	{"enotfound", "DNS lookup failed"},
	{"no such host", "DNS lookup failed"},
	{"econnreset", "Connection reset"},
	{"connection reset", "Connection reset"},
	{"ehostunreach", "Host unreachable"},
	{"enetunreach", "Network unreachable"},
	{"network is unreachable", "Network unreachable"},
	{"epipe", "Connection closed"},
	{"broken pipe", "Connection closed"},
	{"certificate", "TLS certificate error"},
	{"tls handshake", "TLS handshake failed"},
	{"context canceled", "Request cancelled"},
}

var (
	httpStatusRe = regexp.MustCompile(`(?i)\bHTTP[ /](?:\d\.\d )?(\d{3})\b[^,;.]*`)
	urlRe        = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)
	ipv4Re       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	ipv6Re       = regexp.MustCompile(`\[?(?:[0-9a-fA-F]{0,4}:){2,7}[0-9a-fA-F]{0,4}\]?(?::\d+)?`)
	pathRe       = regexp.MustCompile(`(?:/[\w.-]+){2,}`)
)

// SanitizeError rewrites an error message for persistence or emission. This
// is a trust boundary: raw messages may embed internal IPs, URLs, and
// filesystem paths, none of which may leave the process.
//
// Known network errors collapse to a stable phrase. HTTP status noise
// collapses to "HTTP NNN". Anything else has IPs, URLs, and paths replaced
// with redaction tokens and is truncated to 200 characters.
func SanitizeError(msg string) string {
	if msg == "" {
		return ""
	}

	lower := strings.ToLower(msg)
	for _, e := range errnoPhrases {
		if strings.Contains(lower, e.marker) {
			return e.phrase
		}
	}

	out := httpStatusRe.ReplaceAllString(msg, "HTTP $1")
	out = urlRe.ReplaceAllString(out, "[url]")
	out = ipv6Re.ReplaceAllString(out, "[ip]")
	out = ipv4Re.ReplaceAllString(out, "[ip]")
	out = pathRe.ReplaceAllString(out, "[path]")
	out = strings.TrimSpace(out)

	if len(out) > maxErrorLength {
		out = truncateRunes(out, maxErrorLength-3) + "..."
	}
	return out
}

// truncateRunes cuts s to at most max bytes without splitting a multi-byte
// rune at the boundary.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
