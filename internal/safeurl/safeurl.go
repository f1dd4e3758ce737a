package safeurl

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes for portal base URLs.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

var streamSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"rtsp":   true,
	"rtmp":   true,
	"mms":    true,
	"custom": true,
}

var hostLabel = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// IsStreamURL reports whether s is structurally a playable stream reference:
// a known streaming scheme, a host made of DNS-ish labels (or an IP literal)
// and an optional numeric port. Single-label hosts are allowed.
func IsStreamURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Opaque != "" {
		return false
	}
	if !streamSchemes[strings.ToLower(u.Scheme)] {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if port := u.Port(); port != "" && strings.Trim(port, "0123456789") != "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(ascii, "."), ".") {
		if !hostLabel.MatchString(label) {
			return false
		}
	}
	return true
}
