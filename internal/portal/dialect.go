package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/snapetech/stalkerportal/internal/safeurl"
)

// Dialect selects the base-path and header conventions of a portal deployment.
type Dialect int

const (
	// DialectExtended is rooted at /stalker_portal/server/load.php with
	// /stalker_portal/load.php as the alternate path.
	DialectExtended Dialect = iota
	// DialectSimple is rooted at /portal.php.
	DialectSimple
)

const (
	extendedPath    = "/stalker_portal/server/load.php"
	extendedAltPath = "/stalker_portal/load.php"
	simplePath      = "/portal.php"
	webClientPath   = "/stalker_portal/c/index.html"
)

func (d Dialect) String() string {
	switch d {
	case DialectSimple:
		return "simple"
	default:
		return "extended"
	}
}

// ParseDialect accepts "extended"/"stalker" and "simple"/"portal".
// The empty string selects the extended dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extended", "stalker", "stalker_portal":
		return DialectExtended, nil
	case "simple", "portal", "generic":
		return DialectSimple, nil
	}
	return DialectExtended, fmt.Errorf("portal: unknown dialect %q", s)
}

// Endpoints lists the load endpoints to try in order.
func (d Dialect) Endpoints(base string) []string {
	if d == DialectSimple {
		return []string{base + simplePath}
	}
	return []string{base + extendedPath, base + extendedAltPath}
}

// TokenValidity is the default lifetime of a handshake token.
func (d Dialect) TokenValidity() time.Duration {
	if d == DialectSimple {
		return 10 * time.Minute
	}
	return time.Hour
}

// FirstPage is the index of the first get_ordered_list page. The simple
// dialect counts pages from zero.
func (d Dialect) FirstPage() int {
	if d == DialectSimple {
		return 0
	}
	return 1
}

// SeriesType is the "type" parameter for series listings.
func (d Dialect) SeriesType() string {
	if d == DialectSimple {
		return "series"
	}
	return "vod"
}

// NormalizeBase reduces a portal URL to scheme://host[:port].
func NormalizeBase(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !safeurl.IsHTTPOrHTTPS(raw) {
		return "", fmt.Errorf("portal: base url %q must be http(s)", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("portal: base url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}
