package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/portal"
)

// Result is the outcome of probing one portal dialect.
type Result struct {
	Dialect    portal.Dialect
	Endpoint   string
	Status     Status
	StatusCode int
	LatencyMs  int64
}

type Status string

const (
	StatusOK         Status = "ok"
	StatusNotFound   Status = "not_found"
	StatusCloudflare Status = "cloudflare"
	StatusBadStatus  Status = "bad_status"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

const (
	probeTimeout = 10 * time.Second
	previewBytes = 64 << 10
)

var dialects = []portal.Dialect{portal.DialectExtended, portal.DialectSimple}

// ProbeOne sends a bare handshake to each endpoint of dialect d at base and
// returns the first endpoint that hands out a token. When none does, the
// primary endpoint's result is returned.
func ProbeOne(ctx context.Context, base string, d portal.Dialect, mac string, client *http.Client) Result {
	norm, err := portal.NormalizeBase(base)
	if err != nil {
		return Result{Dialect: d, Endpoint: base, Status: StatusError}
	}
	if client == nil {
		client = httpclient.WithTimeout(probeTimeout)
	}
	var first Result
	for i, ep := range d.Endpoints(norm) {
		r := probeEndpoint(ctx, ep, d, mac, client)
		if r.Status == StatusOK {
			return r
		}
		if i == 0 {
			first = r
		}
		if ctx.Err() != nil {
			break
		}
	}
	return first
}

func probeEndpoint(ctx context.Context, endpoint string, d portal.Dialect, mac string, client *http.Client) Result {
	q := url.Values{
		"type":          {"stb"},
		"action":        {"handshake"},
		"token":         {""},
		"JsHttpRequest": {"1-xml"},
	}
	start := time.Now()
	res := Result{Dialect: d, Endpoint: endpoint}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		res.Status = StatusError
		return res
	}
	req.Header.Set("User-Agent", portal.UserAgent)
	if d == portal.DialectExtended {
		req.Header.Set("X-User-Agent", portal.XUserAgent)
	}
	if mac != "" {
		req.AddCookie(&http.Cookie{Name: "mac", Value: mac})
	}
	req.AddCookie(&http.Cookie{Name: "stb_lang", Value: portal.DefaultLanguage})

	resp, err := client.Do(req)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = StatusError
		if isTimeout(err) {
			res.Status = StatusTimeout
		}
		return res
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, previewBytes))
	res.StatusCode = resp.StatusCode

	// Only call it Cloudflare when the server says so or the challenge page is unmistakable.
	server := strings.ToLower(strings.TrimSpace(resp.Header.Get("Server")))
	lower := strings.ToLower(string(body))
	challenge := strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-bypass") ||
		strings.Contains(lower, "ray id")
	switch {
	case resp.StatusCode == http.StatusOK:
	case server == "cloudflare" || (challenge && cfStatus(resp.StatusCode)):
		res.Status = StatusCloudflare
		return res
	case resp.StatusCode == http.StatusNotFound:
		res.Status = StatusNotFound
		return res
	default:
		res.Status = StatusBadStatus
		return res
	}

	env, err := portal.Decode(body)
	if err != nil || env.Object().Str("token") == "" {
		res.Status = StatusBadStatus
		return res
	}
	res.Status = StatusOK
	return res
}

func cfStatus(code int) bool {
	switch code {
	case 403, 503, 520, 521, 524:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ProbeAll probes every dialect at base and returns results sorted by: OK
// first (by latency), then non-OK in dialect order.
func ProbeAll(ctx context.Context, base, mac string, client *http.Client) []Result {
	out := make([]Result, 0, len(dialects))
	for _, d := range dialects {
		out = append(out, ProbeOne(ctx, base, d, mac, client))
	}
	sort.SliceStable(out, func(i, j int) bool {
		okI := out[i].Status == StatusOK
		okJ := out[j].Status == StatusOK
		if okI != okJ {
			return okI
		}
		if okI {
			return out[i].LatencyMs < out[j].LatencyMs
		}
		return false
	})
	return out
}

// BestDialect returns the dialect of the first OK result from ProbeAll.
func BestDialect(ctx context.Context, base, mac string, client *http.Client) (portal.Dialect, bool) {
	for _, r := range ProbeAll(ctx, base, mac, client) {
		if r.Status == StatusOK {
			return r.Dialect, true
		}
	}
	return portal.DialectExtended, false
}
