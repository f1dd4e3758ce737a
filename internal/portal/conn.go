package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
)

const (
	UserAgent  = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG200 stbapp ver: 2 rev: 250 Safari/533.3"
	XUserAgent = "Model: MAG250; Link: WiFi"

	DefaultLanguage = "en"
	DefaultTimezone = "Europe/Paris"

	maxBodyBytes = 32 << 20
)

// Credentials is the auth material attached to one request. Header and
// Cookies override the connection defaults key by key.
type Credentials struct {
	Token   string
	Header  http.Header
	Cookies map[string]string
}

// CredentialsFunc supplies credentials per request. Components that must not
// depend on a session (EPG) take one of these.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// Config describes one portal connection.
type Config struct {
	BaseURL  string
	Dialect  Dialect
	MAC      string
	Language string // stb_lang cookie; default "en"
	Timezone string // timezone cookie; default Europe/Paris

	// Client may be nil to use httpclient.Default().
	Client *http.Client
	// Retry may be nil to use httpclient.DefaultRetryPolicy.
	Retry  *httpclient.RetryPolicy
	Logger *zerolog.Logger
}

// Conn shapes and sends portal requests. It is safe for concurrent use.
type Conn struct {
	base      string
	dialect   Dialect
	mac       string
	lang      string
	tz        string
	client    *http.Client
	retry     httpclient.RetryPolicy
	endpoints []string
	preferred atomic.Int32
	log       zerolog.Logger
}

// NewConn validates cfg and returns a connection.
func NewConn(cfg Config) (*Conn, error) {
	base, err := NormalizeBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		base:      base,
		dialect:   cfg.Dialect,
		mac:       cfg.MAC,
		lang:      cfg.Language,
		tz:        cfg.Timezone,
		client:    cfg.Client,
		retry:     httpclient.DefaultRetryPolicy,
		endpoints: cfg.Dialect.Endpoints(base),
	}
	if c.lang == "" {
		c.lang = DefaultLanguage
	}
	if c.tz == "" {
		c.tz = DefaultTimezone
	}
	if c.client == nil {
		c.client = httpclient.Default()
	}
	if cfg.Retry != nil {
		c.retry = *cfg.Retry
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	} else {
		c.log = log.WithComponent("portal")
	}
	c.log = c.log.With().Str(log.FieldPortal, base).Str(log.FieldDialect, c.dialect.String()).Logger()
	return c, nil
}

func (c *Conn) Base() string { return c.base }

func (c *Conn) Dialect() Dialect { return c.dialect }

func (c *Conn) MAC() string { return c.mac }

func (c *Conn) Endpoints() []string { return append([]string(nil), c.endpoints...) }

// Get performs one portal action. params must carry "type" and "action".
// On 404/405/5xx or a transport failure the next dialect endpoint is tried;
// the endpoint that answers is preferred for later calls.
func (c *Conn) Get(ctx context.Context, params url.Values, creds Credentials) (*Envelope, error) {
	typ, action := params.Get("type"), params.Get("action")
	op := typ + "/" + action

	q := make(url.Values, len(params)+1)
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("JsHttpRequest", "1-xml")
	query := q.Encode()

	order := c.endpointOrder()
	var lastErr error
	for i, idx := range order {
		env, err := c.do(ctx, c.endpoints[idx], query, op, creds)
		if err == nil {
			c.preferred.Store(int32(idx))
			metrics.IncPortalCall(typ, action, "ok")
			return env, nil
		}
		lastErr = err
		if ctx.Err() != nil || i == len(order)-1 || !shouldFallback(err) {
			break
		}
		metrics.IncEndpointFallback()
		c.log.Debug().
			Str(log.FieldAction, op).
			Str(log.FieldEndpoint, c.endpoints[idx]).
			Err(err).
			Msg("endpoint failed; trying alternate")
	}
	metrics.IncPortalCall(typ, action, "error")
	return nil, lastErr
}

func (c *Conn) endpointOrder() []int {
	order := make([]int, 0, len(c.endpoints))
	p := int(c.preferred.Load())
	if p < 0 || p >= len(c.endpoints) {
		p = 0
	}
	order = append(order, p)
	for i := range c.endpoints {
		if i != p {
			order = append(order, i)
		}
	}
	return order
}

func shouldFallback(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	switch StatusOf(err) {
	case http.StatusNotFound, http.StatusMethodNotAllowed,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Conn) do(ctx context.Context, endpoint, query, op string, creds Credentials) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query, nil)
	if err != nil {
		return nil, &Error{Sentinel: ErrTransport, Op: op, Err: err}
	}
	c.shape(req, creds)

	resp, err := httpclient.DoWithRetry(ctx, c.client, req, c.retry)
	if err != nil {
		return nil, &Error{Sentinel: ErrTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Sentinel: ErrTransport, Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Sentinel: statusSentinel(resp.StatusCode), Op: op, Status: resp.StatusCode}
	}
	env, err := Decode(body)
	if err != nil {
		return nil, &Error{Sentinel: ErrDecode, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%v: body %q", err, preview(body))}
	}
	return env, nil
}

func (c *Conn) shape(req *http.Request, creds Credentials) {
	h := req.Header
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Pragma", "no-cache")
	if c.dialect == DialectExtended {
		h.Set("X-User-Agent", XUserAgent)
		h.Set("Referer", c.base+webClientPath)
	}
	if creds.Token != "" {
		h.Set("Authorization", "Bearer "+creds.Token)
	}
	for k, vs := range creds.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	cookies := map[string]string{
		"mac":      c.mac,
		"stb_lang": c.lang,
		"timezone": c.tz,
	}
	if creds.Token != "" {
		cookies["token"] = creds.Token
	}
	for k, v := range creds.Cookies {
		cookies[k] = v
	}
	h.Set("Cookie", cookieHeader(cookies))
}

// cookieHeader renders a deterministic Cookie header with percent-escaped
// values ('/' kept literal, as the web client does).
func cookieHeader(cookies map[string]string) string {
	keys := make([]string, 0, len(cookies))
	for k, v := range cookies {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+cookieEscape(cookies[k]))
	}
	return strings.Join(parts, "; ")
}

func cookieEscape(s string) string {
	s = url.QueryEscape(s)
	s = strings.ReplaceAll(s, "+", "%20")
	return strings.ReplaceAll(s, "%2F", "/")
}

func preview(b []byte) string {
	const n = 120
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
