package httpclient

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 20 * time.Second
	DefaultConnectTimeout  = 800 * time.Millisecond
	DefaultReadTimeout     = 6 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

// Options tunes a client built by New. Zero values take the package defaults.
type Options struct {
	// ConnectTimeout bounds TCP dial and TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers once the request is written.
	ReadTimeout time.Duration
	// Timeout is the whole-exchange cap (http.Client.Timeout).
	Timeout time.Duration

	MaxIdleConnsPerHost int

	// RequestsPerSecond paces every request through one token bucket.
	// 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// HostConcurrency caps in-flight requests per scheme+host. 0 = unlimited.
	HostConcurrency int

	// Tracing wraps the transport with otelhttp client spans.
	Tracing bool
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxIdleConnsPerHost <= 0 {
		o.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	}
	if o.RequestsPerSecond > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
}

var defaultClient *http.Client

func init() {
	defaultClient = New(Options{})
}

// Default returns the shared tuned HTTP client.
func Default() *http.Client {
	return defaultClient
}

// New builds a client with keep-alive pooling, explicit connect/read
// timeouts and transparent gzip/deflate/br body decoding.
func New(opts Options) *http.Client {
	opts.applyDefaults()
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ForceAttemptHTTP2:     true,
	}

	var rt http.RoundTripper = base
	if opts.Tracing {
		rt = otelhttp.NewTransport(rt)
	}
	rt = &decodingTransport{next: rt}
	if opts.RequestsPerSecond > 0 || opts.HostConcurrency > 0 {
		lt := &limitedTransport{next: rt}
		if opts.RequestsPerSecond > 0 {
			lt.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
		}
		if opts.HostConcurrency > 0 {
			lt.hosts = NewHostSemaphore(opts.HostConcurrency)
		}
		rt = lt
	}
	return &http.Client{Timeout: opts.Timeout, Transport: rt}
}

// WithTimeout returns a client with the given overall timeout and default tuning.
func WithTimeout(timeout time.Duration) *http.Client {
	return New(Options{Timeout: timeout})
}
