package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/stalkerportal/internal/metrics"
)

// RetryPolicy controls when DoWithRetry tries again. One policy is shared by
// every portal call so retry behaviour is identical across components.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the base delay; retry n waits Backoff * 2^(n-1), capped at MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Retry429: on 429 Too Many Requests, wait Retry-After (capped at Max429Wait).
	Retry429   bool
	Max429Wait time.Duration
	// Retry5xx: retry statuses in RetryStatuses (default 500, 502, 503, 504).
	Retry5xx      bool
	RetryStatuses []int
	// RetryTransportErrors retries timeouts and refused connections.
	RetryTransportErrors bool
}

// DefaultRetryPolicy retries 429 and gateway-ish 5xx three times with
// exponential backoff from 500ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:           3,
	Backoff:              500 * time.Millisecond,
	MaxBackoff:           8 * time.Second,
	Retry429:             true,
	Max429Wait:           60 * time.Second,
	Retry5xx:             true,
	RetryTransportErrors: true,
}

// NoRetry performs exactly one attempt.
var NoRetry = RetryPolicy{}

var defaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

func (p RetryPolicy) retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return p.Retry429
	}
	if !p.Retry5xx {
		return false
	}
	statuses := p.RetryStatuses
	if len(statuses) == 0 {
		statuses = defaultRetryStatuses
	}
	for _, s := range statuses {
		if s == code {
			return true
		}
	}
	return false
}

// backoff returns the wait before retry n (1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	if p.Backoff <= 0 || n < 1 {
		return 0
	}
	if n > 30 {
		n = 30
	}
	d := p.Backoff * time.Duration(1<<(n-1))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) max429Wait() time.Duration {
	if p.Max429Wait <= 0 {
		return 60 * time.Second
	}
	return p.Max429Wait
}

// DoWithRetry performs req, retrying per policy. 4xx other than 429 are never
// retried. The last response is returned as-is when retries run out, so
// callers still see the final status. Caller must close resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 {
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}

		resp, err := client.Do(r)
		if err != nil {
			metrics.IncHTTPAttempt("error", "none")
			if ctx.Err() != nil {
				return nil, err
			}
			if !policy.RetryTransportErrors || attempt >= policy.MaxRetries {
				return nil, err
			}
			metrics.IncHTTPRetry("transport")
			if werr := sleepCtx(ctx, policy.backoff(attempt+1)); werr != nil {
				return nil, werr
			}
			continue
		}

		code := resp.StatusCode
		if code < 400 {
			metrics.IncHTTPAttempt("ok", strconv.Itoa(code))
		} else {
			metrics.IncHTTPAttempt("status", strconv.Itoa(code))
		}
		if !policy.retryableStatus(code) || attempt >= policy.MaxRetries {
			return resp, nil
		}

		wait := policy.backoff(attempt + 1)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			wait = parseRetryAfter(ra, policy.max429Wait())
		}
		reason := "server_error"
		if code == http.StatusTooManyRequests {
			reason = "rate_limited"
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		metrics.IncHTTPRetry(reason)
		if werr := sleepCtx(ctx, wait); werr != nil {
			return nil, werr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns duration capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 * time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 1 * time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
