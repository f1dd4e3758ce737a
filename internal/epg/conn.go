package epg

import (
	"time"

	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/portal"
)

const (
	ConnectTimeout = 600 * time.Millisecond
	ReadTimeout    = 500 * time.Millisecond
)

// NewConn builds the connection EPG lookups use. Guide data is best effort,
// so unless cfg says otherwise it fails fast and never retries.
func NewConn(cfg portal.Config) (*portal.Conn, error) {
	if cfg.Client == nil {
		cfg.Client = httpclient.New(httpclient.Options{
			ConnectTimeout: ConnectTimeout,
			ReadTimeout:    ReadTimeout,
			Timeout:        ConnectTimeout + ReadTimeout + time.Second,
		})
	}
	if cfg.Retry == nil {
		cfg.Retry = &httpclient.NoRetry
	}
	return portal.NewConn(cfg)
}
