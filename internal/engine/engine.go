// Package engine builds the portal client components from a config.Config
// and owns their lifetimes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snapetech/stalkerportal/internal/auth"
	"github.com/snapetech/stalkerportal/internal/config"
	"github.com/snapetech/stalkerportal/internal/epg"
	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/identity"
	"github.com/snapetech/stalkerportal/internal/indexer"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/portal"
	"github.com/snapetech/stalkerportal/internal/provider"
	"github.com/snapetech/stalkerportal/internal/stream"
)

// ErrNoPortal is returned when no configured portal URL answers a probe.
var ErrNoPortal = errors.New("engine: no reachable portal")

const redisPingTimeout = 2 * time.Second

// Engine holds one wired set of components for a single portal.
type Engine struct {
	Conn    *portal.Conn
	Session *auth.Session
	Catalog *indexer.Fetcher
	Streams *stream.Resolver
	EPG     *epg.Manager

	cfg   *config.Config
	loc   *time.Location
	redis *redis.Client
	log   zerolog.Logger
}

// New validates cfg, picks the portal (probing when several URLs or the auto
// dialect are configured) and builds every component. Nothing talks to the
// portal beyond the probe until Connect.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	e := &Engine{cfg: cfg, loc: cfg.Location()}
	if logger != nil {
		e.log = *logger
	} else {
		e.log = log.WithComponent("engine")
	}

	id, err := identity.New(cfg.MAC, cfg.Serial, cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	client := httpclient.New(httpclient.Options{
		ConnectTimeout:    cfg.ConnectTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		HostConcurrency:   cfg.HostConcurrency,
		Tracing:           cfg.Tracing,
	})
	retry := httpclient.DefaultRetryPolicy
	retry.MaxRetries = cfg.MaxRetries

	base, dialect, err := e.pickPortal(ctx, id.MAC, client)
	if err != nil {
		return nil, err
	}

	pcfg := portal.Config{
		BaseURL:  base,
		Dialect:  dialect,
		MAC:      id.MAC,
		Language: cfg.Language,
		Timezone: cfg.Timezone,
		Client:   client,
		Retry:    &retry,
		Logger:   componentLogger(logger, "portal"),
	}
	if e.Conn, err = portal.NewConn(pcfg); err != nil {
		return nil, err
	}
	if e.Session, err = auth.New(auth.Config{
		Conn:                   e.Conn,
		Identity:               id,
		TokenValidity:          cfg.TokenValidity,
		DisablePrehashFallback: cfg.DisablePrehashFallback,
		Logger:                 componentLogger(logger, "auth"),
	}); err != nil {
		return nil, err
	}
	if e.Catalog, err = indexer.New(indexer.Config{
		Session: e.Session,
		Dialect: dialect,
		Workers: cfg.Workers,
		Logger:  componentLogger(logger, "indexer"),
	}); err != nil {
		return nil, err
	}
	if e.Streams, err = stream.New(stream.Config{
		Session:       e.Session,
		PortalBase:    e.Conn.Base(),
		StreamBaseURL: cfg.StreamBaseURL,
		Logger:        componentLogger(logger, "stream"),
	}); err != nil {
		return nil, err
	}

	epgCfg := pcfg
	epgCfg.Client, epgCfg.Retry = nil, nil
	epgCfg.Logger = componentLogger(logger, "epg")
	epgConn, err := epg.NewConn(epgCfg)
	if err != nil {
		return nil, err
	}
	if e.EPG, err = epg.NewManager(epg.Config{
		Conn:        epgConn,
		Credentials: e.Session.Credentials,
		Store:       e.epgStore(ctx),
		CacheTTL:    cfg.EPGCacheTTL,
		Debounce:    cfg.EPGDebounce,
		DefaultSize: cfg.EPGSize,
		Location:    e.loc,
		Logger:      componentLogger(logger, "epg"),
	}); err != nil {
		e.Close()
		return nil, err
	}

	e.log.Info().
		Str(log.FieldPortal, e.Conn.Base()).
		Str(log.FieldDialect, dialect.String()).
		Int("workers", cfg.Workers).
		Bool("redis", e.redis != nil).
		Msg("engine ready")
	return e, nil
}

// pickPortal returns the portal to use. A single URL with a fixed dialect is
// taken as is; otherwise candidates are probed in order and the first one
// that hands out a token wins.
func (e *Engine) pickPortal(ctx context.Context, mac string, client *http.Client) (string, portal.Dialect, error) {
	candidates := e.cfg.Candidates()
	auto := e.cfg.AutoDialect()
	var fixed portal.Dialect
	if !auto {
		d, err := portal.ParseDialect(e.cfg.Dialect)
		if err != nil {
			return "", 0, err
		}
		if len(candidates) == 1 {
			return candidates[0], d, nil
		}
		fixed = d
	}

	for _, base := range candidates {
		if auto {
			for _, r := range provider.ProbeAll(ctx, base, mac, client) {
				e.logProbe(base, r)
				if r.Status == provider.StatusOK {
					return base, r.Dialect, nil
				}
			}
			continue
		}
		r := provider.ProbeOne(ctx, base, fixed, mac, client)
		e.logProbe(base, r)
		if r.Status == provider.StatusOK {
			return base, fixed, nil
		}
	}
	return "", 0, fmt.Errorf("%w: tried %d url(s)", ErrNoPortal, len(candidates))
}

func (e *Engine) logProbe(base string, r provider.Result) {
	e.log.Debug().
		Str(log.FieldPortal, base).
		Str(log.FieldDialect, r.Dialect.String()).
		Str(log.FieldEndpoint, r.Endpoint).
		Str(log.FieldStatus, string(r.Status)).
		Int64("latency_ms", r.LatencyMs).
		Msg("portal probe")
}

// epgStore returns a Redis store when one is configured and reachable, else
// the in-process store.
func (e *Engine) epgStore(ctx context.Context) epg.Store {
	if e.cfg.RedisAddr == "" {
		return epg.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     e.cfg.RedisAddr,
		Password: e.cfg.RedisPass,
		DB:       e.cfg.RedisDB,
	})
	store := epg.NewRedisStore(client, e.cfg.RedisPrefix, e.cfg.EPGCacheTTL)
	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		e.log.Warn().Err(err).Str("redis_addr", e.cfg.RedisAddr).Msg("redis unavailable; using in-process epg cache")
		client.Close()
		return epg.NewMemoryStore()
	}
	e.redis = client
	return store
}

// Connect authenticates the session.
func (e *Engine) Connect(ctx context.Context) error {
	return e.Session.Connect(ctx)
}

// Run runs the EPG worker until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.EPG.Run(ctx)
}

// Close releases the Redis client, if any.
func (e *Engine) Close() error {
	if e.redis == nil {
		return nil
	}
	err := e.redis.Close()
	e.redis = nil
	return err
}

// Location is the timezone used for guide dates.
func (e *Engine) Location() *time.Location { return e.loc }

// MaxPages is the configured page cap for catalog listings (0 = all).
func (e *Engine) MaxPages() int { return e.cfg.MaxPages }

func componentLogger(parent *zerolog.Logger, component string) *zerolog.Logger {
	var l zerolog.Logger
	if parent != nil {
		l = parent.With().Str(log.FieldComponent, component).Logger()
	} else {
		l = log.WithComponent(component)
	}
	return &l
}
