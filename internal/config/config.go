package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/identity"
	"github.com/snapetech/stalkerportal/internal/portal"
	"github.com/snapetech/stalkerportal/internal/safeurl"
)

// DialectAuto asks the engine to probe the portal for its dialect.
const DialectAuto = "auto"

const (
	MaxWorkers = 32
	envPrefix  = "STALKER_"
)

// Config holds portal, transport, catalog and EPG settings.
// Defaults, then the YAML file, then STALKER_* environment variables.
type Config struct {
	// Portal
	PortalURL string `yaml:"portal_url"`
	// PortalURLs are candidates to probe when PortalURL is empty.
	PortalURLs []string `yaml:"portal_urls"`
	Dialect    string   `yaml:"dialect"` // extended | simple | auto
	MAC        string   `yaml:"mac"`
	Serial     string   `yaml:"serial"`    // derived from MAC when empty
	DeviceID   string   `yaml:"device_id"` // derived from MAC when empty
	Language   string   `yaml:"language"`
	Timezone   string   `yaml:"timezone"`

	// Auth
	TokenValidity          time.Duration `yaml:"token_validity"` // 0 = dialect default
	DisablePrehashFallback bool          `yaml:"disable_prehash_fallback"`

	// Transport
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unpaced
	HostConcurrency   int           `yaml:"host_concurrency"`    // 0 = unlimited
	Tracing           bool          `yaml:"tracing"`

	// Catalog
	Workers  int `yaml:"workers"`
	MaxPages int `yaml:"max_pages"` // 0 = all pages

	// Streams
	StreamBaseURL string `yaml:"stream_base_url"` // default <portal>/vod4

	// EPG
	EPGCacheTTL time.Duration `yaml:"epg_cache_ttl"`
	EPGDebounce time.Duration `yaml:"epg_debounce"`
	EPGSize     int           `yaml:"epg_size"`
	RedisAddr   string        `yaml:"redis_addr"` // empty = in-process cache
	RedisPass   string        `yaml:"redis_password"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPrefix string        `yaml:"redis_prefix"`

	// Process
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Dialect:        "extended",
		Language:       portal.DefaultLanguage,
		Timezone:       portal.DefaultTimezone,
		ConnectTimeout: httpclient.DefaultConnectTimeout,
		ReadTimeout:    httpclient.DefaultReadTimeout,
		RequestTimeout: httpclient.DefaultTimeout,
		MaxRetries:     3,
		Workers:        5,
		EPGCacheTTL:    180 * time.Second,
		EPGDebounce:    150 * time.Millisecond,
		EPGSize:        6,
		RedisPrefix:    "stalker:epg:",
		LogLevel:       "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. Call LoadEnvFile(".env") first to use
// a .env file. Load does not validate; call Validate.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.PortalURL = getEnv("PORTAL_URL", c.PortalURL)
	if urls := getEnvList("PORTAL_URLS"); len(urls) > 0 {
		c.PortalURLs = urls
	}
	c.Dialect = getEnv("DIALECT", c.Dialect)
	c.MAC = getEnv("MAC", c.MAC)
	c.Serial = getEnv("SERIAL", c.Serial)
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.Language = getEnv("LANGUAGE", c.Language)
	c.Timezone = getEnv("TIMEZONE", c.Timezone)

	c.TokenValidity = getEnvDuration("TOKEN_VALIDITY", c.TokenValidity)
	c.DisablePrehashFallback = getEnvBool("DISABLE_PREHASH_FALLBACK", c.DisablePrehashFallback)

	c.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", c.ConnectTimeout)
	c.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.ReadTimeout)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", c.RequestsPerSecond)
	c.HostConcurrency = getEnvInt("HOST_CONCURRENCY", c.HostConcurrency)
	c.Tracing = getEnvBool("TRACING", c.Tracing)

	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.MaxPages = getEnvInt("MAX_PAGES", c.MaxPages)
	c.StreamBaseURL = getEnv("STREAM_BASE_URL", c.StreamBaseURL)

	c.EPGCacheTTL = getEnvDuration("EPG_CACHE_TTL", c.EPGCacheTTL)
	c.EPGDebounce = getEnvDuration("EPG_DEBOUNCE", c.EPGDebounce)
	c.EPGSize = getEnvInt("EPG_SIZE", c.EPGSize)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPass = getEnv("REDIS_PASSWORD", c.RedisPass)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Candidates()) == 0 {
		errs = append(errs, errors.New("portal url is required"))
	}
	for _, u := range c.Candidates() {
		if !safeurl.IsHTTPOrHTTPS(u) {
			errs = append(errs, fmt.Errorf("portal url %q must be http(s)", u))
		}
	}
	if c.StreamBaseURL != "" && !safeurl.IsHTTPOrHTTPS(c.StreamBaseURL) {
		errs = append(errs, fmt.Errorf("stream base url %q must be http(s)", c.StreamBaseURL))
	}
	if !strings.EqualFold(strings.TrimSpace(c.Dialect), DialectAuto) {
		if _, err := portal.ParseDialect(c.Dialect); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := identity.New(c.MAC, c.Serial, c.DeviceID); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		errs = append(errs, fmt.Errorf("workers %d out of range 1..%d", c.Workers, MaxWorkers))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max pages %d must not be negative", c.MaxPages))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries %d must not be negative", c.MaxRetries))
	}
	if c.EPGSize < 1 {
		errs = append(errs, fmt.Errorf("epg size %d must be positive", c.EPGSize))
	}
	if c.EPGCacheTTL <= 0 {
		errs = append(errs, errors.New("epg cache ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Candidates returns the portal URLs to use: PortalURL alone when set,
// otherwise PortalURLs.
func (c *Config) Candidates() []string {
	if u := strings.TrimSpace(c.PortalURL); u != "" {
		return []string{u}
	}
	out := make([]string, 0, len(c.PortalURLs))
	for _, u := range c.PortalURLs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Location is the configured timezone, or UTC when it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AutoDialect reports whether the dialect should be probed.
func (c *Config) AutoDialect() bool {
	return strings.EqualFold(strings.TrimSpace(c.Dialect), DialectAuto)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvList(key string) []string {
	s := os.Getenv(envPrefix + key)
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
