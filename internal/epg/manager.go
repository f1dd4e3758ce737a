package epg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
	"github.com/snapetech/stalkerportal/internal/portal"
)

const (
	DefaultCacheTTL = 180 * time.Second
	DefaultDebounce = 150 * time.Millisecond
	DefaultSize     = 6

	epgXUserAgent  = "Model: MAG254; Link: WiFi"
	epgRefererPath = "/stalker_portal/c/"

	pruneN = 1024
)

var ErrRunning = errors.New("epg: manager already started")

// Config wires a Manager. Conn is required; everything else has a default.
type Config struct {
	Conn        *portal.Conn
	Credentials portal.CredentialsFunc
	Store       Store

	CacheTTL    time.Duration
	// Debounce below zero disables debouncing.
	Debounce    time.Duration
	DefaultSize int
	Location    *time.Location

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Ready is one answered request. Entries is nil for a channel with no
// usable id; Err is set only when every lookup failed.
type Ready struct {
	Key       string
	Entries   []Entry
	FromCache bool
	Err       error
}

type job struct {
	key  string
	ch   catalog.MediaItem
	size int
}

// Manager answers schedule requests from cache or a single background
// worker. Results are delivered on Ready in completion order.
type Manager struct {
	store    Store
	ttl      time.Duration
	debounce time.Duration
	size     int
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	conn    *portal.Conn
	creds   portal.CredentialsFunc
	queue   []job
	lastReq map[string]time.Time
	wake    chan struct{}
	// front mirrors records the worker has read or written; Request
	// consults only front.
	front map[string]Record

	outMu   sync.Mutex
	outbox  []Ready
	outWake chan struct{}
	ready   chan Ready

	running atomic.Bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Conn == nil {
		return nil, errors.New("epg: connection required")
	}
	m := &Manager{
		store:    cfg.Store,
		ttl:      cfg.CacheTTL,
		debounce: cfg.Debounce,
		size:     cfg.DefaultSize,
		loc:      cfg.Location,
		now:      cfg.Now,
		conn:     cfg.Conn,
		creds:    cfg.Credentials,
		lastReq:  make(map[string]time.Time),
		front:    make(map[string]Record),
		wake:     make(chan struct{}, 1),
		outWake:  make(chan struct{}, 1),
		ready:    make(chan Ready),
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.ttl <= 0 {
		m.ttl = DefaultCacheTTL
	}
	if m.debounce < 0 {
		m.debounce = 0
	} else if cfg.Debounce == 0 {
		m.debounce = DefaultDebounce
	}
	if m.size <= 0 {
		m.size = DefaultSize
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	} else {
		m.log = log.WithComponent("epg")
	}
	return m, nil
}

// Ready delivers answered requests. It is closed when Run returns.
func (m *Manager) Ready() <-chan Ready { return m.ready }

// Request asks for up to size entries of ch's schedule (size <= 0 means the
// default). Repeats for the same channel inside the debounce window are
// dropped. A fresh schedule long enough that this process already holds is
// answered immediately; anything else is queued for the worker, which
// consults the store. Request never performs I/O.
func (m *Manager) Request(ch catalog.MediaItem, size int) {
	key := ChannelKey(ch)
	if key == "" {
		return
	}
	if size <= 0 {
		size = m.size
	}
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastReq[key]; ok && now.Sub(last) < m.debounce {
		m.mu.Unlock()
		metrics.IncEPGRequest("debounced")
		return
	}
	m.lastReq[key] = now
	if len(m.lastReq) > pruneN {
		for k, t := range m.lastReq {
			if now.Sub(t) >= m.debounce {
				delete(m.lastReq, k)
			}
		}
	}
	entries, hit := m.frontLocked(key, size, now)
	if !hit {
		m.queue = append(m.queue, job{key: key, ch: ch, size: size})
	}
	m.mu.Unlock()

	if hit {
		metrics.IncEPGRequest("hit")
		m.emit(Ready{Key: key, Entries: entries, FromCache: true})
		return
	}
	metrics.IncEPGRequest("miss")
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// frontLocked answers from the in-process mirror. m.mu must be held.
func (m *Manager) frontLocked(key string, size int, now time.Time) ([]Entry, bool) {
	rec, ok := m.front[key]
	if !ok {
		return nil, false
	}
	if now.Sub(rec.FetchedAt) > m.ttl {
		delete(m.front, key)
		return nil, false
	}
	if len(rec.Entries) < size {
		return nil, false
	}
	return head(rec.Entries, size), true
}

func (m *Manager) remember(rec Record) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.front[rec.Key] = rec
	if len(m.front) > pruneN {
		for k, r := range m.front {
			if now.Sub(r.FetchedAt) > m.ttl {
				delete(m.front, k)
			}
		}
	}
}

// CancelPending drops every queued request that the worker has not started
// and returns how many were dropped.
func (m *Manager) CancelPending() int {
	m.mu.Lock()
	n := len(m.queue)
	m.queue = nil
	m.mu.Unlock()
	for range n {
		metrics.IncEPGRequest("cancelled")
	}
	return n
}

// Pending is the number of queued requests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Reconfigure swaps the connection or token provider used by later fetches.
// A nil argument keeps the current value.
func (m *Manager) Reconfigure(conn *portal.Conn, creds portal.CredentialsFunc) {
	m.mu.Lock()
	if conn != nil {
		m.conn = conn
	}
	if creds != nil {
		m.creds = creds
	}
	m.mu.Unlock()
}

// Run processes queued requests until ctx is done. It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.pump(ctx)
	}()
	defer wg.Wait()

	m.log.Debug().Msg("epg worker started")
	for {
		if ctx.Err() != nil {
			m.log.Debug().Msg("epg worker stopped")
			return nil
		}
		j, ok := m.next()
		if !ok {
			select {
			case <-ctx.Done():
			case <-m.wake:
			}
			continue
		}
		m.process(ctx, j)
	}
}

func (m *Manager) next() (job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return job{}, false
	}
	j := m.queue[0]
	m.queue[0] = job{}
	m.queue = m.queue[1:]
	return j, true
}

func (m *Manager) process(ctx context.Context, j job) {
	lg := m.log.With().Str(log.FieldChannelKey, j.key).Logger()

	if entries, ok := m.cached(ctx, j.key, j.size, m.now()); ok {
		m.emit(Ready{Key: j.key, Entries: entries, FromCache: true})
		return
	}

	m.mu.Lock()
	conn, credsFn := m.conn, m.creds
	m.mu.Unlock()

	chID := ChannelID(j.ch)
	if chID == "" {
		m.emit(Ready{Key: j.key})
		return
	}

	creds := m.credentials(ctx, lg, conn, credsFn)
	rows, err := m.fetch(ctx, lg, conn, creds, chID, j.size)
	if err != nil {
		lg.Warn().Err(err).Msg("epg lookup failed")
		m.emit(Ready{Key: j.key, Err: fmt.Errorf("epg %s: %w", j.key, err)})
		return
	}

	entries := Normalize(rows, m.loc)
	rec := Record{Key: j.key, FetchedAt: m.now(), Entries: entries}
	m.remember(rec)
	if err := m.store.Put(ctx, rec); err != nil {
		lg.Warn().Err(err).Msg("epg cache write failed")
	}
	lg.Debug().Int("entries", len(entries)).Msg("epg fetched")
	m.emit(Ready{Key: j.key, Entries: head(entries, j.size)})
}

// cached returns the first size entries of a fresh stored record holding at
// least size entries. Stale records are deleted on sight; fresh ones are
// mirrored into the front map. Called from the worker only.
func (m *Manager) cached(ctx context.Context, key string, size int, now time.Time) ([]Entry, bool) {
	rec, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Debug().Err(err).Str(log.FieldChannelKey, key).Msg("epg cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if now.Sub(rec.FetchedAt) > m.ttl {
		if err := m.store.Delete(ctx, key); err != nil {
			m.log.Debug().Err(err).Str(log.FieldChannelKey, key).Msg("epg cache evict failed")
		}
		return nil, false
	}
	m.remember(rec)
	if len(rec.Entries) < size {
		return nil, false
	}
	return head(rec.Entries, size), true
}

func (m *Manager) credentials(ctx context.Context, lg zerolog.Logger, conn *portal.Conn, fn portal.CredentialsFunc) portal.Credentials {
	var c portal.Credentials
	if fn != nil {
		got, err := fn(ctx)
		if err != nil {
			lg.Debug().Err(err).Msg("token provider failed; continuing without token")
		} else {
			c = got
		}
	}
	h := http.Header{}
	if conn.Dialect() == portal.DialectExtended {
		h.Set("X-User-Agent", epgXUserAgent)
		h.Set("Referer", conn.Base()+epgRefererPath)
	}
	for k, vs := range c.Header {
		h[http.CanonicalHeaderKey(k)] = vs
	}
	c.Header = h
	return c
}

// fetch tries get_short_epg and falls back to get_epg_info when it fails or
// comes back empty. It errors only when both requests fail.
func (m *Manager) fetch(ctx context.Context, lg zerolog.Logger, conn *portal.Conn, creds portal.Credentials, chID string, size int) ([]portal.Object, error) {
	params := func(action string) url.Values {
		return url.Values{
			"type":   {"itv"},
			"action": {action},
			"ch_id":  {chID},
			"size":   {strconv.Itoa(max(1, size))},
		}
	}

	env, shortErr := conn.Get(ctx, params("get_short_epg"), creds)
	if shortErr == nil {
		if rows := scheduleRows(env); len(rows) > 0 {
			metrics.IncEPGFetch("get_short_epg", "ok")
			return rows, nil
		}
		metrics.IncEPGFetch("get_short_epg", "empty")
	} else {
		metrics.IncEPGFetch("get_short_epg", "error")
		lg.Debug().Err(shortErr).Msg("get_short_epg failed")
	}

	env, infoErr := conn.Get(ctx, params("get_epg_info"), creds)
	if infoErr != nil {
		metrics.IncEPGFetch("get_epg_info", "error")
		if shortErr != nil {
			return nil, errors.Join(shortErr, infoErr)
		}
		return nil, nil
	}
	rows := scheduleRows(env)
	if len(rows) == 0 {
		metrics.IncEPGFetch("get_epg_info", "empty")
	} else {
		metrics.IncEPGFetch("get_epg_info", "ok")
	}
	return rows, nil
}

// scheduleRows reads js as a list, then js.data, then js.epg.
func scheduleRows(env *portal.Envelope) []portal.Object {
	if rows := env.Items(); len(rows) > 0 {
		return rows
	}
	return env.Object().List("epg")
}

func (m *Manager) emit(r Ready) {
	m.outMu.Lock()
	m.outbox = append(m.outbox, r)
	m.outMu.Unlock()
	select {
	case m.outWake <- struct{}{}:
	default:
	}
}

// pump moves the outbox onto the unbuffered Ready channel so neither
// Request nor the worker ever blocks on a slow consumer.
func (m *Manager) pump(ctx context.Context) {
	defer close(m.ready)
	for {
		m.outMu.Lock()
		if len(m.outbox) == 0 {
			m.outMu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-m.outWake:
			}
			continue
		}
		r := m.outbox[0]
		m.outbox[0] = Ready{}
		m.outbox = m.outbox[1:]
		m.outMu.Unlock()

		select {
		case m.ready <- r:
		case <-ctx.Done():
			return
		}
	}
}

func head(entries []Entry, n int) []Entry {
	if n > len(entries) {
		n = len(entries)
	}
	return append([]Entry(nil), entries[:n]...)
}
