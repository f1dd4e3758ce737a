// Package auth owns the portal handshake, token and profile lifecycle.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snapetech/stalkerportal/internal/identity"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
	"github.com/snapetech/stalkerportal/internal/portal"
)

// Values sent verbatim in get_profile; portals compare them against known firmware.
const (
	profileVersion = "ImageDescription: 0.2.18-r23-250; ImageDate: Thu Sep 13 11:31:16 EEST 2018; " +
		"PORTAL version: 5.6.2; API Version: JS API version: 343; STB API version: 146; " +
		"Player Engine version: 0x58c"
	stbType      = "MAG250"
	imageVersion = "218"
	hwVersion    = "1.7-BD-00"
	apiSignature = "262"
)

// State is the session lifecycle position.
type State int32

const (
	StateUnauthenticated State = iota
	StateHandshaking
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Config builds a Session.
type Config struct {
	Conn     *portal.Conn
	Identity identity.Identity
	// TokenValidity overrides the dialect default (1h extended, 10m simple).
	TokenValidity time.Duration
	// DisablePrehashFallback skips the self-minted token retry after a 404 handshake.
	DisablePrehashFallback bool
	// Now is the clock; nil uses time.Now.
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Session is one authenticated portal connection. All methods are safe for
// concurrent use; token refresh happens at most once per expiry.
type Session struct {
	conn       *portal.Conn
	id         identity.Identity
	validity   time.Duration
	noFallback bool
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.RWMutex
	state    State
	token    string
	issuedAt time.Time
	random   string
	profile  portal.Object

	refresh singleflight.Group
}

// New returns an unauthenticated session.
func New(cfg Config) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.New("auth: Config.Conn is required")
	}
	if cfg.Identity.MAC == "" {
		return nil, errors.New("auth: Config.Identity is required")
	}
	s := &Session{
		conn:       cfg.Conn,
		id:         cfg.Identity,
		validity:   cfg.TokenValidity,
		noFallback: cfg.DisablePrehashFallback,
		now:        cfg.Now,
	}
	if s.validity <= 0 {
		s.validity = cfg.Conn.Dialect().TokenValidity()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	} else {
		s.log = log.WithComponent("auth")
	}
	return s, nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Connect performs a handshake followed by get_profile. Both failures surface.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.Handshake(ctx); err != nil {
		return err
	}
	if _, err := s.GetProfile(ctx); err != nil {
		return err
	}
	return nil
}

// Handshake obtains a fresh token. When the bare form answers 404 it retries
// once with a self-minted token and its SHA-1 prehash.
func (s *Session) Handshake(ctx context.Context) error {
	s.setState(StateHandshaking)
	token, random, err := s.handshake(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateUnauthenticated
		s.token = ""
		return err
	}
	s.token = token
	s.random = random
	s.issuedAt = s.now()
	s.state = StateAuthenticated
	return nil
}

func (s *Session) handshake(ctx context.Context) (token, random string, err error) {
	const op = "stb/handshake"
	params := url.Values{"type": {"stb"}, "action": {"handshake"}, "token": {""}}
	mode := "bare"
	env, err := s.conn.Get(ctx, params, portal.Credentials{})
	if errors.Is(err, portal.ErrNotFound) && !s.noFallback {
		metrics.IncHandshake(mode, "fail")
		minted := identity.NewToken()
		s.log.Warn().Msg("bare handshake returned 404; retrying with self-minted token and prehash")
		mode = "prehash"
		params.Set("token", minted)
		params.Set("prehash", identity.Prehash(minted))
		env, err = s.conn.Get(ctx, params, portal.Credentials{})
	}
	if err != nil {
		metrics.IncHandshake(mode, "fail")
		return "", "", portal.NewError(portal.ErrAuth, op, err)
	}

	js := env.Object()
	token = js.Str("token")
	if token == "" {
		metrics.IncHandshake(mode, "fail")
		return "", "", portal.NewError(portal.ErrAuth, op, errors.New("response carries no token"))
	}
	random = strings.ToLower(js.Str("random"))
	if random == "" {
		random = identity.NewNonce()
	}
	metrics.IncHandshake(mode, "ok")
	s.log.Debug().Str("mode", mode).Msg("handshake ok")
	return token, random, nil
}

// GetProfile sends the device fingerprint. A token in the reply rotates the
// session token in place.
func (s *Session) GetProfile(ctx context.Context) (portal.Object, error) {
	const op = "stb/get_profile"
	s.mu.RLock()
	token, random := s.token, s.random
	s.mu.RUnlock()
	if token == "" {
		return nil, portal.NewError(portal.ErrAuth, op, errors.New("no session token"))
	}
	if random == "" {
		random = identity.NewNonce()
	}

	// Bearer only; the profile call goes out without the token cookie.
	creds := portal.Credentials{Token: token, Cookies: map[string]string{"token": ""}}
	env, err := s.conn.Get(ctx, s.profileParams(random), creds)
	if err != nil {
		return nil, portal.NewError(portal.ErrAuth, op, err)
	}
	js := env.Object()

	s.mu.Lock()
	if rotated := js.Str("token"); rotated != "" {
		s.token = rotated
		s.issuedAt = s.now()
		s.log.Debug().Msg("profile rotated token")
	}
	s.random = random
	s.profile = js
	s.mu.Unlock()
	return js, nil
}

func (s *Session) profileParams(random string) url.Values {
	m, _ := json.Marshal(struct {
		MAC    string `json:"mac"`
		SN     string `json:"sn"`
		Type   string `json:"type"`
		Model  string `json:"model"`
		UID    string `json:"uid"`
		Random string `json:"random"`
	}{s.id.MAC, s.id.Serial, "STB", stbType, "", random})

	return url.Values{
		"type":             {"stb"},
		"action":           {"get_profile"},
		"hd":               {"1"},
		"ver":              {profileVersion},
		"num_banks":        {"2"},
		"sn":               {s.id.Serial},
		"stb_type":         {stbType},
		"client_type":      {"STB"},
		"image_version":    {imageVersion},
		"video_out":        {"hdmi"},
		"device_id":        {s.id.DeviceID},
		"device_id2":       {s.id.DeviceID2},
		"signature":        {s.id.Signature},
		"auth_second_step": {"1"},
		"hw_version":       {hwVersion},
		"not_valid_token":  {"0"},
		"metrics":          {string(m)},
		"hw_version_2":     {s.id.HWVersion2},
		"timestamp":        {strconv.FormatInt(s.now().Unix(), 10)},
		"api_signature":    {apiSignature},
		"prehash":          {""},
	}
}

// EnsureToken is the only expiry gate: it returns immediately while the
// token is inside its validity window and otherwise re-handshakes once,
// however many callers observe the expiry together.
func (s *Session) EnsureToken(ctx context.Context) error {
	if s.valid() {
		return nil
	}
	_, err, _ := s.refresh.Do("refresh", func() (any, error) {
		if s.valid() {
			return nil, nil
		}
		s.mu.Lock()
		if s.state == StateAuthenticated {
			s.state = StateExpired
		}
		s.mu.Unlock()
		if err := s.Handshake(ctx); err != nil {
			return nil, err
		}
		if _, err := s.GetProfile(ctx); err != nil {
			s.log.Warn().Err(err).Msg("profile refresh failed; continuing with handshake token")
		}
		return nil, nil
	})
	return err
}

func (s *Session) valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.now().Sub(s.issuedAt) <= s.validity
}

// Invalidate forces the next EnsureToken to re-handshake.
func (s *Session) Invalidate() {
	s.invalidate("")
}

// invalidate drops the token unless it has already been replaced since used
// was read. An empty used drops unconditionally.
func (s *Session) invalidate(used string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if used != "" && s.token != used {
		return
	}
	if s.token != "" {
		s.state = StateExpired
	}
	s.token = ""
}

// ─── Authenticated calls ─────────────────────────────────────────────────────

// Get runs an authenticated portal action. A 401/403 answer invalidates the
// session and the call is retried once after a fresh handshake.
func (s *Session) Get(ctx context.Context, params url.Values) (*portal.Envelope, error) {
	if err := s.EnsureToken(ctx); err != nil {
		return nil, err
	}
	used := s.Token()
	env, err := s.conn.Get(ctx, params, portal.Credentials{Token: used})
	if !errors.Is(err, portal.ErrUnauthorized) {
		return env, err
	}
	s.log.Info().
		Str(log.FieldAction, params.Get("type")+"/"+params.Get("action")).
		Msg("portal rejected token; re-authenticating")
	s.invalidate(used)
	if err := s.EnsureToken(ctx); err != nil {
		return nil, err
	}
	return s.conn.Get(ctx, params, portal.Credentials{Token: s.Token()})
}

// Credentials hands the current token to decoupled callers, refreshing first.
func (s *Session) Credentials(ctx context.Context) (portal.Credentials, error) {
	if err := s.EnsureToken(ctx); err != nil {
		return portal.Credentials{}, err
	}
	return portal.Credentials{Token: s.Token()}, nil
}

// AccountInfo returns type=account_info&action=get_main_info.
func (s *Session) AccountInfo(ctx context.Context) (AccountInfo, error) {
	env, err := s.Get(ctx, url.Values{"type": {"account_info"}, "action": {"get_main_info"}})
	if err != nil {
		return AccountInfo{}, err
	}
	js := env.Object()
	return AccountInfo{
		MAC:     js.Str("mac"),
		Phone:   js.Str("phone"),
		Expires: js.Str("end_date", "phone_expires", "expire_billing_date"),
		Raw:     js,
	}, nil
}

// AccountInfo is the subscription summary a portal reports.
type AccountInfo struct {
	MAC     string
	Phone   string
	Expires string
	Raw     portal.Object
}

// ─── Accessors ───────────────────────────────────────────────────────────────

func (s *Session) Conn() *portal.Conn { return s.conn }

func (s *Session) Identity() identity.Identity { return s.id }

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Random() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.random
}

func (s *Session) IssuedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issuedAt
}

// State reports the lifecycle position; an authenticated session past its
// validity window reports StateExpired.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateAuthenticated && s.now().Sub(s.issuedAt) > s.validity {
		return StateExpired
	}
	return s.state
}

// Profile returns the last get_profile payload.
func (s *Session) Profile() portal.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
