// Package stream turns catalog items into playable stream URLs.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/metrics"
	"github.com/snapetech/stalkerportal/internal/portal"
	"github.com/snapetech/stalkerportal/internal/safeurl"
)

// Requester runs authenticated portal actions. *auth.Session satisfies it.
type Requester interface {
	Get(ctx context.Context, params url.Values) (*portal.Envelope, error)
}

// Config builds a Resolver.
type Config struct {
	Session Requester
	// PortalBase is the normalized portal URL (scheme://host).
	PortalBase string
	// StreamBaseURL prefixes relative create_link results.
	// Default "{PortalBase}/vod4".
	StreamBaseURL string
	Logger        *zerolog.Logger
}

// Resolver materializes playback commands. It holds no per-call state.
type Resolver struct {
	req        Requester
	streamBase string
	log        zerolog.Logger
}

// New returns a Resolver for cfg.
func New(cfg Config) (*Resolver, error) {
	if cfg.Session == nil {
		return nil, errors.New("stream: Config.Session is required")
	}
	base := strings.TrimRight(cfg.StreamBaseURL, "/")
	if base == "" {
		if cfg.PortalBase == "" {
			return nil, errors.New("stream: Config.PortalBase or StreamBaseURL is required")
		}
		base = strings.TrimRight(cfg.PortalBase, "/") + "/vod4"
	}
	r := &Resolver{req: cfg.Session, streamBase: base}
	if cfg.Logger != nil {
		r.log = *cfg.Logger
	} else {
		r.log = log.WithComponent("stream")
	}
	return r, nil
}

var prefixRe = regexp.MustCompile(`(?i)^ffmpeg\s*`)

// StripPrefix removes the transcoder marker some portals put in front of
// commands ("ffmpeg http://...").
func StripPrefix(cmd string) string {
	return strings.TrimSpace(prefixRe.ReplaceAllString(strings.TrimSpace(cmd), ""))
}

// IsDirect reports whether a channel command can be played without a
// create_link round trip: a valid stream URL that is neither a
// "/ch/<id>_" placeholder nor bound to localhost.
func IsDirect(cmd string) bool {
	c := StripPrefix(cmd)
	if !safeurl.IsStreamURL(c) {
		return false
	}
	u, err := url.Parse(c)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Hostname(), "localhost") {
		return false
	}
	return !(strings.Contains(u.Path, "/ch/") && strings.HasSuffix(c, "_"))
}

// Resolve returns a playable URL for item. Series and seasons fail with
// portal.ErrNotPlayable; everything else that cannot produce a valid URL
// fails with portal.ErrStreamCreation.
func (r *Resolver) Resolve(ctx context.Context, item catalog.MediaItem) (string, error) {
	typ := item.Type.String()
	link, err := r.resolve(ctx, item)
	if err != nil {
		metrics.IncStreamLink(typ, "error")
		r.log.Warn().Err(err).Str(log.FieldType, typ).Str(log.FieldItemID, item.Key()).Msg("stream resolution failed")
		return "", err
	}
	metrics.IncStreamLink(typ, "ok")
	r.log.Debug().Str(log.FieldType, typ).Str(log.FieldItemID, item.Key()).Msg("stream resolved")
	return link, nil
}

func (r *Resolver) resolve(ctx context.Context, item catalog.MediaItem) (string, error) {
	if !item.Type.Playable() {
		return "", portal.NewError(portal.ErrNotPlayable, "resolve", fmt.Errorf("%s %q is a container", item.Type, item.Name))
	}

	switch item.Type {
	case catalog.ItemChannel:
		if strings.TrimSpace(item.Cmd) == "" {
			return "", portal.NewError(portal.ErrStreamCreation, "itv/create_link", errors.New("channel has no command"))
		}
		if IsDirect(item.Cmd) {
			return StripPrefix(item.Cmd), nil
		}
		return r.createLink(ctx, url.Values{"type": {"itv"}, "cmd": {item.Cmd}})

	case catalog.ItemEpisode:
		params := url.Values{"type": {"vod"}, "cmd": {vodCmd(item.Cmd, item.EpisodeID, item.ID)}}
		if item.EpisodeNumber > 0 {
			params.Set("series", strconv.Itoa(item.EpisodeNumber))
		}
		return r.createLink(ctx, params)

	default:
		return r.createLink(ctx, url.Values{"type": {"vod"}, "cmd": {vodCmd(item.Cmd, item.MovieID, item.ID)}})
	}
}

// vodCmd is the item's own command, or the portal's file path for the id
// when the listing carried none.
func vodCmd(cmd string, ids ...string) string {
	if c := strings.TrimSpace(cmd); c != "" {
		return c
	}
	for _, id := range ids {
		if id != "" {
			return "/media/file_" + id + ".mpg"
		}
	}
	return ""
}

func (r *Resolver) createLink(ctx context.Context, params url.Values) (string, error) {
	op := params.Get("type") + "/create_link"
	if params.Get("cmd") == "" {
		return "", portal.NewError(portal.ErrStreamCreation, op, errors.New("item has no command or id"))
	}
	params.Set("action", "create_link")

	env, err := r.req.Get(ctx, params)
	if err != nil {
		return "", portal.NewError(portal.ErrStreamCreation, op, err)
	}
	raw := env.Object().Str("url", "cmd")
	if raw == "" {
		return "", portal.NewError(portal.ErrStreamCreation, op, errors.New("response has neither url nor cmd"))
	}
	link := StripPrefix(raw)
	if !strings.Contains(link, "://") {
		link = r.streamBase + "/" + strings.TrimLeft(link, "/")
	}
	if !safeurl.IsStreamURL(link) {
		return "", portal.NewError(portal.ErrStreamCreation, op, fmt.Errorf("invalid stream url %q", link))
	}
	return link, nil
}
