package epg

import (
	"strings"

	"github.com/snapetech/stalkerportal/internal/catalog"
)

// ChannelKey is the cache key for a channel's schedule.
func ChannelKey(ch catalog.MediaItem) string {
	return firstSet(ch.ChannelID, ch.ID, ch.Number, ch.Cmd, ch.Name)
}

// ChannelID is the ch_id sent to the portal: the digits of the first
// identifying field, or the field itself when it has none.
func ChannelID(ch catalog.MediaItem) string {
	raw := firstSet(ch.ChannelID, ch.ID, ch.Number, ch.Cmd)
	if raw == "" {
		return ""
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return raw
	}
	return digits
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
