// Package catalog holds the portal catalog model: categories and the media
// items listed under them.
package catalog

import (
	"fmt"
	"strings"
)

// Kind is the catalog section a category belongs to.
type Kind int

const (
	KindLive Kind = iota
	KindMovies
	KindSeries
)

func (k Kind) String() string {
	switch k {
	case KindMovies:
		return "movies"
	case KindSeries:
		return "series"
	default:
		return "live"
	}
}

// ParseKind accepts the section names used by the CLI and config
// ("live"/"itv", "movies"/"vod", "series").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "itv", "tv":
		return KindLive, nil
	case "movies", "movie", "vod":
		return KindMovies, nil
	case "series", "shows":
		return KindSeries, nil
	}
	return KindLive, fmt.Errorf("catalog: unknown kind %q", s)
}

// ItemType tags the MediaItem variant.
type ItemType int

const (
	ItemChannel ItemType = iota
	ItemVod
	ItemSeries
	ItemSeason
	ItemEpisode
)

func (t ItemType) String() string {
	switch t {
	case ItemVod:
		return "vod"
	case ItemSeries:
		return "series"
	case ItemSeason:
		return "season"
	case ItemEpisode:
		return "episode"
	default:
		return "channel"
	}
}

// Playable reports whether a stream link can be created for the type.
// Series and seasons are containers.
func (t ItemType) Playable() bool {
	return t == ItemChannel || t == ItemVod || t == ItemEpisode
}

// Category is one listing section as reported by the portal.
type Category struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// MediaItem is a tagged variant over channels, movies, series, seasons and
// episodes. Fields that do not apply to Type are left zero.
type MediaItem struct {
	Type ItemType `json:"type"`
	Kind Kind     `json:"kind"`

	ID   string `json:"id"`
	Name string `json:"name"`
	// Cmd is the opaque playback command handed to create_link.
	Cmd          string `json:"cmd,omitempty"`
	Poster       string `json:"poster,omitempty"`
	ParentPoster string `json:"parent_poster,omitempty"` // display only

	// Channel
	ChannelID string `json:"channel_id,omitempty"`
	Number    string `json:"number,omitempty"`

	// Vod; also the owning movie of seasons and episodes.
	MovieID string `json:"movie_id,omitempty"`

	// Series
	SeriesID string `json:"series_id,omitempty"`
	IsSeries bool   `json:"is_series,omitempty"`

	// Season; SeasonID is also set on episodes.
	SeasonID     string `json:"season_id,omitempty"`
	SeasonNumber int    `json:"season_number,omitempty"`

	// Episode
	EpisodeID     string `json:"episode_id,omitempty"`
	EpisodeNumber int    `json:"episode_number,omitempty"`

	// EpisodeNumbers lists the episodes of a simple-dialect season, which
	// embeds them instead of exposing an episode listing.
	EpisodeNumbers []int `json:"episode_numbers,omitempty"`
}

// Key is the identity used for de-duplication: the channel id for channels,
// the item id (or owning movie id) otherwise.
func (m MediaItem) Key() string {
	if m.Type == ItemChannel && m.ChannelID != "" {
		return m.ChannelID
	}
	if m.ID != "" {
		return m.ID
	}
	return m.MovieID
}

func (m MediaItem) String() string {
	return fmt.Sprintf("%s %s %q", m.Type, m.Key(), m.Name)
}

// Filter narrows a listing that mixes movies and shows. FilterAuto lets
// the fetcher pick the filter that suits the kind and dialect.
type Filter int

const (
	FilterAuto Filter = iota
	FilterAll
	FilterSeriesOnly
	FilterMoviesOnly
)

func (f Filter) String() string {
	switch f {
	case FilterSeriesOnly:
		return "series-only"
	case FilterMoviesOnly:
		return "movies-only"
	case FilterAll:
		return "all"
	default:
		return "auto"
	}
}

// ParseFilter accepts the names printed by String.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FilterAuto, nil
	case "all":
		return FilterAll, nil
	case "series-only", "series":
		return FilterSeriesOnly, nil
	case "movies-only", "movies":
		return FilterMoviesOnly, nil
	}
	return FilterAuto, fmt.Errorf("catalog: unknown filter %q", s)
}

// Keep reports whether item passes the filter. FilterAuto keeps everything.
func (f Filter) Keep(item MediaItem) bool {
	switch f {
	case FilterSeriesOnly:
		return item.IsSeries
	case FilterMoviesOnly:
		return !item.IsSeries
	}
	return true
}

var seriesKeywords = []string{"tv", "series", "show"}

// IsSeriesCategory is the name heuristic portals force on clients that list
// movies and shows under one get_categories call.
func IsSeriesCategory(name string) bool {
	n := strings.ToLower(name)
	for _, kw := range seriesKeywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}
