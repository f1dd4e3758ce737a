package indexer

import (
	"regexp"
	"strconv"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/portal"
)

var posterKeys = []string{"screenshot_uri", "logo", "cover_big", "poster", "pic"}

// listItem converts one get_ordered_list row of a category listing.
func (f *Fetcher) listItem(k catalog.Kind, row portal.Object) (catalog.MediaItem, bool) {
	it := catalog.MediaItem{
		Kind:   k,
		ID:     row.Str("id"),
		Name:   row.Str("name", "title", "o_name"),
		Cmd:    row.Str("cmd"),
		Poster: row.Str(posterKeys...),
	}
	switch k {
	case catalog.KindLive:
		it.Type = catalog.ItemChannel
		it.ChannelID = row.Str("id", "channel_id")
		it.Number = row.Str("number")
		if it.ID == "" {
			it.ID = it.ChannelID
		}
		return it, it.ChannelID != ""
	}

	isSeries, _ := row.Bool("is_series")
	if k == catalog.KindSeries && f.dialect == portal.DialectSimple {
		isSeries = true
	}
	it.IsSeries = isSeries
	if isSeries {
		it.Type = catalog.ItemSeries
		it.SeriesID = row.Str("id", "series_id")
		it.MovieID = row.Str("video_id", "id", "movie_id")
	} else {
		it.Type = catalog.ItemVod
		it.MovieID = row.Str("id", "movie_id")
	}
	if it.ID == "" {
		it.ID = it.MovieID
	}
	return it, it.ID != ""
}

var (
	seasonPrefixRe = regexp.MustCompile(`^season(\d+)`)
	seasonPairRe   = regexp.MustCompile(`^\d+:(\d+)`)
	seasonNameRe   = regexp.MustCompile(`(?i)season\s*(\d+)`)
)

// seasonNumber reads the season ordinal from an explicit field, the id
// conventions of simple-dialect portals ("season3", "1234:3"), or the name.
func seasonNumber(row portal.Object, id string) int {
	if n, ok := row.Int("season_number"); ok && n > 0 {
		return int(n)
	}
	for _, re := range []*regexp.Regexp{seasonPrefixRe, seasonPairRe} {
		if m := re.FindStringSubmatch(id); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	if m := seasonNameRe.FindStringSubmatch(row.Str("name", "title")); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// episodeNumbers reads the embedded episode list of a season row.
func episodeNumbers(row portal.Object) []int {
	var out []int
	for _, n := range row.Ints("series") {
		if n > 0 {
			out = append(out, n)
		}
	}
	return out
}
