package indexer

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/log"
	"github.com/snapetech/stalkerportal/internal/portal"
)

// FetchSeasons lists the seasons of a series item, ordered by season number.
func (f *Fetcher) FetchSeasons(ctx context.Context, series catalog.MediaItem, maxPages int) ([]catalog.MediaItem, error) {
	typ := f.dialect.SeriesType()
	op := typ + "/get_ordered_list"
	seriesID := firstNonEmpty(series.SeriesID, series.ID, series.MovieID)
	if seriesID == "" {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, errors.New("series item has no id"))
	}
	lg := f.log.With().Str(log.FieldItemID, seriesID).Logger()

	params := url.Values{
		"type":       {typ},
		"action":     {"get_ordered_list"},
		"movie_id":   {seriesID},
		"season_id":  {"0"},
		"episode_id": {"0"},
	}
	pg, err := f.paginate(ctx, lg, params, "seasons", maxPages, newReporter(nil, 0))
	if err != nil {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, err)
	}

	parentPoster := firstNonEmpty(series.Poster, series.ParentPoster)
	var out []catalog.MediaItem
	for _, row := range pg.rows {
		if isSeason, present := row.Bool("is_season"); present && !isSeason {
			continue
		}
		id := row.Str("id")
		if id == "" {
			continue
		}
		movieID := row.Str("video_id", "movie_id")
		if movieID == "" || movieID == id {
			movieID = seriesID
		}
		out = append(out, catalog.MediaItem{
			Type:           catalog.ItemSeason,
			Kind:           catalog.KindSeries,
			ID:             id,
			Name:           row.Str("name", "title"),
			Cmd:            row.Str("cmd"),
			Poster:         row.Str(posterKeys...),
			ParentPoster:   parentPoster,
			MovieID:        movieID,
			SeriesID:       seriesID,
			SeasonID:       id,
			SeasonNumber:   seasonNumber(row, id),
			EpisodeNumbers: episodeNumbers(row),
		})
	}
	out = catalog.Dedupe(out)
	catalog.SortByNumber(out)
	lg.Debug().Int("seasons", len(out)).Msg("seasons fetched")
	return out, nil
}

// FetchEpisodes lists the episodes of a season item. Seasons that embed
// their episode numbers are expanded locally without a request.
func (f *Fetcher) FetchEpisodes(ctx context.Context, season catalog.MediaItem, maxPages int) ([]catalog.MediaItem, error) {
	if len(season.EpisodeNumbers) > 0 {
		return syntheticEpisodes(season), nil
	}

	typ := f.dialect.SeriesType()
	op := typ + "/get_ordered_list"
	seasonID := firstNonEmpty(season.SeasonID, season.ID)
	if seasonID == "" || season.MovieID == "" {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, errors.New("season item lacks season or movie id"))
	}
	lg := f.log.With().Str(log.FieldItemID, seasonID).Logger()

	params := url.Values{
		"type":       {typ},
		"action":     {"get_ordered_list"},
		"movie_id":   {season.MovieID},
		"season_id":  {seasonID},
		"episode_id": {"0"},
	}
	pg, err := f.paginate(ctx, lg, params, "episodes", maxPages, newReporter(nil, 0))
	if err != nil {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, err)
	}

	parentPoster := firstNonEmpty(season.ParentPoster, season.Poster)
	var out []catalog.MediaItem
	for _, row := range pg.rows {
		id := row.Str("id")
		if id == "" {
			continue
		}
		n, _ := row.Int("series_number", "episode_number")
		out = append(out, catalog.MediaItem{
			Type:          catalog.ItemEpisode,
			Kind:          catalog.KindSeries,
			ID:            id,
			Name:          row.Str("name", "title"),
			Cmd:           row.Str("cmd"),
			Poster:        row.Str(posterKeys...),
			ParentPoster:  parentPoster,
			MovieID:       season.MovieID,
			SeriesID:      season.SeriesID,
			SeasonID:      seasonID,
			SeasonNumber:  season.SeasonNumber,
			EpisodeID:     id,
			EpisodeNumber: int(n),
		})
	}
	out = catalog.Dedupe(out)
	catalog.SortByNumber(out)
	return out, nil
}

func syntheticEpisodes(season catalog.MediaItem) []catalog.MediaItem {
	seriesID := firstNonEmpty(season.SeriesID, season.MovieID)
	out := make([]catalog.MediaItem, 0, len(season.EpisodeNumbers))
	for _, n := range season.EpisodeNumbers {
		id := seriesID + ":" + strconv.Itoa(n)
		out = append(out, catalog.MediaItem{
			Type:          catalog.ItemEpisode,
			Kind:          catalog.KindSeries,
			ID:            id,
			Name:          "Episode " + strconv.Itoa(n),
			Cmd:           season.Cmd,
			ParentPoster:  firstNonEmpty(season.ParentPoster, season.Poster),
			MovieID:       season.MovieID,
			SeriesID:      seriesID,
			SeasonID:      firstNonEmpty(season.SeasonID, season.ID),
			SeasonNumber:  season.SeasonNumber,
			EpisodeID:     id,
			EpisodeNumber: n,
		})
	}
	out = catalog.Dedupe(out)
	catalog.SortByNumber(out)
	return out
}

// MovieDetails returns vod/get_movie_details for movieID.
func (f *Fetcher) MovieDetails(ctx context.Context, movieID string) (portal.Object, error) {
	const op = "vod/get_movie_details"
	env, err := f.req.Get(ctx, url.Values{"type": {"vod"}, "action": {"get_movie_details"}, "movie_id": {movieID}})
	if err != nil {
		return nil, portal.NewError(portal.ErrCatalogFetch, op, err)
	}
	js := env.Object()
	if len(js) == 0 {
		return nil, portal.NewError(portal.ErrNotFound, op, errors.New("no details for movie "+movieID))
	}
	return js, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
