package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/indexer"
	"github.com/snapetech/stalkerportal/internal/log"
)

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authenticate and print account info",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.Connect(ctx); err != nil {
				return err
			}
			info, err := e.Session.AccountInfo(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("account info unavailable")
			}
			return a.printJSON(map[string]any{
				"portal":    e.Conn.Base(),
				"dialect":   e.Conn.Dialect().String(),
				"endpoints": e.Conn.Endpoints(),
				"state":     e.Session.State().String(),
				"mac":       info.MAC,
				"phone":     info.Phone,
				"expires":   info.Expires,
			})
		},
	}
}

func (a *app) categoriesCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List the categories of a section",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := catalog.ParseKind(kind)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			cats, err := e.Catalog.FetchCategories(ctx, k)
			if err != nil {
				return err
			}
			return a.printJSON(cats)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "live", "section: live, movies or series")
	return cmd
}

func (a *app) itemsCmd() *cobra.Command {
	var (
		kind, category, filter, out string
		maxPages                    int
	)
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List every item of one category",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := catalog.ParseKind(kind)
			if err != nil {
				return err
			}
			flt, err := catalog.ParseFilter(filter)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			if !cmd.Flags().Changed("max-pages") {
				maxPages = e.MaxPages()
			}

			progress := make(chan indexer.Progress, 1)
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				for p := range progress {
					a.log.Debug().Int(log.FieldPage, p.Done).Int(log.FieldPages, p.Total).Int("percent", p.Percent).Msg("fetching")
				}
			}()
			res, err := e.Catalog.FetchAll(ctx, indexer.Query{
				Kind:       k,
				CategoryID: category,
				Filter:     flt,
				MaxPages:   maxPages,
				Progress:   progress,
			})
			close(progress)
			<-drained
			if err != nil {
				return err
			}
			if len(res.FailedPages) > 0 {
				a.log.Warn().Ints("failed_pages", res.FailedPages).Msg("some pages were skipped")
			}

			if out == "" {
				return a.printJSON(res.Items)
			}
			l := &catalog.Listing{
				Portal:     e.Conn.Base(),
				Category:   catalog.Category{ID: category, Kind: k},
				Generation: res.Generation,
				FetchedAt:  time.Now().UTC(),
				Items:      res.Items,
			}
			if err := l.Save(out); err != nil {
				return err
			}
			a.log.Info().Str("path", out).Int("items", len(res.Items)).Msg("listing saved")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "live", "section: live, movies or series")
	f.StringVar(&category, "category", "*", "category id")
	f.StringVar(&filter, "filter", "auto", "auto, all, series or movies")
	f.IntVar(&maxPages, "max-pages", 0, "page cap (0 = all)")
	f.StringVar(&out, "out", "", "write a listing file instead of printing")
	return cmd
}

func (a *app) seasonsCmd() *cobra.Command {
	var seriesID string
	cmd := &cobra.Command{
		Use:   "seasons",
		Short: "List the seasons of a series",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			series := catalog.MediaItem{
				Type:     catalog.ItemSeries,
				Kind:     catalog.KindSeries,
				ID:       seriesID,
				SeriesID: seriesID,
				MovieID:  seriesID,
				IsSeries: true,
			}
			seasons, err := e.Catalog.FetchSeasons(ctx, series, e.MaxPages())
			if err != nil {
				return err
			}
			return a.printJSON(seasons)
		},
	}
	cmd.Flags().StringVar(&seriesID, "series-id", "", "series id")
	cmd.MarkFlagRequired("series-id")
	return cmd
}

func (a *app) episodesCmd() *cobra.Command {
	var seasonID, movieID, numbers string
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List the episodes of a season",
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseInts(numbers)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			season := catalog.MediaItem{
				Type:           catalog.ItemSeason,
				Kind:           catalog.KindSeries,
				ID:             seasonID,
				SeasonID:       seasonID,
				MovieID:        movieID,
				SeriesID:       movieID,
				EpisodeNumbers: nums,
			}
			eps, err := e.Catalog.FetchEpisodes(ctx, season, e.MaxPages())
			if err != nil {
				return err
			}
			return a.printJSON(eps)
		},
	}
	f := cmd.Flags()
	f.StringVar(&seasonID, "season-id", "", "season id")
	f.StringVar(&movieID, "movie-id", "", "movie id of the series the season belongs to")
	f.StringVar(&numbers, "episodes", "", "comma-separated episode numbers (simple dialect seasons)")
	cmd.MarkFlagRequired("season-id")
	return cmd
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
