package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snapetech/stalkerportal/internal/catalog"
)

func (a *app) resolveCmd() *cobra.Command {
	var (
		typ, id, cmdStr string
		episode         int
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a channel, movie or episode to a stream URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := playable(typ, id, cmdStr, episode)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			link, err := e.Streams.Resolve(ctx, item)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, link)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&typ, "type", "channel", "channel, vod or episode")
	f.StringVar(&id, "id", "", "item id")
	f.StringVar(&cmdStr, "cmd", "", "playback command from the listing")
	f.IntVar(&episode, "episode", 0, "episode number (episodes only)")
	return cmd
}

func playable(typ, id, cmd string, episode int) (catalog.MediaItem, error) {
	item := catalog.MediaItem{ID: id, Cmd: cmd}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "channel", "live", "itv":
		item.Type, item.Kind, item.ChannelID = catalog.ItemChannel, catalog.KindLive, id
	case "vod", "movie":
		item.Type, item.Kind, item.MovieID = catalog.ItemVod, catalog.KindMovies, id
	case "episode":
		item.Type, item.Kind = catalog.ItemEpisode, catalog.KindSeries
		item.EpisodeID, item.EpisodeNumber = id, episode
	default:
		return item, fmt.Errorf("unknown item type %q", typ)
	}
	if id == "" && cmd == "" {
		return item, fmt.Errorf("--id or --cmd is required")
	}
	return item, nil
}
