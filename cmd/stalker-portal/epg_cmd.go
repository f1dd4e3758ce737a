package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapetech/stalkerportal/internal/catalog"
	"github.com/snapetech/stalkerportal/internal/epg"
)

func (a *app) epgCmd() *cobra.Command {
	var (
		channel string
		size    int
		summary bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "epg",
		Short: "Show a channel's programme guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			done := make(chan error, 1)
			go func() { done <- e.Run(ctx) }()
			defer func() {
				cancel()
				<-done
			}()

			e.EPG.Request(catalog.MediaItem{Type: catalog.ItemChannel, Kind: catalog.KindLive, ChannelID: channel}, size)
			var r epg.Ready
			select {
			case r = <-e.EPG.Ready():
			case <-ctx.Done():
				return fmt.Errorf("epg for channel %s: %w", channel, ctx.Err())
			}
			if r.Err != nil {
				return r.Err
			}
			if summary {
				fmt.Fprintln(a.out, epg.Summary(r.Entries, time.Now(), e.Location()))
				return nil
			}
			return a.printJSON(r.Entries)
		},
	}
	f := cmd.Flags()
	f.StringVar(&channel, "channel", "", "channel id")
	f.IntVar(&size, "size", 0, "entries to fetch (default from config)")
	f.BoolVar(&summary, "summary", false, "print the current programme as text")
	f.DurationVar(&timeout, "timeout", 15*time.Second, "overall deadline")
	cmd.MarkFlagRequired("channel")
	return cmd
}
