package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snapetech/stalkerportal/internal/httpclient"
	"github.com/snapetech/stalkerportal/internal/identity"
	"github.com/snapetech/stalkerportal/internal/provider"
)

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [url...]",
		Short: "Probe portal URLs and report which dialect answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if len(urls) == 0 {
				urls = a.cfg.Candidates()
			}
			if len(urls) == 0 {
				return fmt.Errorf("no portal url given")
			}
			var mac string
			if a.cfg.MAC != "" {
				if _, err := identity.NormalizeMAC(a.cfg.MAC); err != nil {
					return err
				}
				mac = strings.TrimSpace(a.cfg.MAC)
			}
			client := httpclient.New(httpclient.Options{
				ConnectTimeout: a.cfg.ConnectTimeout,
				ReadTimeout:    a.cfg.ReadTimeout,
				Timeout:        a.cfg.RequestTimeout,
			})

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URL\tDIALECT\tSTATUS\tCODE\tLATENCY\tENDPOINT")
			var best string
			for _, u := range urls {
				for _, r := range provider.ProbeAll(cmd.Context(), u, mac, client) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\t%s\n", u, r.Dialect, r.Status, r.StatusCode, r.LatencyMs, r.Endpoint)
					if best == "" && r.Status == provider.StatusOK {
						best = fmt.Sprintf("%s (%s)", u, r.Dialect)
					}
				}
			}
			tw.Flush()
			if best == "" {
				return fmt.Errorf("no portal answered")
			}
			fmt.Fprintln(a.out, "use:", best)
			return nil
		},
	}
}
