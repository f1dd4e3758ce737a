// Command stalker-portal drives a stalker/MAG middleware portal from the
// command line.
//
//	connect     Handshake, load the profile and print account info
//	categories  List the categories of a section (live, movies, series)
//	items       List one category (optionally saved as a listing file)
//	seasons     List the seasons of a series
//	episodes    List the episodes of a season
//	resolve     Turn a channel, movie or episode into a playable URL
//	epg         Show a channel's programme guide
//	probe       Probe portal URLs and report which dialect answers
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snapetech/stalkerportal/internal/config"
	"github.com/snapetech/stalkerportal/internal/engine"
	"github.com/snapetech/stalkerportal/internal/log"
)

type app struct {
	configPath  string
	envFile     string
	logLevel    string
	metricsAddr string

	cfg     *config.Config
	log     zerolog.Logger
	out     io.Writer
	metrics *http.Server
}

func main() {
	a := &app{out: os.Stdout}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := a.root().ExecuteContext(ctx)
	stop()
	a.shutdownMetrics()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "stalker-portal",
		Short:         "Stalker portal client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("STALKER_CONFIG"), "YAML config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (overrides STALKER_LOG_LEVEL)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(
		a.connectCmd(),
		a.categoriesCmd(),
		a.itemsCmd(),
		a.seasonsCmd(),
		a.episodesCmd(),
		a.resolveCmd(),
		a.epgCmd(),
		a.probeCmd(),
	)
	return root
}

func (a *app) setup() error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	var w io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Output: w})
	a.log = log.WithComponent("cli")

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	return engine.New(ctx, a.cfg, &a.log)
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.log.Info().Str("addr", addr).Msg("serving metrics")
}

func (a *app) shutdownMetrics() {
	if a.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.metrics.Shutdown(ctx)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
