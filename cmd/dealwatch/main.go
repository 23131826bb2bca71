// Command dealwatch polls marketplace searches for newly listed records,
// matches them against the catalog, and reports listings whose projected
// resale profit clears the configured thresholds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cratedigger/dealwatch/engine/catalog"
	"github.com/cratedigger/dealwatch/engine/config"
	"github.com/cratedigger/dealwatch/engine/feed"
	"github.com/cratedigger/dealwatch/engine/match"
	"github.com/cratedigger/dealwatch/engine/watch"
	"github.com/cratedigger/dealwatch/pkg/metrics"
	"github.com/nats-io/nats.go"
)

func main() {
	var (
		configPath  = flag.String("config", "discovery.yaml", "path to the discovery config")
		statePath   = flag.String("state", "dealwatch_state.json", "path to the dedupe state file")
		once        = flag.Bool("once", false, "run a single pass and exit")
		natsURL     = flag.String("nats", os.Getenv("DEALWATCH_NATS_URL"), "NATS server URL (empty disables publishing)")
		subject     = flag.String("subject", "dealwatch.deals", "NATS subject prefix for deal reports")
		preset      = flag.String("preset", "", "ranking preset override (Aggressive, Balanced, Conservative)")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port (0 disables)")
		feedURL     = flag.String("feed-url", "https://api.ebay.com", "feed API base URL")
		catalogURL  = flag.String("catalog-url", "", "catalog API base URL (default: the public API)")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	feedToken := os.Getenv("DEALWATCH_FEED_TOKEN")
	catalogToken := os.Getenv("DEALWATCH_CATALOG_TOKEN")
	if feedToken == "" || catalogToken == "" {
		fmt.Fprintln(os.Stderr, "error: DEALWATCH_FEED_TOKEN and DEALWATCH_CATALOG_TOKEN must be set")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *preset != "" {
		cfg.Settings.Preset = *preset
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	browse := feed.NewBrowseClient(feed.BrowseOpts{
		BaseURL:     *feedURL,
		Token:       feed.StaticToken(feedToken),
		MinInterval: time.Duration(cfg.Settings.FeedMinIntervalS * float64(time.Second)),
	})
	cat := catalog.NewClient(catalog.ClientOpts{
		BaseURL:     *catalogURL,
		Token:       catalogToken,
		VinylOnly:   true,
		MinInterval: time.Duration(cfg.Settings.CatalogMinInterval * float64(time.Second)),
	})

	sinks := watch.MultiSink{&watch.LogSink{Out: os.Stdout}}
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("dealwatch"))
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer nc.Drain()
		sinks = append(sinks, &watch.NATSSink{Conn: nc, SubjectPrefix: *subject})
	}

	reg := metrics.New()
	if *metricsPort > 0 {
		reg.ServeAsync(*metricsPort)
		log.Printf("metrics on :%d/metrics", *metricsPort)
	}

	loop := watch.New(cfg, watch.Deps{
		Feed:    browse,
		Catalog: cat,
		Prices:  cat,
		Matcher: match.New(cat, cat, logger),
		Store:   watch.NewFileStateStore(*statePath),
		Sink:    sinks,
		Logger:  logger,
		Metrics: reg,
	})

	log.Printf("watching %d searches (preset %s)", len(cfg.Searches), cfg.Settings.Preset)

	if *once {
		err = loop.RunOnce(ctx)
	} else {
		err = loop.Run(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
