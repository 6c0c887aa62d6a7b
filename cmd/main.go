package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sleipnir/internal/config"
	"sleipnir/internal/engine"
	"sleipnir/internal/feed"
	sleipnirNet "sleipnir/internal/net"
	"sleipnir/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (optional, e.g. :9003)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.Log.Level).Msg("unable to parse log level")
	}
	zerolog.SetGlobalLevel(level)

	// Snapshots persist to redis when configured, otherwise stay in
	// process memory (useful for local runs; state dies with the process).
	var snapshotStore store.SnapshotStore
	if cfg.Redis.Addr != "" {
		redisStore := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer redisStore.Close()
		snapshotStore = redisStore
		log.Info().Str("addr", cfg.Redis.Addr).Msg("snapshots persisted to redis")
	} else {
		snapshotStore = store.NewMemoryStore()
		log.Warn().Msg("no redis configured; snapshots are in-memory only")
	}

	feedServer := feed.NewServer(cfg.Feed.Address)

	eng := engine.New(snapshotStore, feedServer)
	eng.SetSnapshotEvery(cfg.Snapshot.Every)
	for _, product := range cfg.Products {
		if err := eng.AddProduct(ctx, product); err != nil {
			log.Fatal().Err(err).Str("product", product.ID).Msg("unable to add product")
		}
	}

	srv := sleipnirNet.New(cfg.Server.Address, cfg.Server.Port, eng)

	go srv.Run(ctx)
	go func() {
		if err := feedServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("feed server failed")
		}
	}()
	if *metricsAddr != "" {
		go func() {
			log.Info().Str("address", *metricsAddr).Msg("metrics server running")
			if err := http.ListenAndServe(*metricsAddr, promhttp.Handler()); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	// Block until shutdown, then let the runners take their final
	// snapshots before the process exits.
	<-ctx.Done()
	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
}
