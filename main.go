package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strmdav/pkg/config"
	"strmdav/pkg/dav"
	"strmdav/pkg/debrid"
	"strmdav/pkg/env"
	"strmdav/pkg/identify"
	"strmdav/pkg/jellyfin"
	"strmdav/pkg/logger"
	"strmdav/pkg/reconciler"
	"strmdav/pkg/repair"
	"strmdav/pkg/server"
	"strmdav/pkg/store"
	"strmdav/pkg/tmdb"
	"strmdav/pkg/vfs"
)

const cacheEvictionInterval = 10 * time.Minute

func main() {
	logger.Init()
	env.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Configuration: %v", err)
	}
	logger.Info("Scan interval: %s, store: %s, listen: %s", cfg.ScanInterval, cfg.StorePath, cfg.ListenAddr)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Fatal("Opening store %s: %v", cfg.StorePath, err)
	}
	defer st.Close()

	rdClient := debrid.NewClient(
		cfg.RDAPIToken,
		time.Duration(cfg.RateLimit.BaselineMs)*time.Millisecond,
		time.Duration(cfg.RateLimit.MaxMs)*time.Millisecond,
	)
	tmdbClient := tmdb.NewClient(cfg.TMDBAPIKey)
	identifier := identify.New(tmdbClient)
	repairs := repair.NewManager(rdClient)
	live := vfs.NewLive()

	var notifier reconciler.Notifier
	if c := jellyfin.FromConfig(cfg.Jellyfin); c != nil {
		notifier = c
		logger.Info("Jellyfin notifier enabled for %s", cfg.Jellyfin.URL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdClient.StartCacheEvictionJob(ctx, cacheEvictionInterval)

	rec := reconciler.New(rdClient, identifier, st, repairs, live, notifier, cfg.ScanInterval)
	go rec.Run(ctx)

	handler := dav.NewHandler(dav.NewFileSystem(live, rdClient, repairs))
	srv := server.New(cfg.ListenAddr, cfg.MaxConns, handler)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("Server: %v", err)
	}

	logger.Info("Shutdown complete")
}
