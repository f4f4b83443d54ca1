package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/config"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

// rebuild-index regenerates the change index from the primary index.
// It must not run while version-indexer holds the same store directory.
func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadRebuildConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		Service:   "rebuild-index",
		SentryDSN: cfg.SentryDSN,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	versionStore, err := store.Open(store.Config{
		Dir:          cfg.Store.Dir,
		CacheSize:    cfg.Store.CacheSize,
		BytesPerSync: cfg.Store.BytesPerSync,
	}, adapter.NewClock())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open version store", zap.Error(err), zap.String("dir", cfg.Store.Dir))
	}

	count, rebuildErr := versionStore.Rebuild(ctx)
	if err := versionStore.Close(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to close version store"))
	}
	if rebuildErr != nil {
		logger.ErrorCtx(ctx, rebuildErr, zap.String("message", "Rebuild failed"))
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}

	logger.InfoCtx(ctx, "Change index rebuilt", zap.Int("markers", count), zap.String("dir", cfg.Store.Dir))
}
