package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/api/middleware"
	"github.com/feral-file/ff-version-index/internal/api/server"
	"github.com/feral-file/ff-version-index/internal/bridge"
	"github.com/feral-file/ff-version-index/internal/config"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/store"
)

const serviceName = "version-indexer"

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadIndexerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		Service:         serviceName,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting version indexer")

	// Open the version store
	versionStore, err := store.Open(store.Config{
		Dir:          cfg.Store.Dir,
		CacheSize:    cfg.Store.CacheSize,
		BytesPerSync: cfg.Store.BytesPerSync,
	}, adapter.NewClock())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open version store", zap.Error(err), zap.String("dir", cfg.Store.Dir))
	}

	errCh := make(chan error, 2)

	// The bridge is optional: without NATS the service only serves reads
	var versionBridge bridge.Bridge
	bridgeDone := make(chan struct{})
	if cfg.NATS.URL != "" {
		versionBridge, err = bridge.NewBridge(bridge.Config{
			URL:             cfg.NATS.URL,
			StreamName:      cfg.NATS.StreamName,
			ConsumerName:    cfg.NATS.ConsumerName,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ConnectionName:  cfg.NATS.ConnectionName,
			AckWaitTimeout:  cfg.NATS.AckWait,
			MaxDeliver:      cfg.NATS.MaxDeliver,
			WorkerPoolSize:  cfg.Worker.PoolSize,
			WorkerQueueSize: cfg.Worker.QueueSize,
			RetryMaxElapsed: cfg.Worker.RetryMaxElapsed,
		}, adapter.NewNatsJetStream(), versionStore)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create version bridge", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}

		go func() {
			defer close(bridgeDone)
			if err := versionBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("version bridge stopped: %w", err)
			}
		}()
	} else {
		logger.WarnCtx(ctx, "NATS URL not configured, running read-only")
		close(bridgeDone)
	}

	// Start the API server
	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
		MaxBlockWindow: cfg.Sync.MaxBlockWindow,
		MaxPageSize:    cfg.Sync.MaxPageSize,
	}, versionStore)

	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal or a component failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err)
	}

	// Stop writers before readers, and both before closing the store
	cancel()
	<-bridgeDone
	if versionBridge != nil {
		versionBridge.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	if err := versionStore.Close(); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("message", "Failed to close version store"))
	}

	logger.InfoCtx(shutdownCtx, "Version indexer stopped")
}
