package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/scenehub/scenehub/internal/config"
	"github.com/scenehub/scenehub/internal/consts"
	"github.com/scenehub/scenehub/internal/hub"
	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/metrics"
	"github.com/scenehub/scenehub/internal/pprof"
	"github.com/scenehub/scenehub/internal/scene"
	"github.com/scenehub/scenehub/internal/session"
	"github.com/scenehub/scenehub/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	host := flag.String("host", "", "listen host, overrides SCENEHUB_HOST")
	port := flag.Int("port", 0, "listen port, overrides SCENEHUB_PORT")
	logLevel := flag.String("log-level", "", "log verbosity: debug, info, warn or error")
	envFile := flag.String("env-file", "", "env file to load before reading the environment")
	flag.Parse()

	if *envFile != "" {
		if loadErr := godotenv.Load(*envFile); loadErr != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFile, loadErr)
		}
	} else {
		// A missing default .env is not an error.
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var loggerInitialized bool
	defer func() {
		if !loggerInitialized {
			return
		}
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	loggerInitialized = true

	logger.Info("scenehub starting")

	if cfg.PprofAddr != "" {
		prof := pprof.NewHandler(cfg.PprofAddr)
		if err := prof.Start(); err != nil {
			return fmt.Errorf("failed to start profiling server: %w", err)
		}
		defer func() {
			if stopErr := prof.Stop(); stopErr != nil {
				logger.Warn("Failed to stop profiling server: %v", stopErr)
			}
		}()
	}

	collector := metrics.NewSystemCollector(consts.MetricsRefreshInterval)
	sessions := session.NewCoordinator()
	scn := scene.NewSynchronizer(cfg.LockStaleness)

	h := hub.New(cfg, sessions, scn, collector)
	h.Start()

	srv := web.NewServer(cfg, h, sessions)
	if err := srv.Start(); err != nil {
		h.Stop()
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Stop accepting new connections first, then let the hub close the
	// live sockets with a going-away frame.
	if err := srv.Stop(); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}
	h.Stop()

	logger.Info("scenehub stopped")
	return nil
}
