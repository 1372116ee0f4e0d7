package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/core/logging"
	"github.com/guiyumin/vfetch/internal/core/retrieval"
	"github.com/guiyumin/vfetch/internal/core/version"
	"github.com/guiyumin/vfetch/internal/server"
)

func main() {
	// Command-line flags
	port := flag.Int("port", 0, "HTTP listen port (default: 8080)")
	output := flag.String("output", "", "output directory for downloads")
	configPath := flag.String("config", "", "config file (default: ~/.config/vfetch/config.yml)")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vfetch-server %s (%s)\n", version.Version, version.Commit)
		return
	}

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.LoadOrDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags win over config
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *output != "" {
		cfg.OutputDir = *output
	}

	logger := logging.Setup(cfg.Environment, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	orch, cache, err := retrieval.Setup(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire retrieval")
	}
	defer cache.Close()

	srv := server.NewServer(orch, server.Options{
		Port:          cfg.Server.Port,
		APIKey:        cfg.Server.APIKey,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Quality:       cfg.Quality,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
	}, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	logger.Info().Str("output", orch.Sink().Dir()).Msg("download directory")

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
