package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/compiler"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/ratelimit"
	"github.com/fluxbase-eu/bundlebridge/internal/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// CLI flags
	showVersion = flag.Bool("version", false, "Show version information")
	configFile  = flag.String("config", "", "Path to bundlebridge.yaml")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("bundlehost %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting bundle host")

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	server.Version = Version

	tracer, err := observability.NewTracer(context.Background(), server.TracerConfig(cfg))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
	}

	opts := []server.Option{server.WithTracer(tracer)}
	serviceOpts := []compiler.ServiceOption{compiler.WithName(cfg.Webpack.ServiceName)}
	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(nil)
		opts = append(opts, server.WithMetrics(metrics))
		serviceOpts = append(serviceOpts, compiler.WithObserver(metrics))
	}

	if cfg.Host.RateLimitMax > 0 {
		storage, err := ratelimit.NewStorage(cfg.Host.RateLimitStorage, cfg.Host.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create rate limit storage")
		}
		opts = append(opts, server.WithLimiterStorage(storage))
	}

	svc := compiler.NewService(serviceOpts...)
	opts = append(opts, server.WithService(svc))

	janitor, err := compiler.NewJanitor(svc, cfg.Host.JanitorSchedule, cfg.Host.WatchIdleTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create watcher janitor")
	}
	janitor.Start()

	srv := server.NewServer(cfg, opts...)

	go func() {
		log.Info().
			Str("address", cfg.Host.Address).
			Strs("services", srv.ServiceNames()).
			Msg("Starting bundle host server")
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	<-janitor.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
