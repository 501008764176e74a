package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"

	"github.com/tejusbharadwaj/domotik/internal/catalog"
	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/export"
	grpcserver "github.com/tejusbharadwaj/domotik/internal/grpc"
	"github.com/tejusbharadwaj/domotik/internal/logging"
	"github.com/tejusbharadwaj/domotik/internal/models"
	"github.com/tejusbharadwaj/domotik/internal/render"
	"github.com/tejusbharadwaj/domotik/internal/scheduler"
	"github.com/tejusbharadwaj/domotik/internal/server"
	"github.com/tejusbharadwaj/domotik/internal/stream"
	"github.com/tejusbharadwaj/domotik/internal/window"
)

var version = "dev"

// Command domotik serves home sensor readings stored in SQLite or
// PostgreSQL.
//
// The service supports:
//   - Streaming CSV exports of Linky, on/off, pressure and
//     temperature/humidity readings over a time window
//   - PNG charts of the same readings
//   - Prometheus metrics and a gRPC health service
//
// Usage:
//
//	domotik [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.toml")
//	-print-config
//	      print the effective configuration as YAML and exit
//	-version
//	      print the version and exit
func main() {
	cfg := parseFlags()

	if cfg.Version {
		fmt.Println(version)
		return
	}

	appConfig, err := config.Load(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.PrintConfig {
		if err := appConfig.WriteYAML(os.Stdout); err != nil {
			log.Fatalf("Failed to print configuration: %v", err)
		}
		return
	}

	loggers := logging.New(appConfig.Logging)
	logger := loggers.For("main")
	logger.WithFields(logrus.Fields{
		"version": version,
		"config":  cfg.ConfigPath,
		"driver":  appConfig.Database.Driver,
	}).Info("Starting domotik")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.NewSQLStore(database.Config{
		Driver:            appConfig.Database.Driver,
		DSN:               appConfig.Database.DSN(),
		MaxConnections:    appConfig.Database.MaxConnections,
		ConnectionTimeout: time.Duration(appConfig.Database.ConnectionTimeout) * time.Second,
	}, loggers.For("database"))
	if err != nil {
		logger.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Open(ctx); err != nil {
		if errors.Is(err, models.ErrConnection) {
			logger.WithError(err).Fatal("Storage is unreachable")
		}
		logger.Fatalf("Failed to open store: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	devices := appConfig.Registry()
	source := stream.NewSource(store, catalog.New(), devices, appConfig.Stream.BatchSize,
		stream.NewMetrics(registry), loggers.For("stream"))
	exporter := export.NewExporter(source, loggers.For("export"))
	renderer := render.NewRenderer(source, devices, render.Options{
		Altitude: appConfig.General.Altitude,
		Location: appConfig.Location(),
		Width:    vg.Length(appConfig.Render.Width) * vg.Inch,
		Height:   vg.Length(appConfig.Render.Height) * vg.Inch,
	}, loggers.For("render"))

	serverConfig := server.DefaultServerConfig()
	serverConfig.CacheSize = appConfig.Cache.Size
	serverConfig.RateLimit = appConfig.RateLimit.RPS
	serverConfig.RateLimitBurst = appConfig.RateLimit.Burst
	serverConfig.DefaultSpan = appConfig.DefaultSpan()
	serverConfig.Location = appConfig.Location()

	srv, err := server.NewServer(server.Services{
		Source:   source,
		Exporter: exporter,
		Renderer: renderer,
		Devices:  devices,
		Resolver: window.NewResolver(appConfig.Server.RejectInvertedWindow),
	}, serverConfig, registry, loggers.For("server"))
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	grpcLogger := loggers.For("grpc")
	health := grpcserver.NewHealthChecker()
	grpcSrv := grpcserver.NewServer(health, grpcLogger)

	sched := scheduler.NewScheduler(ctx, appConfig.Scheduler.HealthCheck, store, health, loggers.For("scheduler"))
	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	errChan := make(chan error, 2)
	shutdownTimeout := time.Duration(appConfig.Server.ShutdownTimeout) * time.Second

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port)
		logger.WithField("addr", addr).Info("Starting HTTP server")
		if err := srv.Listen(ctx, addr, shutdownTimeout); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.GRPCPort)
		if err := grpcserver.Serve(ctx, grpcSrv, health, addr, grpcLogger); err != nil {
			errChan <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	handleShutdown(cancel, errChan, logger)

	sched.Stop()
	wg.Wait()
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close store")
	}
	logger.Info("Shutdown complete")
}

type Config struct {
	ConfigPath  string
	PrintConfig bool
	Version     bool
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "config.toml", "Path to the TOML or YAML configuration file")
	flag.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration as YAML and exit")
	flag.BoolVar(&cfg.Version, "version", false, "Print the version and exit")

	flag.Parse()

	return cfg
}

// handleShutdown blocks until a signal or a server error, then cancels ctx.
func handleShutdown(cancel context.CancelFunc, errChan <-chan error, logger *logrus.Entry) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Service error, initiating shutdown")
	}
	cancel()
}
