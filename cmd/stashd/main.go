package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/internal/server"
	"github.com/marmos91/stashd/pkg/config"
	"github.com/marmos91/stashd/pkg/metrics"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <port>\nExample: %s 8080\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// The positional port argument overrides the configured port. It is
	// optional when a config file provides one.
	if flag.NArg() > 1 {
		usage()
		os.Exit(1)
	}
	if flag.NArg() == 1 {
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil || port <= 0 || port > 65535 {
			fmt.Fprintln(os.Stderr, "Invalid port number.")
			usage()
			os.Exit(1)
		}
		cfg.Server.Port = port
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("Failed to render configuration: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("stashd starting")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	reg, err := config.CreateUserRegistry(ctx, &cfg.Registry, &cfg.Quota)
	if err != nil {
		log.Fatalf("Failed to create user registry: %v", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Failed to close registry: %v", err)
		}
	}()

	store, err := config.CreateFileStore(ctx, &cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create file store: %v", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()

		metricsServer := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	srv, err := server.New(server.Options{
		Address:             fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Registry:            reg,
		Store:               store,
		ClientThreads:       cfg.Server.ClientThreads,
		WorkerThreads:       cfg.Server.WorkerThreads,
		ClientQueueCapacity: cfg.Server.ClientQueueCapacity,
		TaskQueueCapacity:   cfg.Server.TaskQueueCapacity,
		MaxUploadBytes:      cfg.Server.MaxUploadBytes,
		RequestsPerSecond:   cfg.Server.RateLimit.RequestsPerSecond,
		RateBurst:           cfg.Server.RateLimit.Burst,
		ShutdownTimeout:     cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	logger.Info("Server configuration:")
	logger.Info("  Port: %d", cfg.Server.Port)
	logger.Info("  Client threads: %d", cfg.Server.ClientThreads)
	logger.Info("  Worker threads: %d", cfg.Server.WorkerThreads)
	logger.Info("  Client queue capacity: %d", cfg.Server.ClientQueueCapacity)
	logger.Info("  Task queue capacity: %d", cfg.Server.TaskQueueCapacity)
	logger.Info("  Registry: %s", cfg.Registry.Type)
	logger.Info("  Storage: %s", cfg.Storage.Type)
	logger.Info("  Quota limit: %d bytes", cfg.Quota.LimitBytes)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Server.Port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
