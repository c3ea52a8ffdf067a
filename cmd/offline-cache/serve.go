package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	originFlag       string
	addrFlag         string
	hostFlag         string
	portFlag         int
	dbFilenameFlag   string
	queueFlag        string
	queuePathFlag    string
	cacheVersionFlag string
	metricsFlag      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the cache and serve the app through it",
	Long: `Install the application shell, activate the cache and start intercepting.

Examples:
  # Proxy port 8080 to a local app
  offline-cache serve --origin http://localhost:3000

  # Connect by IP with a hostname and keep the queue in badger
  offline-cache serve --addr 10.0.0.5 --host tasks.example.com --queue badger --queue-path ./queue`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flags.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flags.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flags.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flags.StringVar(&queueFlag, "queue", "sqlite", "Mutation queue provider (sqlite, badger or memory)")
	flags.StringVar(&queuePathFlag, "queue-path", "queue.db", "Mutation queue file (sqlite) or directory (badger)")
	flags.StringVar(&cacheVersionFlag, "cache-version", "", "Build version the cache partitions are named after")
	flags.BoolVar(&metricsFlag, "metrics", false, "Expose Prometheus metrics at /metrics")
}

// loadConfig reads the config file and applies the flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (FileConfig, error) {
	fc, err := getConfig(configFilenameFlag)
	if err != nil {
		return fc, err
	}
	flags := cmd.Flags()
	if flags.Changed("origin") {
		fc.Origin = originFlag
	} else if flags.Changed("addr") {
		fc.Origin = "https://" + addrFlag
	}
	if flags.Changed("host") {
		fc.Host = hostFlag
	}
	if flags.Changed("port") {
		fc.Port = portFlag
	}
	if flags.Changed("db") {
		fc.DB = dbFilenameFlag
	}
	if flags.Changed("queue") {
		fc.Queue.Provider = queueFlag
	}
	if flags.Changed("queue-path") {
		fc.Queue.Path = queuePathFlag
	}
	if flags.Changed("cache-version") {
		fc.Version = cacheVersionFlag
	}
	if flags.Changed("metrics") {
		fc.Metrics = metricsFlag
	}
	return fc, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	fc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config, err := fc.controllerConfig()
	if err != nil {
		return err
	}

	if config.Cache, err = openCache(fc); err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer config.Cache.Close()
	if config.Queue, err = openQueue(fc, log.Logger); err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer config.Queue.Close()

	if fc.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		config.Metrics = metrics.New(reg)
	}
	config.Logger = &log.Logger

	controller, err := offlinecache.CreateController(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a failed install is not fatal: the app is proxied without a cache
	if err := controller.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Could not start offline cache, passing requests through")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", fc.Port),
		Handler: controller.Router(),
	}
	errs := make(chan error, 1)
	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", fc.Port, config.OriginURL.String(), config.OriginHost)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	return controller.Close(shutdownCtx)
}
