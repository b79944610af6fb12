package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/draftgate/draftgate/audit"
	"github.com/draftgate/draftgate/internal/daemon"
	"github.com/draftgate/draftgate/storage"
	"github.com/draftgate/draftgate/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsPort int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background integrity sweep",
	Long: `Run Draftgate in daemon mode.

The daemon re-verifies the audit hash chain on an interval, records the
result as a chain_verified audit entry, and publishes draft store
health. Metrics are served on /metrics, health on /health.`,
	Example: `  draftgate daemon                  # Run with config defaults
  draftgate daemon --interval 30s   # Sweep every 30 seconds
  draftgate daemon --metrics-port 9200`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Sweep interval (default from config)")
	daemonCmd.Flags().IntVar(&daemonMetricsPort, "metrics-port", 0, "Metrics HTTP server port (default from config)")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	interval := cfg.Daemon.Interval
	if daemonInterval > 0 {
		interval = daemonInterval
	}
	metricsPort := cfg.Daemon.MetricsPort
	if daemonMetricsPort > 0 {
		metricsPort = daemonMetricsPort
	}

	ctx := context.Background()
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceVersion: version,
		OTELEndpoint:   cfg.Daemon.OTELEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	log, err := audit.Open(cfg.AuditPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = log.Close() }()

	store, err := storage.Open(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to open draft store: %w", err)
	}
	defer func() { _ = store.Close() }()

	d, err := daemon.New(daemon.Config{Interval: interval, Log: log, Store: store})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	fmt.Printf("Starting draftgate daemon\n")
	fmt.Printf("  audit log: %s\n", cfg.AuditPath)
	fmt.Printf("  store:     %s\n", cfg.StoreDir)
	fmt.Printf("  interval:  %s\n", interval)
	fmt.Printf("  metrics:   http://localhost:%d/metrics\n\n", metricsPort)

	var group run.Group

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	group.Add(func() error {
		return d.Start(sweepCtx)
	}, func(error) {
		cancelSweep()
	})

	server := metricsServer(d, metricsPort)
	group.Add(func() error {
		err := server.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = group.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		fmt.Printf("\nreceived %s, daemon stopped\n", signalErr.Signal)
		return nil
	}
	return err
}

func metricsServer(d *daemon.Daemon, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := d.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.ChainOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	return &http.Server{
		Addr:              net.JoinHostPort("", fmt.Sprintf("%d", port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
