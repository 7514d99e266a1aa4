package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/cairnq/pkg/api"
	"github.com/cuemby/cairnq/pkg/config"
	"github.com/cuemby/cairnq/pkg/log"
	"github.com/cuemby/cairnq/pkg/metrics"
	"github.com/cuemby/cairnq/pkg/queue"
	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/storage/boltkv"
	"github.com/cuemby/cairnq/pkg/storage/slotfile"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cairnq",
	Short: "cairnq - a durable single-node message queue",
	Long: `cairnq is a durable, single-node message queue served over HTTP/JSON.
Messages are pushed, polled, updated, and deleted against an on-disk
store with an fsync barrier before any write is acknowledged.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cairnq version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cairnq version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cairnq version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cairnq server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().String("backend", "", "Storage backend: slotfile or boltkv (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Backend = config.Backend(v)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	var backend storage.Backend
	var layout queue.Layout
	switch cfg.Backend {
	case config.BackendBoltKV:
		backend, err = boltkv.Open(cfg.DataDir)
		layout = queue.LayoutBoltKV
	case config.BackendSlotFile, "":
		backend, err = slotfile.Open(filepath.Join(cfg.DataDir, "cairnq.slots"), cfg.MaxContentsLen)
		layout = queue.LayoutSlotFile
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %v", err)
	}

	q, err := queue.New(context.Background(), queue.Config{
		Backend:        backend,
		Layout:         layout,
		MaxContentsLen: cfg.MaxContentsLen,
		OnSync: func(d time.Duration) {
			metrics.SyncBarrierDuration.Observe(d.Seconds())
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start queue: %v", err)
	}

	collector := metrics.NewCollector(q)
	collector.Start()

	srv := api.NewServer(q, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	log.Info(fmt.Sprintf("cairnq serving on %s (backend=%s, data-dir=%s)", cfg.ListenAddr, cfg.Backend, cfg.DataDir))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Error(err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error(fmt.Sprintf("http shutdown: %v", err))
	}
	collector.Stop()
	if err := q.Close(); err != nil {
		return fmt.Errorf("failed to close queue: %v", err)
	}

	log.Info("shutdown complete")
	return nil
}
