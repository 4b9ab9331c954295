package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/config"
	"github.com/cuemby/backupd/internal/engine"
	"github.com/cuemby/backupd/internal/ipc"
	"github.com/cuemby/backupd/internal/paths"
	"github.com/cuemby/backupd/internal/reconcile"
	"github.com/cuemby/backupd/internal/watcher"
	"github.com/cuemby/backupd/pkg/events"
	"github.com/cuemby/backupd/pkg/log"
	"github.com/cuemby/backupd/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backupd daemon in the foreground",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9181", "Address for the Prometheus /metrics endpoint")
	runCmd.Flags().Bool("no-metrics-server", false, "Disable the /metrics HTTP server")
	runCmd.Flags().Bool("log-file", false, "Write JSON logs to the standard log file instead of stdout (for systemd unit use)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	noMetricsServer, _ := cmd.Flags().GetBool("no-metrics-server")
	logToFile, _ := cmd.Flags().GetBool("log-file")

	if logToFile {
		if err := os.MkdirAll(paths.LogDir(), 0o700); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(paths.LogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.Init(log.Config{Level: log.Level(log.Logger.GetLevel().String()), JSONOutput: true, Output: f})
	}

	logger := log.WithComponent("daemon")

	cleanupPID, err := claimPIDFile(paths.PIDPath())
	if err != nil {
		return err
	}
	defer cleanupPID()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(paths.DataDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cache, err := backup.OpenCache(paths.CacheDBPath())
	if err != nil {
		return fmt.Errorf("open status cache: %w", err)
	}
	defer cache.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	eng := engine.New()
	mgr := backup.NewManager(cfg, eng, cache, broker, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.InitializeStatus(ctx)
	metrics.RegisterComponent("manager", true, "initialized")

	sets := make([]*backup.Set, 0, len(cfg.BackupSets))
	for i := range cfg.BackupSets {
		sets = append(sets, backup.NewSet(&cfg.BackupSets[i], &cfg.Global))
	}

	w, err := watcher.New(sets, log.Logger, func(setName string) {
		metrics.WatcherEventsTotal.WithLabelValues(setName).Inc()
		if err := mgr.HandleFileChange(ctx, setName); err != nil {
			logger.Warn().Err(err).Str("set", setName).Msg("file change for unknown set")
		}
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()
	metrics.RegisterComponent("watcher", true, "watching")

	recon := reconcile.New(configPath, mgr, log.Logger)
	recon.Start(ctx)
	metrics.RegisterComponent("reconciler", true, "watching config")

	disp := &dispatcher{manager: mgr, reconciler: recon, shutdown: cancel, log: logger}
	server, err := ipc.Listen(paths.SocketPath(), disp, broker, log.Logger)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	metrics.RegisterComponent("ipc-server", true, "listening")

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	if !noMetricsServer {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Serve(ctx)
	}()

	logger.Info().Str("socket", paths.SocketPath()).Int("sets", len(sets)).Msg("backupd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("control socket server error")
		}
	}

	cancel()
	server.Close()
	server.Wait()
	mgr.Wait()

	logger.Info().Msg("backupd stopped")
	return nil
}
