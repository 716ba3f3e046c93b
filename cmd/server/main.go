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
	"go.uber.org/zap"

	"ytdl-server/internal/api"
	"ytdl-server/internal/config"
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/jobs"
	"ytdl-server/internal/logger"
	"ytdl-server/internal/server"
)

const shutdownTimeout = 30 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ytdl-server",
	Short: "Asynchronous media fetch service",
	Long: `ytdl-server accepts fetch requests over HTTP, runs them on a bounded
worker pool and hands back the merged file by token.

Endpoints:
  /watch     submit (add not-json to block and receive the file)
  /progress  poll a token
  /download  fetch a finished file
  /events    progress as server-sent events
  /info      title and available qualities
  /healthz   pool and host stats`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (toml, yaml or json)")
}

func newEngine(cfg *config.Config, log *zap.SugaredLogger) downloader.Engine {
	if cfg.Engine.Kind == config.EngineNative {
		return downloader.NewNativeEngine(cfg.Storage.TempDir, cfg.Engine.FFmpeg, log)
	}
	return downloader.NewYTDLPEngine(cfg.Engine.FFmpeg, log)
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("server")

	if err := server.PrepareFilesystem(cfg); err != nil {
		return err
	}

	manager := jobs.NewManager(cfg, newEngine(cfg, logger.Logger), logger.Logger)
	throttle := api.NewThrottle(cfg.Limits.RequestsPerSecond, cfg.Limits.RequestBurst)

	janitor := jobs.NewJanitor(cfg, manager.Limiter(), logger.Logger)
	janitor.Register("throttle_clients_removed", func() int { return throttle.Prune(time.Hour) })
	janitor.Register("download_files_removed", manager.SweepDownloads)
	if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
		return fmt.Errorf("invalid janitor.schedule %q: %w", cfg.Janitor.Schedule, err)
	}
	defer janitor.Stop()

	zapLogger := logger.Logger.Desugar()
	handler := api.NewHandler(manager, downloader.NewYouTubeProber(), cfg, zapLogger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(handler, cfg, throttle, zapLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infow("YTDL server started",
			"addr", srv.Addr,
			"engine", cfg.Engine.Kind,
			"workers", cfg.Workers.MaxParallel,
			"daily_quota", cfg.Limits.DailyQuota,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Infow("Shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown incomplete", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Jobs still running at shutdown", "error", err)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
