package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apihttp "hyperstream/internal/api/http"
	"hyperstream/internal/app"
	"hyperstream/internal/metrics"
	"hyperstream/internal/services/torrent/engine/anacrolix"
	"hyperstream/internal/services/torrent/engine/ffprobe"
	"hyperstream/internal/services/torrent/fetch"
	"hyperstream/internal/session"
	"hyperstream/internal/source"
	"hyperstream/internal/telemetry"
	"hyperstream/internal/transcode"
	"hyperstream/internal/usecase"
)

const serviceName = "hyperstream"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var addr, dataDir string

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Progressive media streaming over HTTP ranges",
		Long:          "Serves byte ranges of torrent-backed or local media while it downloads, transcoding containers browsers cannot play.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(addr, dataDir)
			logger := newLogger(cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)
			if err := runServer(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server failed", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "media root (overrides TORRENT_DATA_DIR)")

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass over the media and torrent-file directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(addr, dataDir)
			logger := newLogger(cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)
			res := newSweeper(cfg, nil, logger).Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%d bytes), %d dirs, %d errors\n",
				res.FilesRemoved, res.BytesFreed, res.DirsRemoved, res.Errors)
			if res.Errors > 0 {
				return fmt.Errorf("sweep finished with %d errors", res.Errors)
			}
			return nil
		},
	})
	return root
}

func loadConfig(addr, dataDir string) app.Config {
	cfg := app.LoadConfig()
	if strings.TrimSpace(addr) != "" {
		cfg.HTTPAddr = addr
	}
	if strings.TrimSpace(dataDir) != "" {
		cfg.TorrentDataDir = dataDir
	}
	// Sessions and the sweeper compare absolute paths.
	if abs, err := filepath.Abs(cfg.TorrentDataDir); err == nil {
		cfg.TorrentDataDir = abs
	}
	if abs, err := filepath.Abs(cfg.TorrentFilesDir); err == nil {
		cfg.TorrentFilesDir = abs
	}
	return cfg
}

func runServer(parent context.Context, cfg app.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(parent, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.String("torrentFilesDir", cfg.TorrentFilesDir),
		slog.Int64("transcodeMaxJobs", cfg.TranscodeMaxJobs),
		slog.Duration("retentionTTL", cfg.RetentionTTL),
	)

	for _, dir := range []string{cfg.TorrentDataDir, cfg.TorrentFilesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:      cfg.TorrentDataDir,
		MaxConns:     cfg.MaxConns,
		PollInterval: cfg.PiecePollInterval,
	})
	if err != nil {
		return fmt.Errorf("torrent engine init: %w", err)
	}

	prober := ffprobe.New(cfg.FFProbePath)
	encoder := transcode.Options{
		FFmpegPath:   cfg.FFMPEGPath,
		Preset:       cfg.TranscodePreset,
		Tune:         cfg.TranscodeTune,
		AudioBitrate: cfg.TranscodeAudioRate,
	}
	pipeline := transcode.NewPipeline(encoder, cfg.TranscodeMaxJobs, logger)
	converter := transcode.NewConverter(encoder, prober, logger)

	registry := session.NewRegistry()
	watcher := &usecase.ConversionWatcher{
		Converter: converter,
		Interval:  cfg.ConversionPoll,
		Logger:    logger,
	}
	initUC := &usecase.InitStream{
		Registry:        registry,
		Engine:          engine,
		Fetcher:         fetch.New(30 * time.Second),
		Watcher:         watcher,
		MediaRoot:       cfg.TorrentDataDir,
		TorrentFilesDir: cfg.TorrentFilesDir,
		Trackers:        cfg.Trackers,
		Source: source.TorrentConfig{
			MetadataTimeout:  cfg.MetadataTimeout,
			PieceWaitTimeout: cfg.PieceWaitTimeout,
			PollInterval:     cfg.PiecePollInterval,
		},
		Logger:     logger,
		Background: rootCtx,
	}

	handler := apihttp.NewServer(registry,
		apihttp.WithLogger(logger),
		apihttp.WithInitStream(initUC),
		apihttp.WithStreamMedia(usecase.StreamMedia{Registry: registry, Prober: prober, Logger: logger}),
		apihttp.WithListMedia(usecase.ListMedia{MediaRoot: cfg.TorrentDataDir}),
		apihttp.WithPipeline(pipeline),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	go newSweeper(cfg, registry.InUse, logger).Run(rootCtx, cfg.RetentionInterval)
	go publishSessions(rootCtx, registry, handler)

	srv := newHTTPServer(rootCtx, cfg.HTTPAddr, handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	registry.CloseAll()
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return serveErr
}

// newHTTPServer derives request contexts from ctx, so cancelling it stops
// in-flight streams and their transcoders during shutdown.
func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // streams are long-lived
		IdleTimeout:       60 * time.Second,
	}
}

func newSweeper(cfg app.Config, inUse func(string) bool, logger *slog.Logger) usecase.RetentionSweeper {
	return usecase.RetentionSweeper{
		Roots:  []string{cfg.TorrentDataDir, cfg.TorrentFilesDir},
		TTL:    cfg.RetentionTTL,
		InUse:  inUse,
		Logger: logger,
	}
}

// publishSessions keeps the session gauge current and pushes snapshots to
// WebSocket clients.
func publishSessions(ctx context.Context, registry *session.Registry, handler *apihttp.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveSessions.Set(float64(registry.Len()))
			handler.BroadcastSessions()
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
