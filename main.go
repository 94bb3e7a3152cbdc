// clipforge/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipforge/api"
	"clipforge/artifact"
	"clipforge/clip"
	"clipforge/config"
	"clipforge/ffmpeg"
	"clipforge/lock"
	"clipforge/logging"
	"clipforge/progress"
	"clipforge/sysguard"
	"clipforge/task"
	"clipforge/work"
	"clipforge/ytdlp"
)

func main() {
	// 1. Load configuration
	logger := logging.WithComponent("main")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel})
	logger = logging.WithComponent("main")

	// 2. Wire tools, work service and task manager
	taskManager, err := newTaskManager(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize services")
	}

	// 3. Set up router and server
	router := api.SetupRouter(taskManager, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("output_dir", cfg.OutputDir).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	// 4. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	logger.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exiting")
}

// newTaskManager builds the download and clip pipeline behind the job queue.
func newTaskManager(cfg *config.Config) (*task.Manager, error) {
	// Initialize the external tools
	downloader, err := ytdlp.NewRunner(ytdlp.Options{
		Binary:                 cfg.YtdlpBin,
		SourceURLTemplate:      cfg.SourceURLTemplate,
		CookiesPath:            cfg.CookiesPath,
		FormatSelector:         cfg.FormatSelector,
		ExternalDownloader:     cfg.ExternalDownloader,
		ExternalDownloaderArgs: cfg.ExternalDownloaderArgs,
		ConcurrentFragments:    cfg.ConcurrentFragments,
		BufferSize:             cfg.BufferSize,
		HTTPChunkSize:          cfg.HTTPChunkSize,
		FragmentRetries:        cfg.FragmentRetries,
		Extensions:             cfg.VideoExtensions,
	}, progress.NewTerminal(os.Stderr, cfg.ProgressLines))
	if err != nil {
		return nil, fmt.Errorf("initialize downloader: %w", err)
	}

	editor, err := ffmpeg.NewEditor(cfg.FFBin, cfg.FFProbeBin)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg editor: %w", err)
	}
	transformer := clip.NewTransformer(editor, clip.Encoding{
		Container:  "mp4",
		VideoCodec: cfg.VideoCodec,
		AudioCodec: cfg.AudioCodec,
		Preset:     cfg.EncodePreset,
		Threads:    cfg.EncodeThreads,
	}, cfg.KeepFailedTemp)

	// Wire the work service that guards every artifact
	store := artifact.NewStore(cfg.OutputDir, cfg.VideoExtensions)
	guard := sysguard.New(sysguard.Limits{
		IdleCPU:  cfg.ThrottleCPU,
		FreeMem:  cfg.ThrottleFreeMem,
		FreeDisk: cfg.ThrottleFreeDisk,
	}, cfg.OutputDir)
	service, err := work.NewService(store, downloader, transformer, work.Options{
		Lock:  lock.Options{Timeout: cfg.LockTimeout, RetryDelay: cfg.LockRetryDelay},
		Guard: guard,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize work service: %w", err)
	}

	// Initialize task manager and inject the service
	return task.NewManager(cfg, service)
}
