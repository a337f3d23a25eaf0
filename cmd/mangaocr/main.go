package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appcfg "github.com/jo-hoe/mangaocr/internal/config"
	"github.com/jo-hoe/mangaocr/internal/jobs"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/ocr/mock"
	"github.com/jo-hoe/mangaocr/internal/ocr/tesseract"
	"github.com/jo-hoe/mangaocr/internal/optimize"
	"github.com/jo-hoe/mangaocr/internal/processor"
	"github.com/jo-hoe/mangaocr/internal/scheduler"
	"github.com/jo-hoe/mangaocr/internal/server"
	"github.com/jo-hoe/mangaocr/internal/storage"
)

func main() {
	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Store
	store, err := newStore(cfg)
	if err != nil {
		logger.Error("open job store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Storage layout
	library, err := storage.NewLibrary(cfg.Server.StorageDir)
	if err != nil {
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}

	// Pipeline components
	optimizer := optimize.New(logger, cfg.Optimize)
	cache := ocr.NewCache(logger, engineFactory(cfg), cfg.OCR.EngineCacheTTL)
	volume := processor.NewVolume(logger, cfg.OCR.ProgressPollInterval)
	worker := processor.New(logger, store, optimizer, cache, volume, library)

	// Worker pool
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	sched := scheduler.New(logger, store, queue, library, cache, int64(cfg.Server.MaxUploadSize))

	// HTTP server
	svc := &server.Service{
		Log:       logger,
		Cfg:       cfg,
		Scheduler: sched,
	}
	httpSrv := server.NewHTTPServer(cfg, server.NewRouter(svc))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr, "store", cfg.Server.Store, "provider", cfg.OCR.Provider)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func newStore(cfg *appcfg.Config) (jobs.Store, error) {
	if cfg.Server.Store == appcfg.StoreMemory {
		return jobs.NewMemoryStore(), nil
	}
	return jobs.NewSQLiteStore(cfg.Server.DatabasePath)
}

func engineFactory(cfg *appcfg.Config) ocr.Factory {
	if cfg.OCR.Provider == appcfg.ProviderMock {
		return func() (ocr.Engine, error) { return mock.New(cfg.OCR.Mock), nil }
	}
	return func() (ocr.Engine, error) { return tesseract.New(cfg.OCR.Languages) }
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
