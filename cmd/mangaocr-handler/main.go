package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	appcfg "github.com/jo-hoe/mangaocr/internal/config"
	"github.com/jo-hoe/mangaocr/internal/invoke"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/ocr/mock"
	"github.com/jo-hoe/mangaocr/internal/ocr/tesseract"
	"github.com/jo-hoe/mangaocr/internal/optimize"
	"github.com/jo-hoe/mangaocr/internal/processor"
)

// Reads a single invocation event from stdin, runs the OCR pipeline inline
// and writes the response to stdout. Meant to be wrapped by a serverless
// runtime that speaks JSON over standard streams.
func main() {
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout stays a clean response channel.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var factory ocr.Factory
	if cfg.OCR.Provider == appcfg.ProviderMock {
		factory = func() (ocr.Engine, error) { return mock.New(cfg.OCR.Mock), nil }
	} else {
		factory = func() (ocr.Engine, error) { return tesseract.New(cfg.OCR.Languages) }
	}

	handler := &invoke.Handler{
		Log:       logger,
		Optimizer: optimize.New(logger, cfg.Optimize),
		Cache:     ocr.NewCache(logger, factory, cfg.OCR.EngineCacheTTL),
		Volume:    processor.NewVolume(logger, cfg.OCR.ProgressPollInterval),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var event invoke.Event
	if err := json.NewDecoder(os.Stdin).Decode(&event); err != nil {
		logger.Error("decode event", "err", err)
		os.Exit(1)
	}

	resp := handler.Handle(ctx, event)
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		logger.Error("encode response", "err", err)
		os.Exit(1)
	}
}
