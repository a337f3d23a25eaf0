package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/mangaocr/internal/common"
	"github.com/jo-hoe/mangaocr/internal/ocr"
)

// ProgressFunc receives progress percentage and the number of completed
// pages while a batch is running.
type ProgressFunc func(progress, currentPage int)

// Volume runs the OCR engine over an ordered batch and converts the engine's
// per-page completion signal into percentage updates inside the OCR band.
type Volume struct {
	log          *slog.Logger
	pollInterval time.Duration
}

// NewVolume creates a volume processor with the given progress poll interval.
func NewVolume(log *slog.Logger, pollInterval time.Duration) *Volume {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Volume{log: log, pollInterval: pollInterval}
}

// Run submits the full batch to the engine as one call and monitors the
// completion count at a fixed interval until the engine returns. Progress is
// mapped onto the 10-90 band and capped below it while the batch runs.
// Results are returned in submission order regardless of engine reordering.
// An engine failure fails the whole batch; there is no partial success.
func (v *Volume) Run(ctx context.Context, engine ocr.Engine, pages []string, report ProgressFunc) ([]ocr.PageResult, error) {
	total := len(pages)
	if total == 0 {
		return nil, fmt.Errorf("no pages to process")
	}

	var completed atomic.Int64
	type outcome struct {
		results []ocr.PageResult
		err     error
	}
	doneCh := make(chan outcome, 1)

	go func() {
		results, err := engine.Process(ctx, pages, func() { completed.Add(1) })
		doneCh <- outcome{results: results, err: err}
	}()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	lastReported := 0
	reportProgress := func() {
		done := int(completed.Load())
		progress := common.OCRBandStart + done*(common.OCRBandEnd-common.OCRBandStart)/total
		if progress > common.OCRBandCap {
			progress = common.OCRBandCap
		}
		if progress > lastReported {
			lastReported = progress
			if report != nil {
				report(progress, done)
			}
		}
	}

	var out outcome
monitor:
	for {
		select {
		case out = <-doneCh:
			break monitor
		case <-ticker.C:
			reportProgress()
		}
	}

	if out.err != nil {
		return nil, out.err
	}
	return orderResults(out.results, total)
}

// orderResults restores submission order by page index.
func orderResults(results []ocr.PageResult, total int) ([]ocr.PageResult, error) {
	if len(results) != total {
		return nil, fmt.Errorf("engine returned %d results for %d pages", len(results), total)
	}
	ordered := make([]ocr.PageResult, total)
	seen := make([]bool, total)
	for _, r := range results {
		if r.PageIndex < 0 || r.PageIndex >= total {
			return nil, fmt.Errorf("engine returned out-of-range page index %d", r.PageIndex)
		}
		if seen[r.PageIndex] {
			return nil, fmt.Errorf("engine returned duplicate page index %d", r.PageIndex)
		}
		seen[r.PageIndex] = true
		ordered[r.PageIndex] = r
	}
	return ordered, nil
}
