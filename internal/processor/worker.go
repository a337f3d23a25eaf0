package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jo-hoe/mangaocr/internal/common"
	"github.com/jo-hoe/mangaocr/internal/jobs"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/optimize"
	"github.com/jo-hoe/mangaocr/internal/storage"
)

// Worker implements jobs.Processor: it drives one job through the
// upload → ocr → finalize → complete stage machine, relaying progress into
// the store. Failures at any step mark the job failed; they never escape the
// worker pool. Store writes that hit jobs.ErrNotFound are ignored so an
// in-flight task for a deleted job is a harmless no-op.
type Worker struct {
	Log       *slog.Logger
	Store     jobs.Store
	Optimizer *optimize.Optimizer
	Cache     *ocr.Cache
	Volume    *Volume
	Library   *storage.Library
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, store jobs.Store, opt *optimize.Optimizer, cache *ocr.Cache, vol *Volume, lib *storage.Library) *Worker {
	return &Worker{
		Log:       log,
		Store:     store,
		Optimizer: opt,
		Cache:     cache,
		Volume:    vol,
		Library:   lib,
	}
}

func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	log := w.Log.With("job_id", item.Job.ID)
	if err := w.run(ctx, item, log); err != nil {
		w.failJob(item.Job.ID, err, log)
		return err
	}
	return nil
}

func (w *Worker) run(ctx context.Context, item jobs.WorkItem, log *slog.Logger) error {
	job := item.Job
	pages := item.Pages
	total := len(pages)
	if total == 0 {
		return errors.New("no pages in work item")
	}

	now := time.Now().UTC()
	w.ignoreDeleted(w.Store.SetStage(job.ID, jobs.StageUpload, &now), log)

	// Normalization is best-effort per page; a bad page goes through as-is.
	for _, p := range pages {
		w.Optimizer.Normalize(p)
	}
	intake := common.ProgressIntakeMulti
	if job.IsSinglePage {
		intake = common.ProgressIntakeSingle
	}
	w.setProgress(job.ID, intake, 0, log)

	// Blank detection only makes sense across a volume; a single page has
	// nothing to skip.
	if !job.IsSinglePage {
		var blanks []int
		for i, p := range pages {
			if w.Optimizer.IsBlank(p) {
				blanks = append(blanks, i)
				log.Info("page detected as blank", "page", i)
			}
		}
		if len(blanks) > 0 {
			w.ignoreDeleted(w.Store.SetBlankPages(job.ID, blanks), log)
		}
	}

	w.ignoreDeleted(w.Store.SetStage(job.ID, jobs.StageOCR, nil), log)
	w.setProgress(job.ID, common.OCRBandStart, 0, log)

	engine, err := w.Cache.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire engine: %w", err)
	}
	log.Info("running OCR batch", "engine", engine.Name(), "pages", total)

	results, err := w.Volume.Run(ctx, engine, pages, func(progress, currentPage int) {
		w.setProgress(job.ID, progress, currentPage, log)
	})
	if err != nil {
		return fmt.Errorf("process volume: %w", err)
	}

	w.ignoreDeleted(w.Store.SetStage(job.ID, jobs.StageFinalize, nil), log)
	w.setProgress(job.ID, common.ProgressFinalize, total, log)

	artifact := BuildResult(job.Title, results)
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	resultPath, err := w.Library.WriteResult(job.ID, SafeTitle(job.Title)+".mokuro", data)
	if err != nil {
		return fmt.Errorf("persist result: %w", err)
	}

	if err := w.Store.SaveResult(job.ID, resultPath, time.Now().UTC()); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Job was deleted while we were processing; drop the artifact we
			// just re-created instead of resurrecting the job.
			log.Info("job deleted during processing, discarding result")
			_ = w.Library.RemoveJob(job.ID)
			return nil
		}
		return fmt.Errorf("save result: %w", err)
	}
	log.Info("job completed", "pages", total, "result", resultPath)
	return nil
}

func (w *Worker) failJob(id string, cause error, log *slog.Logger) {
	log.Error("job failed", "err", cause)
	if err := w.Store.SaveError(id, cause.Error(), errorDetail(cause), time.Now().UTC()); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		log.Error("record job failure", "err", err)
	}
}

func (w *Worker) setProgress(id string, progress, currentPage int, log *slog.Logger) {
	w.ignoreDeleted(w.Store.SetProgress(id, progress, currentPage), log)
}

func (w *Worker) ignoreDeleted(err error, log *slog.Logger) {
	if err == nil || errors.Is(err, jobs.ErrNotFound) {
		return
	}
	log.Error("store update failed", "err", err)
}

// errorDetail expands the wrapped error chain one cause per line, the
// diagnostic counterpart of the short user-facing message.
func errorDetail(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
