package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/jo-hoe/mangaocr/internal/jobs"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/storage"
	"github.com/jo-hoe/mangaocr/internal/util"
)

// ErrNoFiles is returned by Submit when the request carries no images.
var ErrNoFiles = errors.New("no files provided")

// ErrNotReady is returned by Result when the job has not completed.
var ErrNotReady = errors.New("job not complete")

// ValidationError marks submission failures caused by caller input, so the
// gateway can answer 4xx instead of 5xx.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Scheduler owns job intake and lifecycle operations shared by the HTTP and
// invocation faces. Submit never blocks on processing: it persists the
// initial record, hands one WorkItem to the bounded queue and returns.
type Scheduler struct {
	log       *slog.Logger
	store     jobs.Store
	queue     *jobs.Queue
	library   *storage.Library
	cache     *ocr.Cache
	maxUpload int64
}

// New wires a scheduler over its collaborators.
func New(log *slog.Logger, store jobs.Store, queue *jobs.Queue, library *storage.Library, cache *ocr.Cache, maxUpload int64) *Scheduler {
	return &Scheduler{
		log:       log,
		store:     store,
		queue:     queue,
		library:   library,
		cache:     cache,
		maxUpload: maxUpload,
	}
}

// Submit validates the upload, persists pages and the initial job record,
// and schedules background processing. The returned job is the created
// snapshot; processing state is observable through Status polls.
func (s *Scheduler) Submit(files []*multipart.FileHeader, title string, returnJSON bool) (*jobs.Job, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	id := util.NewID()
	if title == "" {
		title = "Manga " + util.ShortID(id)
	}

	pages := make([]string, 0, len(files))
	for i, fh := range files {
		path, err := s.library.SavePage(id, i, fh, s.maxUpload)
		if err != nil {
			_ = s.library.RemoveJob(id)
			return nil, &ValidationError{Err: fmt.Errorf("save page %d: %w", i, err)}
		}
		pages = append(pages, path)
	}

	job := &jobs.Job{
		ID:           id,
		Status:       jobs.StatusProcessing,
		Stage:        jobs.StageUpload,
		Progress:     0,
		TotalPages:   len(pages),
		Title:        title,
		IsSinglePage: len(pages) == 1,
		ReturnJSON:   returnJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJob(job); err != nil {
		_ = s.library.RemoveJob(id)
		return nil, fmt.Errorf("persist job: %w", err)
	}

	if err := s.queue.Enqueue(jobs.WorkItem{Job: *job, Pages: pages}); err != nil {
		// Roll back so a rejected submission leaves no trace.
		_ = s.store.DeleteJob(id)
		_ = s.library.RemoveJob(id)
		return nil, err
	}
	s.log.Info("job submitted", "job_id", id, "pages", len(pages), "title", title, "single_page", job.IsSinglePage)
	return job, nil
}

// Status returns the current job record.
func (s *Scheduler) Status(id string) (*jobs.Job, error) {
	return s.store.GetJob(id)
}

// List returns summaries of all known jobs.
func (s *Scheduler) List() ([]jobs.Summary, error) {
	all, err := s.store.ListJobs()
	if err != nil {
		return nil, err
	}
	out := make([]jobs.Summary, 0, len(all))
	for _, j := range all {
		out = append(out, j.Summary())
	}
	return out, nil
}

// Result returns the completed job and its artifact path. Jobs that are
// unknown, still running, or failed yield ErrNotFound/ErrNotReady.
func (s *Scheduler) Result(id string) (*jobs.Job, string, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != jobs.StatusCompleted || job.ResultPath == nil {
		return nil, "", ErrNotReady
	}
	return job, *job.ResultPath, nil
}

// Delete removes the job record and every persisted artifact. It does not
// interrupt an in-flight background task; that task's later store writes
// become no-ops against the absent record.
func (s *Scheduler) Delete(id string) error {
	if err := s.store.DeleteJob(id); err != nil {
		return err
	}
	if err := s.library.RemoveJob(id); err != nil {
		s.log.Warn("remove job artifacts", "job_id", id, "err", err)
	}
	s.log.Info("job deleted", "job_id", id)
	return nil
}

// Stats describes cache, queue and job-count diagnostics.
type Stats struct {
	Cache      ocr.CacheStats `json:"cache"`
	QueueDepth int            `json:"queue_depth"`
	Completed  int            `json:"total_jobs_processed"`
	Active     int            `json:"active_jobs"`
	Failed     int            `json:"failed_jobs"`
}

// Stats assembles service diagnostics for the stats endpoint.
func (s *Scheduler) Stats() (Stats, error) {
	completed, err := s.store.CountByStatus(jobs.StatusCompleted)
	if err != nil {
		return Stats{}, err
	}
	active, err := s.store.CountByStatus(jobs.StatusProcessing)
	if err != nil {
		return Stats{}, err
	}
	failed, err := s.store.CountByStatus(jobs.StatusFailed)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Cache:      s.cache.Stats(),
		QueueDepth: s.queue.Depth(),
		Completed:  completed,
		Active:     active,
		Failed:     failed,
	}, nil
}
