package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jo-hoe/mangaocr/internal/common"
	"github.com/jo-hoe/mangaocr/internal/config"
	"github.com/jo-hoe/mangaocr/internal/jobs"
	"github.com/jo-hoe/mangaocr/internal/processor"
	"github.com/jo-hoe/mangaocr/internal/scheduler"
)

// Service is the asynchronous HTTP face. It translates requests into
// scheduler calls and store reads; it never mutates job state itself.
type Service struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Scheduler *scheduler.Scheduler
}

// NewRouter builds the chi router with the service routes and middleware.
func NewRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/", svc.handleRoot)
	r.Get("/health", svc.handleHealth)
	r.Get("/stats", svc.handleStats)

	r.Post("/process", svc.handleProcess)
	r.Get("/jobs", svc.handleListJobs)

	r.Route("/job/{id}", func(r chi.Router) {
		r.Get("/", svc.handleJobStatus)
		r.Delete("/", svc.handleDeleteJob)
	})
	r.Route("/result/{id}", func(r chi.Router) {
		r.Get("/", svc.handleResultDownload)
		r.Get("/json", svc.handleResultJSON)
	})

	return r
}

// NewHTTPServer creates a configured HTTP server instance.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type processResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	TotalPages   int    `json:"total_pages"`
	IsSinglePage bool   `json:"is_single_page"`
}

func (svc *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "mangaocr",
		"version": common.ResultVersion,
		"status":  "running",
		"endpoints": map[string]string{
			"health":        "/health",
			"process":       "/process",
			"job_status":    "/job/{id}",
			"download":      "/result/{id}",
			"download_json": "/result/{id}/json",
			"jobs":          "/jobs",
			"stats":         "/stats",
		},
	})
}

func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (svc *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	maxUpload := safeInt64(svc.Cfg.Server.MaxUploadSize)
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	files := r.MultipartForm.File["files"]
	title := r.FormValue("title")
	returnJSON, _ := strconv.ParseBool(r.FormValue("return_json"))

	job, err := svc.Scheduler.Submit(files, title, returnJSON)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrNoFiles):
			writeError(w, http.StatusBadRequest, "no files provided")
		case errors.Is(err, jobs.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "queue full, try later")
		default:
			var ve *scheduler.ValidationError
			if errors.As(err, &ve) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			svc.Log.Error("submit failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		JobID:        job.ID,
		Status:       "started",
		TotalPages:   job.TotalPages,
		IsSinglePage: job.IsSinglePage,
	})
}

func (svc *Service) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := svc.Scheduler.Status(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		svc.Log.Error("job status", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (svc *Service) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := svc.Scheduler.Delete(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		svc.Log.Error("delete job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "job_id": id})
}

func (svc *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	summaries, err := svc.Scheduler.List()
	if err != nil {
		svc.Log.Error("list jobs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs": len(summaries),
		"jobs":       summaries,
	})
}

func (svc *Service) handleResultDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, path, err := svc.resolveResult(w, id)
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeBinary)
	w.Header().Set("Content-Disposition", `attachment; filename="`+processor.SafeTitle(job.Title)+`.mokuro"`)
	http.ServeFile(w, r, path)
}

func (svc *Service) handleResultJSON(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, path, err := svc.resolveResult(w, id)
	if err != nil {
		return
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the job store
	if err != nil {
		svc.Log.Error("read result", "job_id", id, "err", err)
		writeError(w, http.StatusNotFound, "result file not found")
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// resolveResult maps scheduler result errors onto 404 responses. On error it
// has already written the response.
func (svc *Service) resolveResult(w http.ResponseWriter, id string) (*jobs.Job, string, error) {
	job, path, err := svc.Scheduler.Result(id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, scheduler.ErrNotReady):
			writeError(w, http.StatusNotFound, "job not complete")
		default:
			svc.Log.Error("resolve result", "job_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return nil, "", err
	}
	return job, path, nil
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := svc.Scheduler.Stats()
	if err != nil {
		svc.Log.Error("stats", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Error: msg, Code: code})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}
