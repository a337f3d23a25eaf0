package jobs

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// storeFactories covers both Store implementations with the same lifecycle
// assertions.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestStore_JobLifecycle(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			now := time.Now().UTC().Truncate(time.Second)

			job := &Job{
				ID:         "job-1",
				Status:     StatusProcessing,
				Stage:      StageUpload,
				TotalPages: 3,
				Title:      "Volume 1",
				ReturnJSON: true,
				CreatedAt:  now,
			}
			if err := store.CreateJob(job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			start := now.Add(1 * time.Second)
			if err := store.SetStage(job.ID, StageOCR, &start); err != nil {
				t.Fatalf("SetStage: %v", err)
			}
			if err := store.SetProgress(job.ID, 37, 1); err != nil {
				t.Fatalf("SetProgress: %v", err)
			}
			if err := store.SetBlankPages(job.ID, []int{1}); err != nil {
				t.Fatalf("SetBlankPages: %v", err)
			}

			got, err := store.GetJob(job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Stage != StageOCR || got.Progress != 37 || got.CurrentPage != 1 {
				t.Fatalf("unexpected job state: %+v", got)
			}
			if got.StartedAt == nil || !got.StartedAt.Equal(start) {
				t.Fatalf("startedAt mismatch: %+v", got.StartedAt)
			}
			if len(got.BlankPages) != 1 || got.BlankPages[0] != 1 {
				t.Fatalf("blank pages mismatch: %+v", got.BlankPages)
			}
			if !got.ReturnJSON {
				t.Fatalf("return_json flag lost: %+v", got)
			}

			comp := now.Add(2 * time.Second)
			if err := store.SaveResult(job.ID, "/outputs/job-1/Volume 1.mokuro", comp); err != nil {
				t.Fatalf("SaveResult: %v", err)
			}
			got, err = store.GetJob(job.ID)
			if err != nil {
				t.Fatalf("GetJob after result: %v", err)
			}
			if got.Status != StatusCompleted || got.Stage != StageComplete {
				t.Fatalf("job should be completed: %+v", got)
			}
			if got.Progress != 100 || got.CurrentPage != got.TotalPages {
				t.Fatalf("completed job should report full progress: %+v", got)
			}
			if got.ResultPath == nil || *got.ResultPath == "" {
				t.Fatalf("result path not set: %+v", got.ResultPath)
			}
			if got.CompletedAt == nil || !got.CompletedAt.Equal(comp) {
				t.Fatalf("completedAt mismatch: %+v", got.CompletedAt)
			}
		})
	}
}

func TestStore_SaveErrorResetsProgress(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			now := time.Now().UTC().Truncate(time.Second)
			job := &Job{ID: "job-2", Status: StatusProcessing, Stage: StageOCR, Progress: 42, TotalPages: 2, CreatedAt: now}
			if err := store.CreateJob(job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			failTime := now.Add(time.Second)
			if err := store.SaveError(job.ID, "boom", "boom: cause", failTime); err != nil {
				t.Fatalf("SaveError: %v", err)
			}
			got, err := store.GetJob(job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Status != StatusFailed {
				t.Fatalf("status should be failed, got %s", got.Status)
			}
			if got.Progress != 0 {
				t.Fatalf("failed job progress should reset to 0, got %d", got.Progress)
			}
			if got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
				t.Fatalf("error message mismatch: %+v", got.ErrorMessage)
			}
			if got.ErrorDetail == nil || *got.ErrorDetail != "boom: cause" {
				t.Fatalf("error detail mismatch: %+v", got.ErrorDetail)
			}
		})
	}
}

func TestStore_DeletedJobMutationsReturnNotFound(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			now := time.Now().UTC()
			job := &Job{ID: "job-3", Status: StatusProcessing, Stage: StageUpload, TotalPages: 1, CreatedAt: now}
			if err := store.CreateJob(job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
			if err := store.DeleteJob(job.ID); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}

			if _, err := store.GetJob(job.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetJob after delete: want ErrNotFound, got %v", err)
			}
			if err := store.SetStage(job.ID, StageOCR, nil); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SetStage after delete: want ErrNotFound, got %v", err)
			}
			if err := store.SetProgress(job.ID, 50, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SetProgress after delete: want ErrNotFound, got %v", err)
			}
			if err := store.SaveResult(job.ID, "x", now); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SaveResult after delete: want ErrNotFound, got %v", err)
			}
			if err := store.SaveError(job.ID, "m", "d", now); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SaveError after delete: want ErrNotFound, got %v", err)
			}
			if err := store.DeleteJob(job.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteJob twice: want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ListAndCount(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"a", "b", "c"} {
				job := &Job{ID: id, Status: StatusProcessing, Stage: StageUpload, TotalPages: 1, CreatedAt: base.Add(time.Duration(i) * time.Second)}
				if err := store.CreateJob(job); err != nil {
					t.Fatalf("CreateJob %s: %v", id, err)
				}
			}
			if err := store.SaveResult("b", "/outputs/b/b.mokuro", base.Add(5*time.Second)); err != nil {
				t.Fatalf("SaveResult: %v", err)
			}

			list, err := store.ListJobs()
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("want 3 jobs, got %d", len(list))
			}
			for i := 1; i < len(list); i++ {
				if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
					t.Fatalf("jobs not ordered by creation time")
				}
			}

			completed, err := store.CountByStatus(StatusCompleted)
			if err != nil {
				t.Fatalf("CountByStatus completed: %v", err)
			}
			if completed != 1 {
				t.Fatalf("want 1 completed, got %d", completed)
			}
			active, err := store.CountByStatus(StatusProcessing)
			if err != nil {
				t.Fatalf("CountByStatus processing: %v", err)
			}
			if active != 2 {
				t.Fatalf("want 2 processing, got %d", active)
			}
		})
	}
}
