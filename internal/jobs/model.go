package jobs

import (
	"errors"
	"time"
)

// Status represents the lifecycle status of an OCR job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is the sub-phase of a processing job.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageOCR      Stage = "ocr"
	StageFinalize Stage = "finalize"
	StageComplete Stage = "complete"
)

// ErrNotFound is returned by stores when the job id is unknown. Mutations on
// a deleted job surface it so an in-flight pipeline can treat the write as a
// no-op instead of resurrecting the record.
var ErrNotFound = errors.New("job not found")

// Job describes one tracked batch-processing request.
type Job struct {
	ID           string     `json:"job_id"`
	Status       Status     `json:"status"`
	Stage        Stage      `json:"stage"`
	Progress     int        `json:"progress"` // 0-100, non-decreasing while active, reset to 0 on failure
	TotalPages   int        `json:"total_pages"`
	CurrentPage  int        `json:"current_page"`
	Title        string     `json:"title"`
	IsSinglePage bool       `json:"is_single_page"`
	ReturnJSON   bool       `json:"return_json"` // client asked for inline results; recorded, delivery is unchanged
	BlankPages   []int      `json:"blank_pages,omitempty"` // informational, pages stay in the output
	ResultPath   *string    `json:"result_path,omitempty"` // set only once completed
	ErrorMessage *string    `json:"error,omitempty"`
	ErrorDetail  *string    `json:"error_detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Summary is the listing shape returned by ListJobs consumers.
type Summary struct {
	ID           string `json:"job_id"`
	Status       Status `json:"status"`
	Title        string `json:"title"`
	TotalPages   int    `json:"total_pages"`
	IsSinglePage bool   `json:"is_single_page"`
}

// Summary converts a Job into its listing shape.
func (j *Job) Summary() Summary {
	return Summary{
		ID:           j.ID,
		Status:       j.Status,
		Title:        j.Title,
		TotalPages:   j.TotalPages,
		IsSinglePage: j.IsSinglePage,
	}
}

// Store defines persistence for Jobs and their lifecycle. Each background
// task only writes to its own job id, so implementations need safe concurrent
// insert/read/delete but no cross-job coordination.
type Store interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	ListJobs() ([]*Job, error)
	DeleteJob(id string) error
	SetStage(id string, stage Stage, startedAt *time.Time) error
	SetProgress(id string, progress, currentPage int) error
	SetBlankPages(id string, blank []int) error
	SaveResult(id string, resultPath string, completedAt time.Time) error
	SaveError(id string, msg, detail string, completedAt time.Time) error
	CountByStatus(status Status) (int, error)
	Close() error
}
