package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/mangaocr/internal/common"
)

// SQLiteStore persists job records so status survives restarts. It satisfies
// the same Store contract as MemoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		total_pages INTEGER NOT NULL DEFAULT 0,
		current_page INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		is_single_page INTEGER NOT NULL DEFAULT 0,
		return_json INTEGER NOT NULL DEFAULT 0,
		blank_pages_json TEXT,
		result_path TEXT,
		error_message TEXT,
		error_detail TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, status, stage, progress, total_pages, current_page, title, is_single_page, return_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), string(job.Stage), job.Progress, job.TotalPages, job.CurrentPage,
		job.Title, boolToInt(job.IsSinglePage), boolToInt(job.ReturnJSON), job.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, status, stage, progress, total_pages, current_page, title, is_single_page, return_json,
		blank_pages_json, result_path, error_message, error_detail, created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT id, status, stage, progress, total_pages, current_page, title, is_single_page, return_json,
		blank_pages_json, result_path, error_message, error_detail, created_at, started_at, completed_at
		FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SetStage(id string, stage Stage, startedAt *time.Time) error {
	if startedAt != nil {
		ts := startedAt.UTC().Format(time.RFC3339Nano)
		res, err := s.db.Exec(`UPDATE jobs SET stage = ?, started_at = ? WHERE id = ?`, string(stage), ts, id)
		if err != nil {
			return fmt.Errorf("update stage: %w", err)
		}
		return checkAffected(res)
	}
	res, err := s.db.Exec(`UPDATE jobs SET stage = ? WHERE id = ?`, string(stage), id)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SetProgress(id string, progress, currentPage int) error {
	res, err := s.db.Exec(`UPDATE jobs SET progress = ?, current_page = ? WHERE id = ?`, progress, currentPage, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SetBlankPages(id string, blank []int) error {
	b, err := json.Marshal(blank)
	if err != nil {
		return fmt.Errorf("marshal blank pages: %w", err)
	}
	res, err := s.db.Exec(`UPDATE jobs SET blank_pages_json = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("update blank pages: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SaveResult(id string, resultPath string, completedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET status = ?, stage = ?, progress = 100, current_page = total_pages,
		    result_path = ?, error_message = NULL, error_detail = NULL, completed_at = ?
		WHERE id = ?`,
		string(StatusCompleted), string(StageComplete), resultPath,
		completedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SaveError(id string, msg, detail string, completedAt time.Time) error {
	var det *string
	if detail != "" {
		det = &detail
	}
	res, err := s.db.Exec(`UPDATE jobs
		SET status = ?, progress = 0, error_message = ?, error_detail = ?, completed_at = ?
		WHERE id = ?`,
		string(StatusFailed), msg, det, completedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("save error: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) CountByStatus(status Status) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkAffected maps zero-row updates onto ErrNotFound so writes against a
// deleted job become detectable no-ops.
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, stage string
	var singlePage, returnJSON int
	var blank, result, errMsg, errDet, created, started, completed sql.NullString

	if err := row.Scan(
		&job.ID,
		&status,
		&stage,
		&job.Progress,
		&job.TotalPages,
		&job.CurrentPage,
		&job.Title,
		&singlePage,
		&returnJSON,
		&blank,
		&result,
		&errMsg,
		&errDet,
		&created,
		&started,
		&completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = Status(status)
	job.Stage = Stage(stage)
	job.IsSinglePage = singlePage != 0
	job.ReturnJSON = returnJSON != 0
	if blank.Valid && blank.String != "" {
		var pages []int
		if err := json.Unmarshal([]byte(blank.String), &pages); err == nil {
			job.BlankPages = pages
		}
	}
	if result.Valid {
		v := result.String
		job.ResultPath = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		job.ErrorMessage = &v
	}
	if errDet.Valid {
		v := errDet.String
		job.ErrorDetail = &v
	}
	if created.Valid {
		if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			job.CreatedAt = t
		}
	}
	if started.Valid {
		if t, err := time.Parse(time.RFC3339Nano, started.String); err == nil {
			job.StartedAt = &t
		}
	}
	if completed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			job.CompletedAt = &t
		}
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
