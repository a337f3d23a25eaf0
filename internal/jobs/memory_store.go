package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps job records in a process-local map. It is the baseline
// store for single-instance deployments and tests; SQLiteStore provides the
// durable alternative behind the same interface.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) CreateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cpy := cloneJob(job)
	s.jobs[job.ID] = cpy
	return nil
}

func (s *MemoryStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) SetStage(id string, stage Stage, startedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Stage = stage
	if startedAt != nil {
		st := startedAt.UTC()
		j.StartedAt = &st
	}
	return nil
}

func (s *MemoryStore) SetProgress(id string, progress, currentPage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Progress = progress
	j.CurrentPage = currentPage
	return nil
}

func (s *MemoryStore) SetBlankPages(id string, blank []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.BlankPages = append([]int(nil), blank...)
	return nil
}

func (s *MemoryStore) SaveResult(id string, resultPath string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	rp := resultPath
	ct := completedAt.UTC()
	j.Status = StatusCompleted
	j.Stage = StageComplete
	j.Progress = 100
	j.CurrentPage = j.TotalPages
	j.ResultPath = &rp
	j.ErrorMessage = nil
	j.ErrorDetail = nil
	j.CompletedAt = &ct
	return nil
}

func (s *MemoryStore) SaveError(id string, msg, detail string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	m := msg
	ct := completedAt.UTC()
	j.Status = StatusFailed
	j.Progress = 0
	j.ErrorMessage = &m
	if detail != "" {
		d := detail
		j.ErrorDetail = &d
	}
	j.CompletedAt = &ct
	return nil
}

func (s *MemoryStore) CountByStatus(status Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneJob(j *Job) *Job {
	cpy := *j
	if j.BlankPages != nil {
		cpy.BlankPages = append([]int(nil), j.BlankPages...)
	}
	return &cpy
}
