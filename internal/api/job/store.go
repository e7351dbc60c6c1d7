// internal/api/job/store.go
package job

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/dataview/internal/backend"
	"github.com/newthinker/dataview/internal/core"
)

// Status represents job status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// TypeDownload is a server-side download into the download directory.
const TypeDownload = "download"

// Job represents an async job.
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Connection string    `json:"connection"`
	Path       string    `json:"path"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a final status.
func (j *Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Store manages async jobs.
type Store struct {
	jobs    map[string]*Job
	order   []string // Track insertion order for eviction
	maxSize int
	ttl     time.Duration
	mu      sync.RWMutex
}

// NewStore creates a new job store. Finished jobs older than ttl are
// dropped on the next Create; a zero ttl keeps them until evicted.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Create creates a new job and returns a copy of it.
func (s *Store) Create(jobType, connection, path, filename string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.expire(now)

	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Connection: connection,
		Path:       path,
		Filename:   filename,
		Status:     StatusPending,
		Total:      -1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Evict oldest if at capacity
	if len(s.jobs) >= s.maxSize && len(s.order) > 0 {
		oldest := s.order[0]
		delete(s.jobs, oldest)
		s.order = s.order[1:]
	}

	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)

	return *job
}

func (s *Store) expire(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Done() && now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "job %s not found", id)
	}

	// Return copy to prevent race conditions
	jobCopy := *job
	return &jobCopy, nil
}

// Update modifies a job using an update function.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.Errorf(core.ErrNotFound, "job %s not found", id)
	}

	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

// Fail marks a job failed with err.
func (s *Store) Fail(id string, err error) error {
	return s.Update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err.Error()
		j.ErrorCode = core.CodeOf(err)
	})
}

// Complete marks a job complete with the local path it produced.
func (s *Store) Complete(id, result string) error {
	return s.Update(id, func(j *Job) {
		j.Status = StatusComplete
		j.Progress = 100
		j.Result = result
	})
}

// Track applies download progress to the running jobs writing that file.
// It has the backend.ProgressFunc signature.
func (s *Store) Track(p backend.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, job := range s.jobs {
		if job.Status != StatusRunning || job.Filename != p.Filename {
			continue
		}
		job.Downloaded = p.Downloaded
		job.Total = p.Total
		if p.Total > 0 {
			job.Progress = int(p.Downloaded * 100 / p.Total)
		}
		job.UpdatedAt = now
	}
}

// List returns all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, *job)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
