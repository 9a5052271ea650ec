package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for any store operation on an unknown job id,
	// including ids the reaper already deleted.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when a mutation targets a completed or failed
	// job. Terminal records are immutable apart from deletion.
	ErrTerminal = errors.New("job is in a terminal state")
)

// DefaultRetention is how long a job and its output file are kept.
const DefaultRetention = 24 * time.Hour

// Store owns all job records. Every mutation is atomic per record: readers
// observe either the previous or the next state, never a partial update.
type Store interface {
	Create(spec NewJob) (*Job, error)
	Get(id string) (*Job, error)
	List() ([]*Job, error)
	SetStatus(id string, status Status, progress int) error
	SetProgress(id string, progress int) error
	SetTitle(id, title string) error
	SetOutput(id, path string) error
	SetDownloadURL(id, url string) error
	SetError(id, detail string) error
	ListExpired(now time.Time) ([]*Job, error)
	Delete(id string) error
}

// MemoryStore is the default Store: a mutex-guarded map handing out snapshot
// copies. Records do not survive a process restart.
type MemoryStore struct {
	retention time.Duration

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		jobs:      make(map[string]*Job),
	}
}

func (s *MemoryStore) Create(spec NewJob) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      spec.Kind,
		Input:     spec.Input,
		Platform:  spec.Platform,
		Options:   spec.Options,
		Status:    StatusPending,
		Progress:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return cloneJob(job), nil
}

func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret, nil
}

// SetStatus updates the lifecycle state and, when progress >= 0, the progress
// value. Entering a terminal state stamps CompletedAt.
func (s *MemoryStore) SetStatus(id string, status Status, progress int) error {
	return s.mutate(id, func(job *Job) {
		job.Status = status
		if progress >= 0 {
			job.Progress = clampProgress(progress)
		}
		if status.Terminal() {
			job.CompletedAt = time.Now()
		}
	})
}

// SetProgress records a progress value. Values below the current one are
// dropped so progress stays monotonic within a processing run.
func (s *MemoryStore) SetProgress(id string, progress int) error {
	return s.mutate(id, func(job *Job) {
		p := clampProgress(progress)
		if p > job.Progress {
			job.Progress = p
		}
	})
}

func (s *MemoryStore) SetTitle(id, title string) error {
	return s.mutate(id, func(job *Job) {
		job.Title = title
	})
}

func (s *MemoryStore) SetOutput(id, path string) error {
	return s.mutate(id, func(job *Job) {
		job.OutputPath = path
	})
}

func (s *MemoryStore) SetDownloadURL(id, url string) error {
	return s.mutate(id, func(job *Job) {
		job.DownloadURL = url
	})
}

// SetError forces the failed terminal state and records the reason.
func (s *MemoryStore) SetError(id, detail string) error {
	return s.mutate(id, func(job *Job) {
		job.Error = detail
		job.Status = StatusFailed
		job.CompletedAt = time.Now()
	})
}

func (s *MemoryStore) ListExpired(now time.Time) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.ExpiresAt.Before(now) {
			ret = append(ret, cloneJob(job))
		}
	}
	return ret, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) mutate(id string, fn func(job *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	fn(job)
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
