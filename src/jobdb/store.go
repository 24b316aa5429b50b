package jobdb

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Store persists job records. Implementations must serialize writes per job
// id and let status reads run concurrently with the worker's updates.
type Store interface {
	Add(job *Job) error
	// Get returns a snapshot of the job, or JobNotFoundError.
	Get(id string) (*Job, error)
	Update(job *Job) error
	// ListAll returns snapshots ordered by start time, most recent first.
	ListAll() ([]*Job, error)
	Close() error
}

// MemoryStore keeps jobs in a mutex-guarded map. Snapshots go in and out;
// callers never see the stored instance.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	log.Infof("job %s added", job.ID)
	return nil
}

func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, JobNotFoundError{ID: id}
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Update(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	log.Debugf("job %s updated, status %s", job.ID, job.Status)
	return nil
}

func (s *MemoryStore) ListAll() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
