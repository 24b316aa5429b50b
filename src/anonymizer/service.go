package anonymizer

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/batch"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/jobdb"
)

const jobQueueCapacity = 100

// SourceFactory builds the connection configuration for a submitted job,
// typically by attaching stored credentials to the job's target triple.
type SourceFactory func(server, dbname, dbtype string) *anondb.Source

// JobRunner executes one anonymization run. Satisfied by *Runner.
type JobRunner interface {
	Run(source *anondb.Source, logf batch.LogFunc) error
}

// Service accepts job submissions and drains them with exactly one worker,
// so runs never overlap. Submissions return immediately; progress is
// observed through GetStatus.
type Service struct {
	store      jobdb.Store
	runner     JobRunner
	makeSource SourceFactory

	queue chan *jobdb.Job
	wg    sync.WaitGroup
}

func NewService(store jobdb.Store, runner JobRunner, makeSource SourceFactory) *Service {
	return &Service{
		store:      store,
		runner:     runner,
		makeSource: makeSource,
		queue:      make(chan *jobdb.Job, jobQueueCapacity),
	}
}

// Start launches the background worker. Call Shutdown to drain and stop it.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for job := range s.queue {
			s.process(job)
		}
	}()
}

// Shutdown stops accepting submissions, lets the worker drain the queue and
// finish the in-flight job, then returns.
func (s *Service) Shutdown() {
	close(s.queue)
	s.wg.Wait()
}

// Submit validates the engine kind, creates a Queued job record, persists
// it and enqueues it. The job id is returned without waiting for
// processing. An unsupported engine fails before any record is created.
func (s *Service) Submit(server, dbname, dbtype string) (string, error) {
	if _, err := anondb.GetDialect(dbtype); err != nil {
		return "", err
	}

	job := jobdb.NewJob(server, dbname, dbtype)
	if err := s.store.Add(job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	s.queue <- job
	log.Infof("job %s queued: %s/%s (%s)", job.ID, server, dbname, dbtype)
	return job.ID, nil
}

// GetStatus returns a snapshot of the job, or jobdb.JobNotFoundError.
func (s *Service) GetStatus(id string) (*jobdb.Job, error) {
	return s.store.Get(id)
}

// ListJobs returns all jobs, most recently started first.
func (s *Service) ListJobs() ([]*jobdb.Job, error) {
	return s.store.ListAll()
}

// process runs one job to a terminal state. A run failure marks the job
// Failed and never takes the worker down.
func (s *Service) process(job *jobdb.Job) {
	job.MarkProcessing()
	job.AddLog("Starting anonymization on %s", job.DBType)
	s.persist(job)

	logf := func(format string, args ...any) {
		job.AddLog(format, args...)
		s.persist(job)
	}

	source := s.makeSource(job.Server, job.DBName, job.DBType)
	if err := s.runner.Run(source, logf); err != nil {
		log.Errorf("job %s failed: %v", job.ID, err)
		job.MarkFailed(err)
		job.AddLog("Error: %v", err)
		s.persist(job)
		return
	}

	job.MarkCompleted()
	job.AddLog("Anonymization completed successfully")
	s.persist(job)
}

func (s *Service) persist(job *jobdb.Job) {
	if err := s.store.Update(job); err != nil {
		log.Errorf("failed to persist job %s: %v", job.ID, err)
	}
}
