package anonymizer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/batch"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/jobdb"
)

// stubRunner records the databases it ran against and can be told to fail.
type stubRunner struct {
	mu      sync.Mutex
	ran     []string
	failFor map[string]error
	delay   time.Duration
}

func (r *stubRunner) Run(source *anondb.Source, logf batch.LogFunc) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.ran = append(r.ran, source.DBName)
	r.mu.Unlock()

	if err, ok := r.failFor[source.DBName]; ok {
		return err
	}
	logf("Found 0 sensitive columns")
	return nil
}

func (r *stubRunner) ranDatabases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func testSource(server, dbname, dbtype string) *anondb.Source {
	return &anondb.Source{DBType: dbtype, Host: server, DBName: dbname, User: "anon", Password: "secret"}
}

func newTestService(runner JobRunner) (*Service, jobdb.Store) {
	store := jobdb.NewMemoryStore()
	service := NewService(store, runner, testSource)
	return service, store
}

func waitTerminal(t *testing.T, service *Service, id string) *jobdb.Job {
	t.Helper()
	var job *jobdb.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = service.GetStatus(id)
		return err == nil && job.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitUnsupportedEngine(t *testing.T) {
	service, store := newTestService(&stubRunner{})

	_, err := service.Submit("db1", "sales", "postgres")
	require.Error(t, err)
	var unsupported anondb.UnsupportedEngineError
	assert.ErrorAs(t, err, &unsupported)

	// No job record was created.
	jobs, err := store.ListAll()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitReturnsBeforeProcessing(t *testing.T) {
	runner := &stubRunner{delay: 50 * time.Millisecond}
	service, _ := newTestService(runner)
	service.Start()
	defer service.Shutdown()

	id, err := service.Submit("db1", "sales", anondb.MYSQL)
	require.NoError(t, err)

	// Right after Submit the job exists and is not yet terminal.
	job, err := service.GetStatus(id)
	require.NoError(t, err)
	assert.False(t, job.IsTerminal())

	job = waitTerminal(t, service, id)
	assert.Equal(t, jobdb.COMPLETED, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.NotEmpty(t, job.Logs)
}

func TestWorkerMarksJobFailed(t *testing.T) {
	runner := &stubRunner{failFor: map[string]error{
		"sales": fmt.Errorf("ping mysql database \"sales\" on db1: connection refused"),
	}}
	service, _ := newTestService(runner)
	service.Start()
	defer service.Shutdown()

	id, err := service.Submit("db1", "sales", anondb.MYSQL)
	require.NoError(t, err)

	job := waitTerminal(t, service, id)
	assert.Equal(t, jobdb.FAILED, job.Status)
	assert.Contains(t, job.ErrorMessage, "connection refused")
	require.NotNil(t, job.CompletedAt)
}

func TestWorkerProcessesJobsInSubmissionOrder(t *testing.T) {
	runner := &stubRunner{delay: 5 * time.Millisecond}
	service, _ := newTestService(runner)
	service.Start()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := service.Submit("db1", fmt.Sprintf("db%d", i), anondb.MYSQL)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	service.Shutdown()

	assert.Equal(t, []string{"db0", "db1", "db2", "db3", "db4"}, runner.ranDatabases())
	for _, id := range ids {
		job, err := service.GetStatus(id)
		require.NoError(t, err)
		assert.True(t, job.IsTerminal())
	}
}

func TestWorkerFailureDoesNotStopQueue(t *testing.T) {
	runner := &stubRunner{failFor: map[string]error{"bad": fmt.Errorf("boom")}}
	service, _ := newTestService(runner)
	service.Start()

	badID, err := service.Submit("db1", "bad", anondb.MYSQL)
	require.NoError(t, err)
	goodID, err := service.Submit("db1", "good", anondb.MYSQL)
	require.NoError(t, err)
	service.Shutdown()

	badJob, err := service.GetStatus(badID)
	require.NoError(t, err)
	assert.Equal(t, jobdb.FAILED, badJob.Status)

	goodJob, err := service.GetStatus(goodID)
	require.NoError(t, err)
	assert.Equal(t, jobdb.COMPLETED, goodJob.Status)
}

func TestListJobsMostRecentFirst(t *testing.T) {
	service, store := newTestService(&stubRunner{})

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		job := jobdb.NewJob("db1", fmt.Sprintf("db%d", i), anondb.MYSQL)
		job.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Add(job))
	}

	jobs, err := service.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "db2", jobs[0].DBName)
}
