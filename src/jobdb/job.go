// Package jobdb holds the anonymization job record and its stores. A job is
// mutated only by the worker that processes it; everyone else reads
// snapshots through a Store.
package jobdb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	QUEUED     JobStatus = "Queued"
	PROCESSING JobStatus = "Processing"
	COMPLETED  JobStatus = "Completed"
	FAILED     JobStatus = "Failed"
)

const logTimestampFormat = "2006-01-02 15:04:05"

// Job tracks one anonymization run against a server/database/engine triple.
// CompletedAt is set if and only if the status is terminal.
type Job struct {
	ID           string     `json:"jobId"`
	Server       string     `json:"server"`
	DBName       string     `json:"database"`
	DBType       string     `json:"databaseType"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Logs         []string   `json:"logs"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func NewJob(server, dbname, dbtype string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Server:    server,
		DBName:    dbname,
		DBType:    dbtype,
		Status:    QUEUED,
		StartedAt: time.Now().UTC(),
	}
}

// AddLog appends a timestamped line to the job's log.
func (j *Job) AddLog(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", time.Now().UTC().Format(logTimestampFormat), message))
}

func (j *Job) MarkProcessing() {
	j.Status = PROCESSING
}

func (j *Job) MarkCompleted() {
	j.Status = COMPLETED
	now := time.Now().UTC()
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(err error) {
	j.Status = FAILED
	j.ErrorMessage = err.Error()
	now := time.Now().UTC()
	j.CompletedAt = &now
}

func (j *Job) IsTerminal() bool {
	return j.Status == COMPLETED || j.Status == FAILED
}

// Clone returns a deep copy so readers never share the worker's log slice.
func (j *Job) Clone() *Job {
	clone := *j
	clone.Logs = append([]string(nil), j.Logs...)
	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

// JobNotFoundError reports a status query for an unknown job id.
type JobNotFoundError struct {
	ID string
}

func (e JobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.ID)
}
