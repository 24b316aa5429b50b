package jobdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const SQLITE_OPTIONS = "?_txlock=exclusive&_timeout=30000"

const JOBS_TABLE_NAME = "anonymization_jobs"

// SqliteStore is the durable Store. Log lines are kept as one JSON array
// per row; timestamps are stored as RFC 3339 UTC strings.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s%s", path, SQLITE_OPTIONS))
	if err != nil {
		return nil, fmt.Errorf("open job store at %s: %w", path, err)
	}

	cmds := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			server TEXT,
			database_name TEXT,
			database_type TEXT,
			status TEXT,
			started_at TEXT,
			completed_at TEXT,
			logs TEXT,
			error_message TEXT);`, JOBS_TABLE_NAME),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON %s (started_at DESC);`, JOBS_TABLE_NAME),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_jobs_status ON %s (status);`, JOBS_TABLE_NAME),
	}
	for _, cmd := range cmds {
		if _, err := db.Exec(cmd); err != nil {
			db.Close()
			return nil, fmt.Errorf("init job store with query %q: %w", cmd, err)
		}
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Add(job *Job) error {
	logs, completedAt, err := marshalJobFields(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, server, database_name, database_type, status, started_at, completed_at, logs, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, JOBS_TABLE_NAME)
	_, err = s.db.Exec(query, job.ID, job.Server, job.DBName, job.DBType, string(job.Status),
		job.StartedAt.UTC().Format(time.RFC3339Nano), completedAt, logs, job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SqliteStore) Get(id string) (*Job, error) {
	query := fmt.Sprintf(`SELECT id, server, database_name, database_type, status,
		started_at, completed_at, logs, error_message FROM %s WHERE id = ?`, JOBS_TABLE_NAME)
	job, err := scanJob(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, JobNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return job, nil
}

func (s *SqliteStore) Update(job *Job) error {
	logs, completedAt, err := marshalJobFields(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = ?, completed_at = ?, logs = ?, error_message = ?
		WHERE id = ?`, JOBS_TABLE_NAME)
	result, err := s.db.Exec(query, string(job.Status), completedAt, logs, job.ErrorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return JobNotFoundError{ID: job.ID}
	}
	return nil
}

func (s *SqliteStore) ListAll() ([]*Job, error) {
	query := fmt.Sprintf(`SELECT id, server, database_name, database_type, status,
		started_at, completed_at, logs, error_message FROM %s ORDER BY started_at DESC`, JOBS_TABLE_NAME)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func marshalJobFields(job *Job) (logs string, completedAt sql.NullString, err error) {
	logBytes, err := json.Marshal(job.Logs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshal logs of job %s: %w", job.ID, err)
	}
	if job.CompletedAt != nil {
		completedAt = sql.NullString{String: job.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return string(logBytes), completedAt, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, startedAt, logs string
	var completedAt, errorMessage sql.NullString
	err := row.Scan(&job.ID, &job.Server, &job.DBName, &job.DBType, &status,
		&startedAt, &completedAt, &logs, &errorMessage)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at of job %s: %w", job.ID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at of job %s: %w", job.ID, err)
		}
		job.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(logs), &job.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs of job %s: %w", job.ID, err)
	}
	job.ErrorMessage = errorMessage.String
	return &job, nil
}
