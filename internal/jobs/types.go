package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeArchiveIngestion records one ledger ingestion in the audit trail.
	JobTypeArchiveIngestion JobType = "archive_ingestion"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ArchiveJob carries the audit record of one ingestion. It never holds
// plaintext financial data: RawCipherText is the oracle answer encrypted with
// the ledger key.
type ArchiveJob struct {
	JobID string `json:"job_id"`

	// RunID identifies the ingestion run.
	RunID string `json:"run_id"`

	// SessionHash is a one-way hash of the session id.
	SessionHash string `json:"session_hash"`

	// DocumentType is the caller-supplied document type.
	DocumentType string `json:"document_type"`

	// Source is "document" or "form".
	Source string `json:"source"`

	// ItemCount is the number of ledger entries written.
	ItemCount int `json:"item_count"`

	// RunStatus is the ingestion outcome: SUCCESS, EMPTY or FAILED.
	RunStatus string `json:"run_status"`

	// RunError is the ingestion error, if any.
	RunError string `json:"run_error,omitempty"`

	RawCipherText string `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *ArchiveJob) GetID() string        { return j.JobID }
func (j *ArchiveJob) GetType() JobType     { return JobTypeArchiveIngestion }
func (j *ArchiveJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs.
type Publisher interface {
	PublishArchive(ctx context.Context, job *ArchiveJob) error
	Close() error
}

// Consumer dispatches queued jobs to a handler.
type Consumer interface {
	// Start begins consuming jobs; handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error triggers a retry until
// MaxRetries is exhausted.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *ArchiveJob) error
	GetJob(ctx context.Context, jobID string) (*ArchiveJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ArchiveJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	SessionHash string
	Status      JobStatus
	Limit       int
	Offset      int
}
