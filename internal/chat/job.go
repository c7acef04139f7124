package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is an asynchronous completion request processed by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	// JSON encoded CompletionRequest
	Payload string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex:uniq_job_idempo" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResponseID *string `gorm:"type:varchar(64)"`
	Reply      *string `gorm:"type:text"`
	Fallback   bool

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (Job) TableName() string { return "completion_jobs" }
