package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
)

// Job represents a transform job for data transfer between layers.
//
// Invariants: state transitions follow PENDING -> RUNNING -> (COMPLETED |
// FAILED) and never leave a terminal state; ResultName is set iff state is
// COMPLETED; ErrorSummary is set iff state is FAILED.
type Job struct {
	ID            uuid.UUID           `json:"id"`
	State         constants.JobStatus `json:"state"`
	FileName      string              `json:"file_name"`
	Format        string              `json:"format"`
	Instruction   string              `json:"instruction"`
	Replacement   string              `json:"replacement"`
	TargetColumns []string            `json:"target_columns,omitempty"`
	Plan          json.RawMessage     `json:"plan,omitempty"`
	Metadata      *FileMetadata       `json:"metadata,omitempty"`

	Progress    int    `json:"progress"`
	Step        string `json:"step,omitempty"`
	StepMessage string `json:"step_message,omitempty"`

	RetryCount   int        `json:"retry_count"`
	WorkerID     *string    `json:"worker_id,omitempty"`
	HeartbeatAt  *time.Time `json:"heartbeat_at,omitempty"`
	ResultName   *string    `json:"result_name,omitempty"`
	ErrorSummary *string    `json:"error_summary,omitempty"`

	Summary json.RawMessage `json:"summary,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FileMetadata captures what the loader saw at submission: the schema and a
// small preview, never the data itself.
type FileMetadata struct {
	Headers      []string   `json:"headers"`
	TotalRows    int        `json:"total_rows"`
	TotalColumns int        `json:"total_columns"`
	Preview      [][]string `json:"preview,omitempty"`
}

// JobSummary is the history-listing projection of a Job.
type JobSummary struct {
	ID           uuid.UUID           `json:"id"`
	State        constants.JobStatus `json:"state"`
	FileName     string              `json:"file_name"`
	Format       string              `json:"format"`
	Instruction  string              `json:"instruction"`
	RetryCount   int                 `json:"retry_count"`
	ErrorSummary *string             `json:"error_summary,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Stats is the read-only aggregate over all persisted jobs.
type Stats struct {
	TotalJobs         int     `json:"total_jobs"`
	PendingCount      int     `json:"pending_count"`
	RunningCount      int     `json:"running_count"`
	CompletedCount    int     `json:"completed_count"`
	FailedCount       int     `json:"failed_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}
