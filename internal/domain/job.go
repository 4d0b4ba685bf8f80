package domain

import "time"

// JobStatus represents the lifecycle status of a queued job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusSucceeded, and JobStatusDeadLetter.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// Job type identifiers dispatched to the action executor.
const (
	JobTypeSendInvite    = "send_invite"
	JobTypeSendMessage   = "send_message"
	JobTypeCheckAccepted = "check_accepted"
	JobTypeWithdraw      = "withdraw_invite"
)

// LeadAffectingJobTypes lists the job types whose terminal failure moves
// the associated lead into review.
var LeadAffectingJobTypes = map[string]bool{
	JobTypeSendInvite:    true,
	JobTypeSendMessage:   true,
	JobTypeCheckAccepted: true,
	JobTypeWithdraw:      true,
}

// Job represents a unit of external work with its own retry budget.
type Job struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	Type           string     `gorm:"type:text;not null;index:idx_jobs_type" json:"type"`
	Status         JobStatus  `gorm:"type:text;index:idx_jobs_status;default:queued" json:"status"`
	AccountID      string     `gorm:"type:text;index:idx_jobs_account" json:"account_id"`
	Payload        string     `gorm:"type:text" json:"payload"`
	IdempotencyKey string     `gorm:"type:text;uniqueIndex:idx_jobs_idempotency" json:"idempotency_key"`
	Priority       int        `gorm:"default:100" json:"priority"`
	Attempts       int        `gorm:"default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"default:3" json:"max_attempts"`
	NextRunAt      time.Time  `gorm:"index:idx_jobs_next_run" json:"next_run_at"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	TriageNote     string     `json:"triage_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Job) TableName() string {
	return "jobs"
}

// JobAttempt is an append-only audit row recorded once per execution attempt.
type JobAttempt struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID        string    `gorm:"type:text;not null;index:idx_job_attempts_job" json:"job_id"`
	Success      bool      `json:"success"`
	ErrorCode    string    `gorm:"type:text" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// TableName returns the database table name for JobAttempt.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (JobAttempt) TableName() string {
	return "job_attempts"
}
