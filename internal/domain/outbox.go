package domain

import "time"

// Outbox topics emitted by the orchestration core.
const (
	TopicJobSucceeded           = "job.succeeded"
	TopicJobSucceededWithErrors = "job.succeeded_with_errors"
	TopicJobFailed              = "job.failed"
	TopicJobDeadLettered        = "job.dead_lettered"
	TopicLeadTransitioned       = "lead.transitioned"
	TopicRunnerQuarantined      = "runner.quarantined"
)

// OutboxEvent is a transactionally-created event record delivered
// at-least-once to the external sink. Rows are never deleted; terminal
// states are marked via DeliveredAt plus PermanentlyFailed.
type OutboxEvent struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic             string     `gorm:"type:text;not null;index:idx_outbox_topic" json:"topic"`
	Payload           string     `gorm:"type:text" json:"payload"`
	IdempotencyKey    string     `gorm:"type:text;uniqueIndex:idx_outbox_idempotency" json:"idempotency_key"`
	Attempts          int        `gorm:"default:0" json:"attempts"`
	NextRetryAt       time.Time  `gorm:"index:idx_outbox_next_retry" json:"next_retry_at"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	PermanentlyFailed bool       `gorm:"default:false" json:"permanently_failed"`
	LastError         string     `json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// TableName returns the database table name for OutboxEvent.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (OutboxEvent) TableName() string {
	return "outbox_events"
}
