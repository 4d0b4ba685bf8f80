package domain

import "time"

// RuntimeLock is a persisted mutual-exclusion record. At most one live
// (unexpired) owner may exist per lock key; expired rows are stolen rather
// than cleaned up so crashed owners are superseded by TTL alone.
type RuntimeLock struct {
	LockKey     string    `gorm:"type:text;primaryKey" json:"lock_key"`
	OwnerID     string    `gorm:"type:text;not null" json:"owner_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	ExpiresAt   time.Time `gorm:"index:idx_runtime_locks_expires" json:"expires_at"`
	Metadata    Metadata  `gorm:"type:text" json:"metadata,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for RuntimeLock.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (RuntimeLock) TableName() string {
	return "runtime_locks"
}

// Expired reports whether the lock's TTL has elapsed at the given instant.
func (l *RuntimeLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
