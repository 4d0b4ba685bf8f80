package domain

import "time"

// Well-known runtime flag keys.
const (
	FlagGlobalPause = "global_pause"
	FlagQuarantine  = "quarantine"
)

// RuntimeFlag is a persisted pause/quarantine state. Flags are stored
// centrally and read fresh at the top of every loop iteration so a pause
// triggered by one account is observed by every other account's loop.
type RuntimeFlag struct {
	Key         string     `gorm:"type:text;primaryKey" json:"key"`
	Active      bool       `gorm:"default:false" json:"active"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	AccountID   string     `gorm:"type:text" json:"account_id,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for RuntimeFlag.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (RuntimeFlag) TableName() string {
	return "runtime_flags"
}

// InEffect reports whether the flag is active at the given instant. A flag
// with a timer auto-clears once the timer elapses; a flag without a timer
// stays active until explicitly cleared.
func (f *RuntimeFlag) InEffect(now time.Time) bool {
	if !f.Active {
		return false
	}
	if f.ActiveUntil != nil && now.After(*f.ActiveUntil) {
		return false
	}
	return true
}
