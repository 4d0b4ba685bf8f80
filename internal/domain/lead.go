package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// LeadStatus represents a lead's position in the outreach lifecycle.
type LeadStatus string

const (
	LeadStatusNew            LeadStatus = "new"
	LeadStatusReadyInvite    LeadStatus = "ready_invite"
	LeadStatusInvited        LeadStatus = "invited"
	LeadStatusAccepted       LeadStatus = "accepted"
	LeadStatusReadyMessage   LeadStatus = "ready_message"
	LeadStatusMessaged       LeadStatus = "messaged"
	LeadStatusReplied        LeadStatus = "replied"
	LeadStatusWithdrawn      LeadStatus = "withdrawn"
	LeadStatusBlocked        LeadStatus = "blocked"
	LeadStatusSkipped        LeadStatus = "skipped"
	LeadStatusReviewRequired LeadStatus = "review_required"
	LeadStatusDead           LeadStatus = "dead"
)

// leadTransitions is the static validity table for lifecycle moves.
// A transition absent from this table is rejected as a no-op; BLOCKED and
// SKIPPED act as escape hatches reachable from most live states.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:            {LeadStatusReadyInvite, LeadStatusSkipped, LeadStatusBlocked, LeadStatusDead},
	LeadStatusReadyInvite:    {LeadStatusInvited, LeadStatusSkipped, LeadStatusBlocked, LeadStatusReviewRequired, LeadStatusDead},
	LeadStatusInvited:        {LeadStatusAccepted, LeadStatusWithdrawn, LeadStatusBlocked, LeadStatusReviewRequired, LeadStatusDead},
	LeadStatusAccepted:       {LeadStatusReadyMessage, LeadStatusBlocked, LeadStatusReviewRequired, LeadStatusDead},
	LeadStatusReadyMessage:   {LeadStatusMessaged, LeadStatusSkipped, LeadStatusBlocked, LeadStatusReviewRequired, LeadStatusDead},
	LeadStatusMessaged:       {LeadStatusReplied, LeadStatusBlocked, LeadStatusReviewRequired, LeadStatusDead},
	LeadStatusReplied:        {LeadStatusBlocked, LeadStatusDead},
	LeadStatusWithdrawn:      {LeadStatusReadyInvite, LeadStatusBlocked, LeadStatusDead},
	LeadStatusSkipped:        {LeadStatusReadyInvite, LeadStatusBlocked, LeadStatusDead},
	LeadStatusReviewRequired: {LeadStatusReadyInvite, LeadStatusReadyMessage, LeadStatusSkipped, LeadStatusBlocked, LeadStatusDead},
	LeadStatusBlocked:        {LeadStatusDead},
	LeadStatusDead:           {},
}

// CanTransition reports whether moving from one status to another is a
// valid lifecycle step. Same-status moves are always invalid (no-op).
// Parameters:
//   - from: current lead status.
//   - to: proposed lead status.
// Returns:
//   - bool: true if the transition is allowed by the validity table.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		return false
	}
	for _, next := range leadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Metadata is a custom type for storing JSON object columns.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the map.
//   - error: non-nil if marshaling fails.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Metadata")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// Lead represents an external contact progressing through the outreach
// lifecycle. Milestone timestamps are set once on entry to their status.
type Lead struct {
	ID            string     `gorm:"type:text;primaryKey" json:"id"`
	AccountID     string     `gorm:"type:text;index:idx_leads_account" json:"account_id"`
	ProfileURL    string     `gorm:"type:text;not null;uniqueIndex:idx_leads_profile" json:"profile_url"`
	Name          string     `gorm:"type:text" json:"name"`
	Headline      string     `gorm:"type:text" json:"headline,omitempty"`
	Company       string     `gorm:"type:text" json:"company,omitempty"`
	Status        LeadStatus `gorm:"type:text;index:idx_leads_status;default:new" json:"status"`
	InvitedAt     *time.Time `json:"invited_at,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	MessagedAt    *time.Time `json:"messaged_at,omitempty"`
	RepliedAt     *time.Time `json:"replied_at,omitempty"`
	WithdrawnAt   *time.Time `json:"withdrawn_at,omitempty"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Lead.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Lead) TableName() string {
	return "leads"
}

// LeadEvent is the append-only audit record written once per accepted
// transition. No mutation path bypasses it.
type LeadEvent struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	LeadID     string     `gorm:"type:text;not null;index:idx_lead_events_lead" json:"lead_id"`
	FromStatus LeadStatus `gorm:"type:text" json:"from_status"`
	ToStatus   LeadStatus `gorm:"type:text" json:"to_status"`
	Reason     string     `gorm:"type:text" json:"reason"`
	Metadata   Metadata   `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name for LeadEvent.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (LeadEvent) TableName() string {
	return "lead_events"
}
