package domain

import "time"

// DailyStats holds per-account counters for one local day. Counters only
// increase; the risk engine reads rolling windows over these rows.
type DailyStats struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Date         string    `gorm:"type:text;not null;uniqueIndex:idx_daily_stats_day,priority:1" json:"date"`
	AccountID    string    `gorm:"type:text;not null;uniqueIndex:idx_daily_stats_day,priority:2" json:"account_id"`
	InvitesSent  int       `gorm:"default:0" json:"invites_sent"`
	MessagesSent int       `gorm:"default:0" json:"messages_sent"`
	Errors       int       `gorm:"default:0" json:"errors"`
	Challenges   int       `gorm:"default:0" json:"challenges"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for DailyStats.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (DailyStats) TableName() string {
	return "daily_stats"
}

// StatsDate formats a time as the local-day key used by DailyStats rows.
func StatsDate(t time.Time) string {
	return t.Format("2006-01-02")
}
