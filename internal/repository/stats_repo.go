package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsRepository handles daily per-account counters. Counters only ever
// increment; the risk engine reads rolling windows over them.
type StatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository creates a new StatsRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *StatsRepository: repository instance bound to db.
func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// counter column names accepted by Increment.
const (
	CounterInvites    = "invites_sent"
	CounterMessages   = "messages_sent"
	CounterErrors     = "errors"
	CounterChallenges = "challenges"
)

// Increment bumps one counter on today's row for the account, creating the
// row if it does not exist yet.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account the counter belongs to.
//   - counter: one of the Counter* column names.
//   - delta: positive increment.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *StatsRepository) Increment(ctx context.Context, accountID, counter string, delta int) error {
	switch counter {
	case CounterInvites, CounterMessages, CounterErrors, CounterChallenges:
	default:
		return fmt.Errorf("unknown stats counter %q", counter)
	}
	row := domain.DailyStats{
		Date:      domain.StatsDate(time.Now()),
		AccountID: accountID,
	}
	setCounter(&row, counter, delta)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			counter: gorm.Expr(counter+" + ?", delta),
		}),
	}).Create(&row).Error
}

// setCounter sets the initial value for the incremented counter on insert.
func setCounter(row *domain.DailyStats, counter string, delta int) {
	switch counter {
	case CounterInvites:
		row.InvitesSent = delta
	case CounterMessages:
		row.MessagesSent = delta
	case CounterErrors:
		row.Errors = delta
	case CounterChallenges:
		row.Challenges = delta
	}
}

// ForDay returns the stats row for an account on a given day, or a zero row
// if none exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account to read.
//   - day: local-day key (see domain.StatsDate).
// Returns:
//   - domain.DailyStats: counters for the day.
//   - error: non-nil if the query fails.
func (r *StatsRepository) ForDay(ctx context.Context, accountID, day string) (domain.DailyStats, error) {
	var row domain.DailyStats
	err := r.db.WithContext(ctx).
		Where("date = ? AND account_id = ?", day, accountID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.DailyStats{Date: day, AccountID: accountID}, nil
	}
	return row, err
}

// WindowTotals sums counters for an account across the last n days.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account to read.
//   - days: window length ending today.
// Returns:
//   - domain.DailyStats: summed counters (Date holds the window start).
//   - error: non-nil if the query fails.
func (r *StatsRepository) WindowTotals(ctx context.Context, accountID string, days int) (domain.DailyStats, error) {
	start := domain.StatsDate(time.Now().AddDate(0, 0, -days+1))
	var out domain.DailyStats
	err := r.db.WithContext(ctx).Model(&domain.DailyStats{}).
		Select("COALESCE(SUM(invites_sent),0) AS invites_sent, COALESCE(SUM(messages_sent),0) AS messages_sent, COALESCE(SUM(errors),0) AS errors, COALESCE(SUM(challenges),0) AS challenges").
		Where("account_id = ? AND date >= ?", accountID, start).
		Scan(&out).Error
	out.Date = start
	out.AccountID = accountID
	return out, err
}
