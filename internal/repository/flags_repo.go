package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FlagsRepository persists pause/quarantine state. Flags are never cached in
// process memory; callers read them fresh at the top of each loop iteration.
type FlagsRepository struct {
	db *gorm.DB
}

// NewFlagsRepository creates a new FlagsRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *FlagsRepository: repository instance bound to db.
func NewFlagsRepository(db *gorm.DB) *FlagsRepository {
	return &FlagsRepository{db: db}
}

// Set activates a flag, optionally with a timer after which it auto-clears.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: flag key (domain.FlagGlobalPause, domain.FlagQuarantine).
//   - until: auto-clear time; nil keeps the flag active until cleared.
//   - reason: why the flag was raised.
//   - accountID: account that triggered the flag, empty if global.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *FlagsRepository) Set(ctx context.Context, key string, until *time.Time, reason, accountID string) error {
	flag := domain.RuntimeFlag{
		Key:         key,
		Active:      true,
		ActiveUntil: until,
		Reason:      reason,
		AccountID:   accountID,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&flag).Error
	if err != nil {
		return fmt.Errorf("set runtime flag %s: %w", key, err)
	}
	return nil
}

// Clear deactivates a flag.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: flag key to clear.
// Returns:
//   - error: non-nil if the update fails.
func (r *FlagsRepository) Clear(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&domain.RuntimeFlag{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"active":       false,
			"active_until": nil,
			"reason":       "",
		}).Error
}

// Get returns the flag row, or an inactive zero flag if none exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: flag key to read.
// Returns:
//   - domain.RuntimeFlag: persisted flag state.
//   - error: non-nil if the query fails.
func (r *FlagsRepository) Get(ctx context.Context, key string) (domain.RuntimeFlag, error) {
	var flag domain.RuntimeFlag
	err := r.db.WithContext(ctx).First(&flag, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RuntimeFlag{Key: key}, nil
	}
	return flag, err
}

// InEffect reads a flag fresh and reports whether it is active now, clearing
// it in storage when its timer has elapsed so the state converges.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: flag key to evaluate.
// Returns:
//   - bool: true if the flag is active at this instant.
//   - error: non-nil if the read fails.
func (r *FlagsRepository) InEffect(ctx context.Context, key string) (bool, error) {
	flag, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if flag.Active && !flag.InEffect(now) {
		// Timer elapsed: persist the cleared state.
		if err := r.Clear(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}
	return flag.InEffect(now), nil
}
