package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"gorm.io/gorm"
)

// LockRepository implements the persisted mutual-exclusion primitive. The
// at-most-one-owner invariant holds because every mutation is a single
// conditional write on the lock row.
type LockRepository struct {
	db *gorm.DB
}

// NewLockRepository creates a new LockRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *LockRepository: repository instance bound to db.
func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// AcquireResult reports the outcome of an Acquire call.
type AcquireResult struct {
	Acquired bool
	Lock     *domain.RuntimeLock
}

// Acquire takes or renews the lock for the given owner. An absent row is
// inserted; a row already owned by the caller is renewed; a row owned by
// another live owner fails; an expired row is stolen.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
//   - owner: owner identity attempting the acquisition.
//   - ttl: time until the lock expires without heartbeats.
//   - metadata: optional context stored on the row (hostname, pid).
// Returns:
//   - AcquireResult: whether the lock is now held by owner, and the row.
//   - error: non-nil if the transaction fails.
func (r *LockRepository) Acquire(ctx context.Context, key, owner string, ttl time.Duration, metadata domain.Metadata) (AcquireResult, error) {
	var result AcquireResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var lock domain.RuntimeLock
		err := tx.First(&lock, "lock_key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			lock = domain.RuntimeLock{
				LockKey:     key,
				OwnerID:     owner,
				AcquiredAt:  now,
				HeartbeatAt: now,
				ExpiresAt:   now.Add(ttl),
				Metadata:    metadata,
			}
			if err := tx.Create(&lock).Error; err != nil {
				return fmt.Errorf("insert lock %s: %w", key, err)
			}
			result = AcquireResult{Acquired: true, Lock: &lock}
			return nil
		case err != nil:
			return fmt.Errorf("load lock %s: %w", key, err)
		}

		if lock.OwnerID != owner && !lock.Expired(now) {
			// Held by a live owner.
			result = AcquireResult{Acquired: false, Lock: &lock}
			return nil
		}

		// Renew (same owner) or steal (expired). The WHERE clause repeats
		// the ownership/expiry condition so a concurrent steal cannot
		// produce two owners.
		res := tx.Model(&domain.RuntimeLock{}).
			Where("lock_key = ? AND (owner_id = ? OR expires_at < ?)", key, owner, now).
			Updates(map[string]interface{}{
				"owner_id":     owner,
				"acquired_at":  now,
				"heartbeat_at": now,
				"expires_at":   now.Add(ttl),
				"metadata":     metadata,
			})
		if res.Error != nil {
			return fmt.Errorf("take lock %s: %w", key, res.Error)
		}
		if res.RowsAffected == 0 {
			result = AcquireResult{Acquired: false, Lock: &lock}
			return nil
		}

		lock.OwnerID = owner
		lock.AcquiredAt = now
		lock.HeartbeatAt = now
		lock.ExpiresAt = now.Add(ttl)
		lock.Metadata = metadata
		result = AcquireResult{Acquired: true, Lock: &lock}
		return nil
	})
	if err != nil {
		return AcquireResult{}, err
	}
	return result, nil
}

// Heartbeat extends the lock's expiry for its current owner. A false return
// means the lock was lost (stolen or deleted) and the caller must abort its
// in-flight run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
//   - owner: owner identity expected on the row.
//   - ttl: new time-to-live measured from now.
// Returns:
//   - bool: true if the heartbeat landed on a row still owned by owner.
//   - error: non-nil if the update fails.
func (r *LockRepository) Heartbeat(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.RuntimeLock{}).
		Where("lock_key = ? AND owner_id = ?", key, owner).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"expires_at":   now.Add(ttl),
		})
	if res.Error != nil {
		return false, fmt.Errorf("heartbeat lock %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Release deletes the lock row if the caller still owns it. A rotated owner
// cannot release a lock it no longer holds.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
//   - owner: owner identity expected on the row.
// Returns:
//   - bool: true if a row was deleted.
//   - error: non-nil if the delete fails.
func (r *LockRepository) Release(ctx context.Context, key, owner string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("lock_key = ? AND owner_id = ?", key, owner).
		Delete(&domain.RuntimeLock{})
	if res.Error != nil {
		return false, fmt.Errorf("release lock %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get returns the current lock row for inspection.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
// Returns:
//   - *domain.RuntimeLock: lock row, or nil if absent.
//   - error: non-nil if the query fails.
func (r *LockRepository) Get(ctx context.Context, key string) (*domain.RuntimeLock, error) {
	var lock domain.RuntimeLock
	err := r.db.WithContext(ctx).First(&lock, "lock_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}
