package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository handles transactional outbox event persistence.
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *OutboxRepository: repository instance bound to db.
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts an outbox event using insert-or-ignore on the idempotency
// key, so duplicate emission of the same domain event is a no-op. When tx is
// non-nil the insert joins the caller's transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: optional transaction to join; nil uses the repository handle.
//   - topic: event topic.
//   - payload: JSON payload text.
//   - idempotencyKey: deterministic dedupe key (topic:entityId:discriminator).
// Returns:
//   - bool: true if a new row was inserted.
//   - error: non-nil if the insert fails.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, topic, payload, idempotencyKey string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	event := domain.OutboxEvent{
		Topic:          topic,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		NextRetryAt:    time.Now().UTC(),
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&event)
	if res.Error != nil {
		return false, fmt.Errorf("enqueue outbox event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FetchUndelivered returns undelivered, non-terminal events whose retry time
// has arrived, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: batch size.
// Returns:
//   - []domain.OutboxEvent: deliverable events.
//   - error: non-nil if the query fails.
func (r *OutboxRepository) FetchUndelivered(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var events []domain.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("delivered_at IS NULL AND permanently_failed = ? AND next_retry_at <= ?", false, time.Now().UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("fetch undelivered outbox events: %w", err)
	}
	return events, nil
}

// MarkDelivered records successful delivery and clears the error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: event ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered_at": now,
			"last_error":   "",
		}).Error
}

// MarkFailed records a delivery failure and schedules the next retry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: event ID.
//   - attempts: attempt count after this failure.
//   - nextRetryAt: when the relay should try again.
//   - lastError: failure text.
// Returns:
//   - error: non-nil if the update fails.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":      attempts,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
		}).Error
}

// MarkPermanentlyFailed terminally consumes an event that exhausted its
// delivery retries. The row stops retrying but is tagged distinctly from a
// successful delivery.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: event ID.
//   - attempts: final attempt count.
//   - lastError: final failure text.
// Returns:
//   - error: non-nil if the update fails.
func (r *OutboxRepository) MarkPermanentlyFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":           attempts,
			"permanently_failed": true,
			"delivered_at":       now,
			"last_error":         lastError,
		}).Error
}

// BacklogCount returns the number of undelivered, non-terminal events.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: undelivered backlog size.
//   - error: non-nil if the query fails.
func (r *OutboxRepository) BacklogCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("delivered_at IS NULL AND permanently_failed = ?", false).
		Count(&count).Error
	return count, err
}
