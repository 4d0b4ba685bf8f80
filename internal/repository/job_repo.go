package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository handles the persistent job queue.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// EnqueueParams collects inputs required to insert a job.
type EnqueueParams struct {
	Type           string
	Payload        string
	IdempotencyKey string
	Priority       int
	MaxAttempts    int
	Delay          time.Duration
	AccountID      string
}

// Enqueue inserts a job using insert-or-ignore on the idempotency key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - p: enqueue parameters; MaxAttempts of 0 defaults to 3.
// Returns:
//   - bool: true if a new row was inserted, false if the key already existed.
//   - error: non-nil if the insert fails.
func (r *JobRepository) Enqueue(ctx context.Context, p EnqueueParams) (bool, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Priority == 0 {
		p.Priority = 100
	}
	now := time.Now().UTC()
	job := domain.Job{
		ID:             uuid.New().String(),
		Type:           p.Type,
		Status:         domain.JobStatusQueued,
		AccountID:      p.AccountID,
		Payload:        p.Payload,
		IdempotencyKey: p.IdempotencyKey,
		Priority:       p.Priority,
		MaxAttempts:    p.MaxAttempts,
		NextRunAt:      now.Add(p.Delay),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&job)
	if res.Error != nil {
		return false, fmt.Errorf("enqueue job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClaimNext atomically claims the next runnable job for an account.
// The lowest-priority-value, oldest-created queued job whose next_run_at has
// passed is selected inside a transaction and flipped to running only if it
// is still queued; losing that conditional update returns no job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - allowedTypes: job types the caller can execute; empty means all.
//   - accountID: account partition to claim from.
//   - includeLegacyQueue: also match rows with no account partition.
// Returns:
//   - *domain.Job: claimed job now marked running, or nil if none.
//   - error: non-nil if the transaction fails.
func (r *JobRepository) ClaimNext(ctx context.Context, allowedTypes []string, accountID string, includeLegacyQueue bool) (*domain.Job, error) {
	var claimed *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		q := tx.Where("status = ?", domain.JobStatusQueued).
			Where("next_run_at <= ?", now)
		if len(allowedTypes) > 0 {
			q = q.Where("type IN ?", allowedTypes)
		}
		if includeLegacyQueue {
			q = q.Where("account_id = ? OR account_id = '' OR account_id IS NULL", accountID)
		} else {
			q = q.Where("account_id = ?", accountID)
		}

		var job domain.Job
		if err := q.Order("priority ASC").Order("created_at ASC").First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("select next job: %w", err)
		}

		// Conditional claim: only wins if the row is still queued.
		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ?", job.ID, domain.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":    domain.JobStatusRunning,
				"locked_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("claim job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another claimant.
			return nil
		}

		job.Status = domain.JobStatusRunning
		job.LockedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSucceeded terminally completes a job and clears its claim lock.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to complete.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkSucceeded(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":    domain.JobStatusSucceeded,
			"locked_at": nil,
		}).Error
}

// MarkRetryOrDeadLetter either requeues a failed job with a backoff delay or
// dead-letters it once the attempt budget is exhausted. The claim lock is
// cleared and the failure persisted either way.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to update.
//   - attempts: attempt count after this failure.
//   - maxAttempts: job's attempt budget.
//   - backoff: delay before the next run when retrying.
//   - lastError: failure text persisted on the row.
// Returns:
//   - domain.JobStatus: resulting status (queued or dead_letter).
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkRetryOrDeadLetter(ctx context.Context, jobID string, attempts, maxAttempts int, backoff time.Duration, lastError string) (domain.JobStatus, error) {
	updates := map[string]interface{}{
		"attempts":   attempts,
		"locked_at":  nil,
		"last_error": lastError,
	}
	status := domain.JobStatusQueued
	if attempts >= maxAttempts {
		status = domain.JobStatusDeadLetter
	} else {
		updates["next_run_at"] = time.Now().UTC().Add(backoff)
	}
	updates["status"] = status

	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", jobID).
		Updates(updates).Error; err != nil {
		return "", fmt.Errorf("mark retry or dead letter: %w", err)
	}
	return status, nil
}

// RecordAttempt appends an audit row for one execution attempt, independent
// of the job row's own status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job the attempt belongs to.
//   - success: whether the attempt succeeded.
//   - errorCode: machine-readable failure code, empty on success.
//   - errorMessage: failure text, empty on success.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) RecordAttempt(ctx context.Context, jobID string, success bool, errorCode, errorMessage string) error {
	attempt := domain.JobAttempt{
		JobID:        jobID,
		Success:      success,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		FinishedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&attempt).Error
}

// RecoverStale forces jobs left running beyond the staleness threshold back
// to queued. A crashed process leaves no other signal than an old locked_at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: staleness threshold for locked_at.
// Returns:
//   - int64: number of recovered jobs.
//   - error: non-nil if the update fails.
func (r *JobRepository) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND locked_at < ?", domain.JobStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusQueued,
			"locked_at":  nil,
			"last_error": "recovered: stale running job reclaimed at startup",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FetchDeadLetterBatch returns dead-lettered jobs that triage has not yet
// annotated, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: batch size.
// Returns:
//   - []domain.Job: batch of unclassified dead letters.
//   - error: non-nil if the query fails.
func (r *JobRepository) FetchDeadLetterBatch(ctx context.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND (triage_note = '' OR triage_note IS NULL)", domain.JobStatusDeadLetter).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch dead letter batch: %w", err)
	}
	return jobs, nil
}

// Recycle returns a dead-lettered job to the queue with a fresh attempt
// budget, a lowered priority and a delayed next run so recycled work does
// not starve fresh jobs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to recycle.
//   - priority: lowered priority value (higher number runs later).
//   - delay: delay before the recycled job becomes runnable.
//   - note: triage annotation recorded on the row.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Recycle(ctx context.Context, jobID string, priority int, delay time.Duration, note string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusDeadLetter).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusQueued,
			"attempts":    0,
			"priority":    priority,
			"next_run_at": time.Now().UTC().Add(delay),
			"triage_note": note,
		}).Error
}

// MarkTerminal annotates a dead-lettered job as permanently failed so triage
// does not revisit it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to annotate.
//   - note: triage classification reason.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkTerminal(ctx context.Context, jobID string, note string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusDeadLetter).
		Update("triage_note", note).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// CountByStatus returns the number of jobs in the given status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: job status to count.
// Returns:
//   - int64: matching row count.
//   - error: non-nil if the query fails.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ListDeadLetters returns dead-lettered jobs for inspection, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum rows returned.
// Returns:
//   - []domain.Job: dead-lettered jobs.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListDeadLetters(ctx context.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.JobStatusDeadLetter).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// AttemptsForJob returns the audit rows recorded for a job, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job whose attempts are listed.
// Returns:
//   - []domain.JobAttempt: attempt history.
//   - error: non-nil if the query fails.
func (r *JobRepository) AttemptsForJob(ctx context.Context, jobID string) ([]domain.JobAttempt, error) {
	var attempts []domain.JobAttempt
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&attempts).Error
	return attempts, err
}

// FailureWindowStats summarizes attempt outcomes in a recent window, used by
// the risk engine as its action failure input.
type FailureWindowStats struct {
	Total    int64
	Failures int64
}

// AttemptStatsSince aggregates attempt outcomes finished after the cutoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - since: window start.
// Returns:
//   - FailureWindowStats: attempt totals within the window.
//   - error: non-nil if the query fails.
func (r *JobRepository) AttemptStatsSince(ctx context.Context, since time.Time) (FailureWindowStats, error) {
	var stats FailureWindowStats
	if err := r.db.WithContext(ctx).Model(&domain.JobAttempt{}).
		Where("finished_at >= ?", since).
		Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := r.db.WithContext(ctx).Model(&domain.JobAttempt{}).
		Where("finished_at >= ? AND success = ?", since, false).
		Count(&stats.Failures).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
