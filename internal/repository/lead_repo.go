package repository

import (
	"context"
	"fmt"

	"github.com/dkoval/leadpilot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeadRepository handles lead and lead-event persistence.
type LeadRepository struct {
	db *gorm.DB
}

// NewLeadRepository creates a new LeadRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *LeadRepository: repository instance bound to db.
func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// DB exposes the underlying handle for transactional composition by the
// lead service, which must update the lead and append its event atomically.
func (r *LeadRepository) DB() *gorm.DB {
	return r.db
}

// Create inserts a new lead, ignoring duplicates on profile URL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - lead: lead record to persist.
// Returns:
//   - bool: true if a new row was inserted.
//   - error: non-nil if the insert fails.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_url"}},
		DoNothing: true,
	}).Create(lead)
	if res.Error != nil {
		return false, fmt.Errorf("create lead: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetByID retrieves a lead by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: lead ID.
// Returns:
//   - *domain.Lead: lead record if found.
//   - error: non-nil if lookup fails.
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.WithContext(ctx).First(&lead, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// GetByProfileURL retrieves a lead by its unique external identity.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - profileURL: external profile URL.
// Returns:
//   - *domain.Lead: lead record if found.
//   - error: non-nil if lookup fails.
func (r *LeadRepository) GetByProfileURL(ctx context.Context, profileURL string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.WithContext(ctx).First(&lead, "profile_url = ?", profileURL).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// EventsForLead returns the append-only transition history, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - leadID: lead whose events are listed.
// Returns:
//   - []domain.LeadEvent: transition history.
//   - error: non-nil if the query fails.
func (r *LeadRepository) EventsForLead(ctx context.Context, leadID string) ([]domain.LeadEvent, error) {
	var events []domain.LeadEvent
	err := r.db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// CountByStatus returns lead counts per status for an account, used by the
// risk engine's pending-invite ratio input.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account partition; empty counts across accounts.
//   - status: lead status to count.
// Returns:
//   - int64: matching row count.
//   - error: non-nil if the query fails.
func (r *LeadRepository) CountByStatus(ctx context.Context, accountID string, status domain.LeadStatus) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Lead{}).Where("status = ?", status)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}
