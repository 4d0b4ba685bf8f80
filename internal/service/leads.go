package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/mirror"
	"github.com/dkoval/leadpilot/internal/repository"
	"gorm.io/gorm"
)

// LeadService enforces the lead lifecycle state machine. Every accepted
// transition updates the lead row and appends a LeadEvent in one
// transaction; invalid or duplicate triggers are silent no-ops so retried
// jobs do not duplicate history.
type LeadService struct {
	leadRepo   *repository.LeadRepository
	outboxRepo *repository.OutboxRepository
	side       *mirror.SideChannel
	logger     *logger.Logger
}

// NewLeadService creates a new LeadService.
// Parameters:
//   - leadRepo: lead persistence.
//   - outboxRepo: outbox persistence for transition events.
//   - side: mirror side-channel for event replication.
//   - log: logger instance.
// Returns:
//   - *LeadService: initialized service.
func NewLeadService(leadRepo *repository.LeadRepository, outboxRepo *repository.OutboxRepository, side *mirror.SideChannel, log *logger.Logger) *LeadService {
	return &LeadService{
		leadRepo:   leadRepo,
		outboxRepo: outboxRepo,
		side:       side,
		logger:     log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *LeadService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// TransitionResult reports what a Transition call did.
type TransitionResult struct {
	Applied    bool
	FromStatus domain.LeadStatus
	ToStatus   domain.LeadStatus
}

// Transition moves a lead to a new status if the move is valid. On an
// accepted move the milestone timestamp column for the target status is set,
// a LeadEvent is appended, and a lead.transitioned outbox event is enqueued,
// all in the same transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - leadID: lead to transition.
//   - toStatus: proposed status.
//   - reason: why the transition happened, stored on the event.
//   - metadata: optional structured context stored on the event.
// Returns:
//   - TransitionResult: whether the move was applied and the from/to pair.
//   - error: non-nil if persistence fails; invalid moves are not errors.
func (s *LeadService) Transition(ctx context.Context, leadID string, toStatus domain.LeadStatus, reason string, metadata domain.Metadata) (TransitionResult, error) {
	var result TransitionResult
	err := s.leadRepo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead domain.Lead
		if err := tx.First(&lead, "id = ?", leadID).Error; err != nil {
			return fmt.Errorf("load lead %s: %w", leadID, err)
		}

		result.FromStatus = lead.Status
		result.ToStatus = toStatus

		if !domain.CanTransition(lead.Status, toStatus) {
			// No-op by design of the validity table: no event row either.
			s.log(ctx).WithFields(logger.Fields{
				logger.FieldLeadID: leadID,
				"from":             lead.Status,
				"to":               toStatus,
			}).Debug("Lead transition rejected")
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"status": toStatus}
		switch toStatus {
		case domain.LeadStatusInvited:
			updates["invited_at"] = now
		case domain.LeadStatusAccepted:
			updates["accepted_at"] = now
		case domain.LeadStatusMessaged:
			updates["messaged_at"] = now
		case domain.LeadStatusReplied:
			updates["replied_at"] = now
		case domain.LeadStatusWithdrawn:
			updates["withdrawn_at"] = now
		case domain.LeadStatusBlocked:
			updates["blocked_at"] = now
			updates["blocked_reason"] = reason
		}

		if err := tx.Model(&domain.Lead{}).Where("id = ?", leadID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update lead %s: %w", leadID, err)
		}

		event := domain.LeadEvent{
			LeadID:     leadID,
			FromStatus: lead.Status,
			ToStatus:   toStatus,
			Reason:     reason,
			Metadata:   metadata,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("append lead event: %w", err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"lead_id":     leadID,
			"from_status": lead.Status,
			"to_status":   toStatus,
			"reason":      reason,
		})
		key := fmt.Sprintf("%s:%s:%s->%s", domain.TopicLeadTransitioned, leadID, lead.Status, toStatus)
		if _, err := s.outboxRepo.Enqueue(ctx, tx, domain.TopicLeadTransitioned, string(payload), key); err != nil {
			return err
		}

		result.Applied = true
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if result.Applied {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldLeadID: leadID,
			"from":             result.FromStatus,
			"to":               result.ToStatus,
			"reason":           reason,
		}).Info("Lead transitioned")
		s.mirrorEvent(ctx, leadID, result)
	}
	return result, nil
}

// mirrorEvent copies the accepted transition to the side-channel.
func (s *LeadService) mirrorEvent(ctx context.Context, leadID string, result TransitionResult) {
	if s.side == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"lead_id": leadID,
		"from":    result.FromStatus,
		"to":      result.ToStatus,
		"at":      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	key := fmt.Sprintf("lead-events/%s/%d.json", leadID, time.Now().UnixNano())
	s.side.Put(ctx, key, payload)
}
