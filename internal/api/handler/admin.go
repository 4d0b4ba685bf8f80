package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/service"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler handles operator controls: pausing, quarantine, dead-letter
// inspection, and manual lead lifecycle moves.
type AdminHandler struct {
	jobRepo            *repository.JobRepository
	flagsRepo          *repository.FlagsRepository
	leads              *service.LeadService
	risk               *service.RiskEngine
	defaultPriority    int
	defaultMaxAttempts int
	logger             *logger.Logger
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - jobRepo: job queue persistence.
//   - flagsRepo: persisted pause/quarantine flags.
//   - leads: lead lifecycle service.
//   - risk: risk engine for manual quarantine.
//   - defaultPriority: queue priority applied to enqueued jobs that omit one.
//   - defaultMaxAttempts: attempt budget applied to enqueued jobs that omit one.
//   - log: logger instance.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(
	jobRepo *repository.JobRepository,
	flagsRepo *repository.FlagsRepository,
	leads *service.LeadService,
	risk *service.RiskEngine,
	defaultPriority int,
	defaultMaxAttempts int,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		jobRepo:            jobRepo,
		flagsRepo:          flagsRepo,
		leads:              leads,
		risk:               risk,
		defaultPriority:    defaultPriority,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             log,
	}
}

// log returns a logger from Gin context if available, otherwise returns the default logger
func (h *AdminHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// PauseRequest represents the pause API request.
type PauseRequest struct {
	Reason          string `json:"reason" binding:"required"`
	DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=1,max=10080"`
}

// Pause handles POST /api/v1/admin/pause. A zero duration pauses
// indefinitely until an explicit resume.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) Pause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	var until *time.Time
	if req.DurationMinutes > 0 {
		t := time.Now().UTC().Add(time.Duration(req.DurationMinutes) * time.Minute)
		until = &t
	}

	if err := h.flagsRepo.Set(c.Request.Context(), domain.FlagGlobalPause, until, req.Reason, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to set pause flag: " + err.Error(),
		})
		return
	}

	h.log(c).WithFields(logger.Fields{"reason": req.Reason}).Warn("Global pause set by operator")
	c.JSON(http.StatusOK, gin.H{
		"message": "paused",
		"until":   until,
	})
}

// Resume handles POST /api/v1/admin/resume.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) Resume(c *gin.Context) {
	if err := h.flagsRepo.Clear(c.Request.Context(), domain.FlagGlobalPause); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear pause flag: " + err.Error(),
		})
		return
	}

	h.log(c).Info("Global pause cleared by operator")
	c.JSON(http.StatusOK, gin.H{"message": "resumed"})
}

// QuarantineRequest represents the quarantine API request.
type QuarantineRequest struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason" binding:"required"`
}

// Quarantine handles POST /api/v1/admin/quarantine. It raises the same
// quarantine the risk engine raises on a platform challenge.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) Quarantine(c *gin.Context) {
	var req QuarantineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.risk.TriggerQuarantine(c.Request.Context(), req.AccountID, "operator: "+req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to set quarantine: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "quarantined"})
}

// ClearQuarantine handles POST /api/v1/admin/quarantine/clear. Clearing
// quarantine also clears the pause it raised.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) ClearQuarantine(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.flagsRepo.Clear(ctx, domain.FlagQuarantine); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear quarantine flag: " + err.Error(),
		})
		return
	}
	if err := h.flagsRepo.Clear(ctx, domain.FlagGlobalPause); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear pause flag: " + err.Error(),
		})
		return
	}

	h.log(c).Info("Quarantine cleared by operator")
	c.JSON(http.StatusOK, gin.H{"message": "quarantine cleared"})
}

// EnqueueRequest represents the manual job enqueue request.
type EnqueueRequest struct {
	Type           string `json:"type" binding:"required"`
	AccountID      string `json:"account_id" binding:"required"`
	Payload        string `json:"payload" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Priority       int    `json:"priority" binding:"omitempty,min=1"`
	MaxAttempts    int    `json:"max_attempts" binding:"omitempty,min=1,max=10"`
}

// EnqueueJob handles POST /api/v1/admin/jobs. Priority and attempt budget
// fall back to the configured queue defaults when omitted. The payload is
// decoded up front so a malformed job is rejected here instead of
// dead-lettering on its first claim.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) EnqueueJob(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if _, err := domain.DecodePayload(req.Type, req.Payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payload: " + err.Error(),
		})
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = h.defaultPriority
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = h.defaultMaxAttempts
	}

	inserted, err := h.jobRepo.Enqueue(c.Request.Context(), repository.EnqueueParams{
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		AccountID:      req.AccountID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job: " + err.Error(),
		})
		return
	}
	if !inserted {
		c.JSON(http.StatusConflict, gin.H{
			"error":           "Job with this idempotency key already exists",
			"idempotency_key": req.IdempotencyKey,
		})
		return
	}

	h.log(c).WithFields(logger.Fields{
		"type":                req.Type,
		logger.FieldAccountID: req.AccountID,
	}).Info("Job enqueued by operator")
	c.JSON(http.StatusCreated, gin.H{
		"message":      "enqueued",
		"priority":     priority,
		"max_attempts": maxAttempts,
	})
}

// ListDeadLetters handles GET /api/v1/admin/dead-letters.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := parsePositiveInt(v, 500); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.jobRepo.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list dead letters: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// JobAttempts handles GET /api/v1/admin/jobs/:id/attempts.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) JobAttempts(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobRepo.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load job: " + err.Error(),
		})
		return
	}

	attempts, err := h.jobRepo.AttemptsForJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load attempts: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":      job,
		"attempts": attempts,
	})
}

// TransitionRequest represents the manual lead transition request.
type TransitionRequest struct {
	ToStatus string `json:"to_status" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// TransitionLead handles POST /api/v1/leads/:id/transition. The move runs
// through the same validity table as runner-driven transitions; an invalid
// move is rejected, not forced.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) TransitionLead(c *gin.Context) {
	leadID := c.Param("id")

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.leads.Transition(c.Request.Context(), leadID, domain.LeadStatus(req.ToStatus), "operator: "+req.Reason, nil)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Transition failed: " + err.Error(),
		})
		return
	}
	if !result.Applied {
		c.JSON(http.StatusConflict, gin.H{
			"error":       "Transition not allowed",
			"from_status": result.FromStatus,
			"to_status":   result.ToStatus,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"applied":     true,
		"from_status": result.FromStatus,
		"to_status":   result.ToStatus,
	})
}
