package handler

import (
	"errors"
	"net/http"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadHandler handles lead intake and history lookups.
type LeadHandler struct {
	leadRepo *repository.LeadRepository
	logger   *logger.Logger
}

// NewLeadHandler creates a new lead handler.
// Parameters:
//   - leadRepo: lead persistence.
//   - log: logger instance.
// Returns:
//   - *LeadHandler: initialized handler.
func NewLeadHandler(leadRepo *repository.LeadRepository, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		leadRepo: leadRepo,
		logger:   log,
	}
}

// log returns a logger from Gin context if available, otherwise returns the default logger
func (h *LeadHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// CreateLeadRequest represents the lead intake request.
type CreateLeadRequest struct {
	AccountID  string `json:"account_id" binding:"required"`
	ProfileURL string `json:"profile_url" binding:"required,url"`
	Name       string `json:"name"`
	Headline   string `json:"headline"`
	Company    string `json:"company"`
}

// CreateLead handles POST /api/v1/leads. The profile URL is the natural
// key; re-posting an existing profile returns the existing lead instead of
// inserting a duplicate.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	lead := &domain.Lead{
		ID:         uuid.New().String(),
		AccountID:  req.AccountID,
		ProfileURL: req.ProfileURL,
		Name:       req.Name,
		Headline:   req.Headline,
		Company:    req.Company,
		Status:     domain.LeadStatusNew,
	}
	inserted, err := h.leadRepo.Create(c.Request.Context(), lead)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create lead: " + err.Error(),
		})
		return
	}
	if !inserted {
		existing, err := h.leadRepo.GetByProfileURL(c.Request.Context(), req.ProfileURL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load existing lead: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "Lead with this profile URL already exists",
			"lead":  existing,
		})
		return
	}

	h.log(c).WithFields(logger.Fields{
		"lead_id":             lead.ID,
		logger.FieldAccountID: lead.AccountID,
	}).Info("Lead created")
	c.JSON(http.StatusCreated, gin.H{"lead": lead})
}

// LeadHistory handles GET /api/v1/leads/:id. It returns the lead alongside
// its full lifecycle event trail, oldest first.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *LeadHandler) LeadHistory(c *gin.Context) {
	leadID := c.Param("id")

	lead, err := h.leadRepo.GetByID(c.Request.Context(), leadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load lead: " + err.Error(),
		})
		return
	}

	events, err := h.leadRepo.EventsForLead(c.Request.Context(), leadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load lead events: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lead":   lead,
		"events": events,
	})
}
