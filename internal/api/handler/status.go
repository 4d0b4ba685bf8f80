package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/gin-gonic/gin"
)

// StatusHandler exposes the orchestrator's operational state: queue depths,
// runtime lock ownership, active flags, outbox backlog, and daily counters.
type StatusHandler struct {
	jobRepo    *repository.JobRepository
	lockRepo   *repository.LockRepository
	flagsRepo  *repository.FlagsRepository
	outboxRepo *repository.OutboxRepository
	statsRepo  *repository.StatsRepository
	lockKey    string
}

// NewStatusHandler creates a new status handler.
// Parameters:
//   - jobRepo: job queue persistence.
//   - lockRepo: runtime lock persistence.
//   - flagsRepo: persisted pause/quarantine flags.
//   - outboxRepo: outbox persistence.
//   - statsRepo: daily counters.
//   - lockKey: runtime lock key to report on.
// Returns:
//   - *StatusHandler: initialized handler.
func NewStatusHandler(
	jobRepo *repository.JobRepository,
	lockRepo *repository.LockRepository,
	flagsRepo *repository.FlagsRepository,
	outboxRepo *repository.OutboxRepository,
	statsRepo *repository.StatsRepository,
	lockKey string,
) *StatusHandler {
	return &StatusHandler{
		jobRepo:    jobRepo,
		lockRepo:   lockRepo,
		flagsRepo:  flagsRepo,
		outboxRepo: outboxRepo,
		statsRepo:  statsRepo,
		lockKey:    lockKey,
	}
}

// QueueStatus groups job counts by status.
type QueueStatus struct {
	Queued     int64 `json:"queued"`
	Running    int64 `json:"running"`
	Succeeded  int64 `json:"succeeded"`
	DeadLetter int64 `json:"dead_letter"`
}

// Status handles GET /api/v1/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	var queue QueueStatus
	for _, item := range []struct {
		status domain.JobStatus
		dst    *int64
	}{
		{domain.JobStatusQueued, &queue.Queued},
		{domain.JobStatusRunning, &queue.Running},
		{domain.JobStatusSucceeded, &queue.Succeeded},
		{domain.JobStatusDeadLetter, &queue.DeadLetter},
	} {
		count, err := h.jobRepo.CountByStatus(ctx, item.status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count jobs: " + err.Error(),
			})
			return
		}
		*item.dst = count
	}

	lock, err := h.lockRepo.Get(ctx, h.lockKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load runtime lock: " + err.Error(),
		})
		return
	}
	lockInfo := gin.H{"held": false}
	if lock != nil && !lock.Expired(time.Now().UTC()) {
		lockInfo = gin.H{
			"held":         true,
			"owner_id":     lock.OwnerID,
			"acquired_at":  lock.AcquiredAt,
			"heartbeat_at": lock.HeartbeatAt,
			"expires_at":   lock.ExpiresAt,
		}
	}

	flags := gin.H{}
	for _, key := range []string{domain.FlagGlobalPause, domain.FlagQuarantine} {
		flag, err := h.flagsRepo.Get(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load runtime flag: " + err.Error(),
			})
			return
		}
		flags[key] = gin.H{
			"active":       flag.InEffect(time.Now().UTC()),
			"active_until": flag.ActiveUntil,
			"reason":       flag.Reason,
		}
	}

	backlog, err := h.outboxRepo.BacklogCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count outbox backlog: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue":          queue,
		"runtime_lock":   lockInfo,
		"flags":          flags,
		"outbox_backlog": backlog,
	})
}

// DailyStats handles GET /api/v1/stats. It returns today's counters for an
// account, or a multi-day window when days is given.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *StatusHandler) DailyStats(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'account_id' is required",
		})
		return
	}

	if v := c.Query("days"); v != "" {
		days, err := parsePositiveInt(v, 90)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid 'days' parameter: " + err.Error(),
			})
			return
		}
		totals, err := h.statsRepo.WindowTotals(ctx, accountID, days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load stats window: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account_id": accountID,
			"days":       days,
			"totals":     totals,
		})
		return
	}

	day := domain.StatsDate(time.Now().UTC())
	stats, err := h.statsRepo.ForDay(ctx, accountID, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load daily stats: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parsePositiveInt parses v as a positive integer capped at max.
func parsePositiveInt(v string, max int) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	if n > max {
		n = max
	}
	return n, nil
}
