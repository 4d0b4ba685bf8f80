package api

import (
	"github.com/dkoval/leadpilot/internal/api/handler"
	"github.com/dkoval/leadpilot/internal/api/middleware"
	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/service"
	"github.com/dkoval/leadpilot/internal/telemetry"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps bundles everything the operational API serves.
type Deps struct {
	DB                 *gorm.DB
	JobRepo            *repository.JobRepository
	LockRepo           *repository.LockRepository
	FlagsRepo          *repository.FlagsRepository
	OutboxRepo         *repository.OutboxRepository
	StatsRepo          *repository.StatsRepository
	LeadRepo           *repository.LeadRepository
	Leads              *service.LeadService
	Risk               *service.RiskEngine
	LockKey            string
	DefaultPriority    int
	DefaultMaxAttempts int
	Logger             *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	statusHandler := handler.NewStatusHandler(deps.JobRepo, deps.LockRepo, deps.FlagsRepo, deps.OutboxRepo, deps.StatsRepo, deps.LockKey)
	adminHandler := handler.NewAdminHandler(deps.JobRepo, deps.FlagsRepo, deps.Leads, deps.Risk, deps.DefaultPriority, deps.DefaultMaxAttempts, deps.Logger)
	leadHandler := handler.NewLeadHandler(deps.LeadRepo, deps.Logger)

	// Health check and metrics
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Operational state
		v1.GET("/status", statusHandler.Status)
		v1.GET("/stats", statusHandler.DailyStats)

		// Operator controls
		admin := v1.Group("/admin")
		{
			admin.POST("/pause", adminHandler.Pause)
			admin.POST("/resume", adminHandler.Resume)
			admin.POST("/quarantine", adminHandler.Quarantine)
			admin.POST("/quarantine/clear", adminHandler.ClearQuarantine)
			admin.POST("/jobs", adminHandler.EnqueueJob)
			admin.GET("/dead-letters", adminHandler.ListDeadLetters)
			admin.GET("/jobs/:id/attempts", adminHandler.JobAttempts)
		}

		// Leads
		v1.POST("/leads", leadHandler.CreateLead)
		v1.GET("/leads/:id", leadHandler.LeadHistory)
		v1.POST("/leads/:id/transition", adminHandler.TransitionLead)
	}

	return r
}
