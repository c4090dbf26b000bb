package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/civicpulse/backend/internal/analytics"
	"github.com/civicpulse/backend/internal/config"
	"github.com/civicpulse/backend/internal/db"
	"github.com/civicpulse/backend/internal/geocode"
	"github.com/civicpulse/backend/internal/http/handlers"
	"github.com/civicpulse/backend/internal/http/middleware"
	"github.com/civicpulse/backend/internal/jobs"
	"github.com/civicpulse/backend/internal/service"

	_ "github.com/civicpulse/backend/docs"
)

func Router(cfg config.Config, store *db.Store, pipeline *service.Pipeline, tracker *service.SLATracker, engine *analytics.Engine, scheduler *jobs.Scheduler, geocoder geocode.Geocoder, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Pipeline:  pipeline,
		SLA:       tracker,
		Engine:    engine,
		Scheduler: scheduler,
		Geocoder:  geocoder,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/reports", h.SubmitReport)
		api.GET("/reports", h.ReportsList)
		api.GET("/reports/:id", h.ReportDetails)
		api.GET("/issues", h.IssuesList)
		api.GET("/issues/:id", h.IssueDetails)
		api.GET("/tenants", h.TenantsList)
		api.GET("/tenants/:id/areas", h.AreasList)
		api.GET("/analytics/stats", h.AnalyticsStats)
		api.GET("/analytics/timeseries", h.AnalyticsTimeSeries)
		api.GET("/analytics/scores", h.AnalyticsScores)
		api.GET("/analytics/leaderboard", h.Leaderboard)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/tenants", h.CreateTenant)
		admin.POST("/tenants/:id/areas", h.CreateArea)
		admin.PATCH("/issues/:id/resolve", h.ResolveIssue)
		admin.POST("/process", h.Process)
		admin.POST("/jobs/sla", h.RunSLAJob)
		admin.POST("/jobs/scores", h.RunScoresJob)
		admin.POST("/areas/regeocode", h.RegeocodeAreas)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
