package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/analytics"
	"github.com/civicpulse/backend/internal/db"
	"github.com/civicpulse/backend/internal/errs"
	"github.com/civicpulse/backend/internal/geocode"
	"github.com/civicpulse/backend/internal/jobs"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Pipeline  *service.Pipeline
	SLA       *service.SLATracker
	Engine    *analytics.Engine
	Scheduler *jobs.Scheduler
	Geocoder  geocode.Geocoder
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
	Now       func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- reports ---

type SubmitReportRequest struct {
	TenantID    int64  `json:"tenant_id" validate:"required,gt=0"`
	Description string `json:"description" validate:"required,min=10,max=5000"`
	Location    string `json:"location" validate:"max=500"`
}

type SubmitReportResponse struct {
	ReportID   int64   `json:"report_id"`
	IssueID    int64   `json:"issue_id"`
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
}

// @Summary Submit a citizen report
// @Description Accepts a free-text report, classifies it, and links it to an existing or new issue
// @Tags reports
// @Accept json
// @Produce json
// @Param report body SubmitReportRequest true "report"
// @Success 201 {object} SubmitReportResponse
// @Failure 400 {object} map[string]any
// @Router /api/reports [post]
func (h *Handler) SubmitReport(c *gin.Context) {
	var req SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid report", err.Error())
		return
	}
	ctx := c.Request.Context()

	if _, err := h.Store.GetTenant(ctx, req.TenantID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load tenant", err.Error())
		return
	}

	report, err := h.Store.CreateReport(ctx, models.NewReport(req.TenantID, req.Description, req.Location, h.now()))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create report", err.Error())
		return
	}

	result, err := h.Pipeline.ProcessReport(ctx, report.ID)
	if err != nil {
		// The report is stored; the sweep will pick it up.
		h.Logger.Error().Err(err).Int64("report_id", report.ID).Msg("inline triage failed, deferred to sweep")
		c.JSON(http.StatusAccepted, gin.H{"report_id": report.ID, "status": "queued"})
		return
	}

	c.JSON(http.StatusCreated, SubmitReportResponse{
		ReportID:   result.ReportID,
		IssueID:    result.IssueID,
		Matched:    result.Matched,
		Confidence: result.Confidence,
	})
}

func (h *Handler) ReportsList(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	items, err := h.Store.ListReports(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list reports", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) ReportDetails(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	report, err := h.Store.GetReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get report", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- issues ---

func (h *Handler) IssuesList(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status != "" && status != models.IssueStatusOpen && status != models.IssueStatusResolved {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "status must be open or resolved", nil)
		return
	}
	limit, offset := pagination(c)
	items, err := h.Store.ListIssues(c.Request.Context(), tenantID, status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list issues", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) IssueDetails(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	issue, err := h.Store.GetIssue(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get issue", err.Error())
		return
	}
	c.JSON(http.StatusOK, issue)
}

// @Summary Resolve an issue
// @Description Marks an issue resolved and computes its SLA metric. Resolving twice is a no-op.
// @Tags issues
// @Produce json
// @Param id path int true "Issue ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/issues/{id}/resolve [patch]
func (h *Handler) ResolveIssue(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	issue, err := h.Store.ResolveIssue(ctx, id, h.now())
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to resolve issue", err.Error())
		return
	}

	metric, err := h.SLA.ComputeAndStore(ctx, issue.ID)
	if err != nil {
		h.Logger.Error().Err(err).Int64("issue_id", issue.ID).Msg("sla computation failed on resolve")
		c.JSON(http.StatusOK, gin.H{"issue": issue})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issue": issue, "sla": metric})
}

// --- tenants & areas ---

// Type is a free-form label (city, campus, building, hotel, ...), only
// bounded in length.
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,min=2,max=200"`
	Type string `json:"type" validate:"max=100"`
}

func (h *Handler) TenantsList(c *gin.Context) {
	items, err := h.Store.ListTenants(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tenants", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid tenant", err.Error())
		return
	}
	tenant, err := h.Store.CreateTenant(c.Request.Context(), models.Tenant{
		Name:      strings.TrimSpace(req.Name),
		Type:      req.Type,
		CreatedAt: h.now(),
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create tenant", err.Error())
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

type CreateAreaRequest struct {
	Name string   `json:"name" validate:"required,min=2,max=200"`
	Lat  *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon  *float64 `json:"lon" validate:"omitempty,gte=-180,lte=180"`
}

func (h *Handler) AreasList(c *gin.Context) {
	tenantID, ok := paramID(c)
	if !ok {
		return
	}
	items, err := h.Store.ListAreasByTenant(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list areas", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) CreateArea(c *gin.Context) {
	tenantID, ok := paramID(c)
	if !ok {
		return
	}
	var req CreateAreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid area", err.Error())
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load tenant", err.Error())
		return
	}
	area, err := h.Store.CreateArea(ctx, models.Area{
		TenantID:  tenantID,
		Name:      strings.ToLower(strings.TrimSpace(req.Name)),
		Lat:       req.Lat,
		Lon:       req.Lon,
		CreatedAt: h.now(),
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create area", err.Error())
		return
	}
	c.JSON(http.StatusCreated, area)
}

// RegeocodeAreas fills in coordinates for areas that lack them. With
// force=true every area is re-resolved.
func (h *Handler) RegeocodeAreas(c *gin.Context) {
	if h.Geocoder == nil {
		writeError(c, http.StatusServiceUnavailable, "GEOCODER_UNAVAILABLE", "Geocoding is not configured", nil)
		return
	}
	force := c.Query("force") == "true"
	ctx := c.Request.Context()

	tenants, err := h.Store.ListTenants(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tenants", err.Error())
		return
	}

	updated, skipped, failed := 0, 0, 0
	for _, tenant := range tenants {
		areas, err := h.Store.ListAreasByTenant(ctx, tenant.ID)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list areas", err.Error())
			return
		}
		for _, area := range areas {
			if !geocode.ShouldGeocode(area, force) {
				skipped++
				continue
			}
			lat, lon, _, _, err := h.Geocoder.Geocode(ctx, geocode.BuildQuery(tenant.Name, area.Name, ""))
			if err != nil {
				h.Logger.Warn().Err(err).Str("area", area.Name).Msg("geocode failed")
				failed++
				continue
			}
			if err := h.Store.UpdateAreaCoords(ctx, area.ID, lat, lon); err != nil {
				failed++
				continue
			}
			updated++
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated, "skipped": skipped, "failed": failed})
}

// --- analytics ---

func (h *Handler) AnalyticsStats(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	days := queryInt(c, "days", 30)
	stats, err := h.Engine.TenantStats(c.Request.Context(), tenantID, days)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) AnalyticsTimeSeries(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	interval := analytics.Interval(c.DefaultQuery("interval", string(analytics.IntervalDaily)))
	days := queryInt(c, "days", 30)
	window := queryInt(c, "window", 7)

	result, err := h.Engine.TenantIssueSeries(c.Request.Context(), tenantID, interval, days, window)
	if err != nil {
		if errs.IsValidation(err) {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to build time series", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) AnalyticsScores(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	days := queryInt(c, "days", 90)
	since := h.now().AddDate(0, 0, -days)
	items, err := h.Store.ListScoreEntries(c.Request.Context(), tenantID, analytics.MetricOverall, since)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list scores", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Leaderboard
// @Description Ranks tenants by latest score; with tenant_id set, ranks that tenant's areas.
// @Tags analytics
// @Produce json
// @Param tenant_id query int false "Rank areas of this tenant instead of tenants"
// @Success 200 {object} map[string]any
// @Router /api/analytics/leaderboard [get]
func (h *Handler) Leaderboard(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("tenant_id"); raw != "" {
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "tenant_id must be a positive integer", nil)
			return
		}
		items, err := h.Engine.AreaLeaderboard(ctx, tenantID)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to rank areas", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
		return
	}
	items, err := h.Engine.TenantLeaderboard(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to rank tenants", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// --- jobs ---

// Process triggers a triage sweep over unprocessed reports.
func (h *Handler) Process(c *gin.Context) {
	summary, ran := h.Scheduler.RunTriageSweep(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) RunSLAJob(c *gin.Context) {
	summary, ran := h.Scheduler.RunSLA(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) RunScoresJob(c *gin.Context) {
	summary, ran := h.Scheduler.RunScores(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- helpers ---

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
