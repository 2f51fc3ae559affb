package v1

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/alerts"
	"bizpulse/insight-engine/internal/dashboard"
	"bizpulse/insight-engine/internal/export"
	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/kpi/trend"
	"bizpulse/insight-engine/internal/scheduler"
)

// Handler exposes the engine's produced interfaces over HTTP. It is a
// thin pass-through: bind, call the service, map the error taxonomy.
type Handler struct {
	registry  *kpi.Service
	analyzer  *trend.Analyzer
	trends    *trend.SnapshotStore
	alerts    *alerts.Engine
	insights  *insights.Service
	composer  *dashboard.Composer
	exporter  *export.ExcelExporter
	scheduler *scheduler.Manager
	logger    *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	registry *kpi.Service,
	analyzer *trend.Analyzer,
	trends *trend.SnapshotStore,
	alertEngine *alerts.Engine,
	insightSvc *insights.Service,
	composer *dashboard.Composer,
	exporter *export.ExcelExporter,
	sched *scheduler.Manager,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		analyzer:  analyzer,
		trends:    trends,
		alerts:    alertEngine,
		insights:  insightSvc,
		composer:  composer,
		exporter:  exporter,
		scheduler: sched,
		logger:    logger,
	}
}

// RegisterRoutes mounts the API under the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/kpis", h.CreateKPI)
	r.PUT("/kpis/:id", h.UpdateKPI)
	r.GET("/kpis/:id/value", h.GetKPIValue)
	r.GET("/kpis/:id/trend", h.GetTrendAnalysis)
	r.GET("/kpis/:id/history/export", h.ExportHistory)
	r.POST("/kpis/:id/status", h.SetKPIStatus)

	r.POST("/alert-rules", h.CreateAlertRule)
	r.GET("/alerts", h.ListAlerts)
	r.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)

	r.GET("/insights", h.ListInsights)
	r.POST("/insights/:id/acknowledge", h.AcknowledgeInsight)

	r.POST("/dashboards", h.CreateDashboard)
	r.GET("/dashboards/:id/data", h.GetDashboardData)

	r.GET("/scheduler/jobs", h.SchedulerJobs)
}

func (h *Handler) CreateKPI(c *gin.Context) {
	var def kpi.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.registry.CreateKPI(c.Request.Context(), &def)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) UpdateKPI(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var def kpi.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def.ID = id
	if err := h.registry.UpdateKPI(c.Request.Context(), &def); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handler) GetKPIValue(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	value, err := h.registry.GetKPIValue(c.Request.Context(), id, c.Query("period"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, value)
}

func (h *Handler) GetTrendAnalysis(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if c.Query("fresh") == "" {
		if analysis, ok := h.trends.Get(id); ok {
			c.JSON(http.StatusOK, analysis)
			return
		}
	}

	lookback := 30 * 24 * time.Hour
	if days := c.Query("days"); days != "" {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err == nil && n > 0 {
			lookback = time.Duration(n) * 24 * time.Hour
		}
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), id, lookback)
	if errors.Is(err, trend.ErrInsufficientData) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not enough data points for trend analysis"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.trends.Put(analysis)
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) ExportHistory(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	def, err := h.registry.GetDefinition(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	history, err := h.registry.GetHistory(c.Request.Context(), id, 90*24*time.Hour)
	if err != nil {
		h.writeError(c, err)
		return
	}
	data, err := h.exporter.ExportHistory(def, history)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", def.Name+".xlsx"))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handler) SetKPIStatus(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var body struct {
		Status kpi.DefinitionStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetStatus(c.Request.Context(), id, body.Status); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": body.Status})
}

func (h *Handler) CreateAlertRule(c *gin.Context) {
	var rule alerts.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.alerts.CreateRule(c.Request.Context(), &rule)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) ListAlerts(c *gin.Context) {
	list, err := h.alerts.ListAlerts(c.Request.Context(), alerts.AlertStatus(c.Query("status")), 100)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var body struct {
		Who string `json:"who" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.alerts.Acknowledge(c.Request.Context(), id, body.Who); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *Handler) ListInsights(c *gin.Context) {
	filter := insights.ListFilter{
		Type:           insights.InsightType(c.Query("type")),
		Severity:       insights.InsightSeverity(c.Query("severity")),
		IncludeExpired: c.Query("include_expired") == "true",
		Unacknowledged: c.Query("unacknowledged") == "true",
		Limit:          100,
	}
	if raw := c.Query("kpi_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kpi_id"})
			return
		}
		filter.KPIID = id
	}
	list, err := h.insights.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AcknowledgeInsight(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var body struct {
		Who string `json:"who" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.insights.Acknowledge(c.Request.Context(), id, body.Who); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *Handler) CreateDashboard(c *gin.Context) {
	var d dashboard.Dashboard
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.composer.CreateDashboard(c.Request.Context(), &d)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetDashboardData(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	data, err := h.composer.GetDashboardData(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) SchedulerJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Jobs())
}

func (h *Handler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *kpi.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, kpi.ErrNotFound),
		errors.Is(err, alerts.ErrNotFound),
		errors.Is(err, insights.ErrNotFound),
		errors.Is(err, dashboard.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
