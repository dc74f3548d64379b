package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/supervisor"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/logger"
)

// workerStats 槽位状态来源
type workerStats interface {
	Stats() []supervisor.SlotStatus
	Ready() bool
}

type adminHandler struct {
	plan    *partition.Plan
	workers workerStats
}

func newAdminHandler(plan *partition.Plan, workers workerStats) *adminHandler {
	return &adminHandler{plan: plan, workers: workers}
}

func (h *adminHandler) register(r gin.IRouter) {
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	registerMetrics(r)
	r.GET("/workers", h.Workers)
	r.GET("/plan", h.Plan)
	r.GET("/log/level", h.LogLevel)
	r.PUT("/log/level", h.SetLogLevel)
}

func registerMetrics(r gin.IRouter) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Live 存活检查
func (h *adminHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 所有槽位运行中时就绪
func (h *adminHandler) Ready(c *gin.Context) {
	if !h.workers.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Workers 槽位状态
func (h *adminHandler) Workers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.workers.Stats()})
}

// Plan 分区规划
func (h *adminHandler) Plan(c *gin.Context) {
	c.JSON(http.StatusOK, h.plan)
}

type logLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// LogLevel 当前日志级别
func (h *adminHandler) LogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": logger.Level()})
}

// SetLogLevel 运行期调整日志级别
func (h *adminHandler) SetLogLevel(c *gin.Context) {
	var req logLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := logger.SetLevel(req.Level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": logger.Level()})
}
