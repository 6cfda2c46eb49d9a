package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

// DashboardHandler 状态汇总与历史
type DashboardHandler struct {
	dashboard *services.DashboardService
}

// NewDashboardHandler 创建看板处理器
func NewDashboardHandler(dashboard *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// GetSummary 全部集群的状态统计
func (h *DashboardHandler) GetSummary(c *gin.Context) {
	sum, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		respondError(c, "获取汇总失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", sum)
}

// GetStatuses 全部集群的状态视图
func (h *DashboardHandler) GetStatuses(c *gin.Context) {
	views, err := h.dashboard.ListStatuses(c.Request.Context())
	if err != nil {
		respondError(c, "获取集群状态失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", views)
}

// GetClusterStatus 单集群状态，包含进行中的检查与最近一次失败原因
func (h *DashboardHandler) GetClusterStatus(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	view, err := h.dashboard.ClusterStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, "获取集群状态失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", view)
}

// GetHistory 分页查询检查历史
func (h *DashboardHandler) GetHistory(c *gin.Context) {
	clusterID, ok := optionalID(c, "cluster_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	scheduleType := models.ScheduleType(c.Query("schedule_type"))
	if scheduleType != "" && !scheduleType.Valid() {
		respond(c, http.StatusBadRequest, "无效的 schedule_type: "+string(scheduleType), nil)
		return
	}

	result, err := h.dashboard.History(c.Request.Context(), store.HistoryQuery{
		ClusterID:    clusterID,
		ScheduleType: scheduleType,
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		respondError(c, "获取历史失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", result)
}
