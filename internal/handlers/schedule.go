package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
)

// ScheduleHandler 集群自定义定时
type ScheduleHandler struct {
	scheduleService *services.ScheduleService
}

// NewScheduleHandler 创建定时处理器
func NewScheduleHandler(scheduleService *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

// GetSchedule 集群的自定义定时，未设置时返回 404
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	schedule, err := h.scheduleService.GetSchedule(c.Request.Context(), id)
	if err != nil {
		respondError(c, "获取定时设置失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", schedule)
}

// UpdateSchedule 创建或修改集群的自定义定时
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	var req services.ScheduleUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}
	schedule, err := h.scheduleService.UpdateSchedule(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, "保存定时设置失败", err)
		return
	}
	respond(c, http.StatusOK, "保存成功", schedule)
}
