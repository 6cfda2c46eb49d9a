package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
)

// CheckTrigger 受理检查请求
type CheckTrigger interface {
	RunCheck(clusterID uint) (*services.Ticket, error)
	RunCheckAll(ctx context.Context) (*services.Batch, error)
}

// ClusterGetter 校验集群是否存在
type ClusterGetter interface {
	GetCluster(ctx context.Context, id uint) (*models.Cluster, error)
}

// CheckHandler 手动触发健康检查
type CheckHandler struct {
	trigger  CheckTrigger
	clusters ClusterGetter
}

// NewCheckHandler 创建检查处理器
func NewCheckHandler(trigger CheckTrigger, clusters ClusterGetter) *CheckHandler {
	return &CheckHandler{trigger: trigger, clusters: clusters}
}

// TriggerCluster 受理单集群检查，立即返回 run_id
func (h *CheckHandler) TriggerCluster(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	if _, err := h.clusters.GetCluster(c.Request.Context(), id); err != nil {
		respondError(c, "触发检查失败", err)
		return
	}

	ticket, err := h.trigger.RunCheck(id)
	switch {
	case err == nil:
		respond(c, http.StatusAccepted, "检查已受理", ticket)
	case errors.Is(err, services.ErrCheckInProgress):
		respond(c, http.StatusConflict, "集群检查正在进行中", ticket)
	default:
		respondError(c, "触发检查失败", err)
	}
}

// TriggerAll 为所有集群受理检查，正在检查的集群跳过
func (h *CheckHandler) TriggerAll(c *gin.Context) {
	batch, err := h.trigger.RunCheckAll(c.Request.Context())
	if err != nil {
		respondError(c, "触发检查失败", err)
		return
	}
	respond(c, http.StatusAccepted, "检查已受理", gin.H{
		"accepted":      batch.Accepted(),
		"total":         len(batch.Entries),
		"schedule_type": batch.ScheduleType,
		"entries":       batch.Entries,
	})
}
