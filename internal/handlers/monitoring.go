package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
)

// MonitoringHandler PromQL 卡片与 Prometheus 查询
type MonitoringHandler struct {
	cardService *services.MetricCardService
}

// NewMonitoringHandler 创建监控处理器
func NewMonitoringHandler(cardService *services.MetricCardService) *MonitoringHandler {
	return &MonitoringHandler{cardService: cardService}
}

// ListCards 卡片列表，enabled=true 时只返回启用的卡片
func (h *MonitoringHandler) ListCards(c *gin.Context) {
	cards, err := h.cardService.ListCards(c.Request.Context(), c.Query("enabled") == "true")
	if err != nil {
		respondError(c, "获取卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", cards)
}

// CreateCard 新增卡片
func (h *MonitoringHandler) CreateCard(c *gin.Context) {
	var card models.MetricCard
	if err := c.ShouldBindJSON(&card); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}
	card.ID = 0
	if err := h.cardService.CreateCard(c.Request.Context(), &card); err != nil {
		respondError(c, "创建卡片失败", err)
		return
	}
	respond(c, http.StatusCreated, "创建成功", card)
}

// GetCard 获取单个卡片
func (h *MonitoringHandler) GetCard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	card, err := h.cardService.GetCard(c.Request.Context(), id)
	if err != nil {
		respondError(c, "获取卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", card)
}

// UpdateCard 修改卡片，只更新请求中给出的字段
func (h *MonitoringHandler) UpdateCard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.CardUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}
	card, err := h.cardService.UpdateCard(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, "更新卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "更新成功", card)
}

// DeleteCard 删除卡片
func (h *MonitoringHandler) DeleteCard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.cardService.DeleteCard(c.Request.Context(), id); err != nil {
		respondError(c, "删除卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "删除成功", nil)
}

// QueryCard 执行单个卡片的查询
func (h *MonitoringHandler) QueryCard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.cardService.QueryCard(c.Request.Context(), id)
	if err != nil {
		respondError(c, "查询卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "查询成功", result)
}

// QueryAll 执行所有启用卡片的查询
func (h *MonitoringHandler) QueryAll(c *gin.Context) {
	results, err := h.cardService.QueryAll(c.Request.Context())
	if err != nil {
		respondError(c, "查询卡片失败", err)
		return
	}
	respond(c, http.StatusOK, "查询成功", results)
}

// TestQueryRequest 任意 PromQL
type TestQueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// TestQuery 执行任意 PromQL，Prometheus 不可用时返回 offline 状态而不是错误码
func (h *MonitoringHandler) TestQuery(c *gin.Context) {
	var req TestQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}
	respond(c, http.StatusOK, "查询完成", h.cardService.Test(c.Request.Context(), req.Query))
}

// Health Prometheus 连通性
func (h *MonitoringHandler) Health(c *gin.Context) {
	respond(c, http.StatusOK, "获取成功", h.cardService.Health(c.Request.Context()))
}
