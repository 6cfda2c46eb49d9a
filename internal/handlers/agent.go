package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// AgentHandler 本地 LLM 助手
type AgentHandler struct {
	gateway  services.AgentGateway
	clusters ClusterGetter
	board    *services.StatusBoard
	model    string
	upgrader websocket.Upgrader
}

// NewAgentHandler 创建助手处理器，model 为下载时的默认模型
func NewAgentHandler(gateway services.AgentGateway, clusters ClusterGetter, board *services.StatusBoard, model string) *AgentHandler {
	return &AgentHandler{
		gateway:  gateway,
		clusters: clusters,
		board:    board,
		model:    model,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Health Ollama 状态与模型是否就绪
func (h *AgentHandler) Health(c *gin.Context) {
	respond(c, http.StatusOK, "获取成功", h.gateway.Health(c.Request.Context()))
}

// ListModels 已下载的模型
func (h *AgentHandler) ListModels(c *gin.Context) {
	respond(c, http.StatusOK, "获取成功", h.gateway.ListModels(c.Request.Context()))
}

// Chat 提问，指定 cluster_id 时附带该集群最近一次检查结果
func (h *AgentHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}

	var cc *services.ClusterContext
	if req.ClusterID != nil {
		cluster, err := h.clusters.GetCluster(c.Request.Context(), *req.ClusterID)
		if err != nil {
			respondError(c, "获取集群失败", err)
			return
		}
		var entry *services.BoardEntry
		if h.board != nil {
			if e, ok := h.board.Get(cluster.ID); ok {
				entry = &e
			}
		}
		cc = services.NewClusterContext(cluster, entry)
	}

	respond(c, http.StatusOK, "回答完成", h.gateway.Ask(c.Request.Context(), req.Question, cc))
}

// pullMessage 推送给前端的下载进度
type pullMessage struct {
	Type     string               `json:"type"` // progress / done / error
	Progress *models.PullProgress `json:"progress,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// PullModel 通过 WebSocket 推送模型下载进度，客户端断开即取消下载
func (h *AgentHandler) PullModel(c *gin.Context) {
	model := c.DefaultQuery("model", h.model)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("模型下载 WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	final, err := h.gateway.PullModel(ctx, model, func(p models.PullProgress) {
		_ = conn.WriteJSON(pullMessage{Type: "progress", Progress: &p})
	})

	msg := pullMessage{Type: "done", Progress: &final}
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
		if errors.Is(err, services.ErrPullInProgress) {
			msg.Progress = nil
		}
		logger.Warn("模型 %s 下载未完成: %v", model, err)
	}
	_ = conn.WriteJSON(msg)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
