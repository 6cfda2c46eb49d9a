package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// RunForgetter 删除集群时清理检查记录
type RunForgetter interface {
	Forget(clusterID uint)
}

// ClusterHandler 集群与检查项注册
type ClusterHandler struct {
	clusterService *services.ClusterService
	runs           RunForgetter
}

// NewClusterHandler 创建集群处理器
func NewClusterHandler(clusterService *services.ClusterService, runs RunForgetter) *ClusterHandler {
	return &ClusterHandler{clusterService: clusterService, runs: runs}
}

// CreateClusterRequest 注册集群请求
type CreateClusterRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	APIServer      string `json:"api_server"`
	Kubeconfig     string `json:"kubeconfig"`
	KubeconfigPath string `json:"kubeconfig_path"`
	Token          string `json:"token"`
	CACert         string `json:"ca_cert"`
}

// GetClusters 获取集群列表
func (h *ClusterHandler) GetClusters(c *gin.Context) {
	clusters, err := h.clusterService.GetAllClusters(c.Request.Context())
	if err != nil {
		respondError(c, "获取集群列表失败", err)
		return
	}

	items := make([]gin.H, 0, len(clusters))
	for _, cluster := range clusters {
		item := gin.H{
			"id":         cluster.ID,
			"name":       cluster.Name,
			"api_server": cluster.APIServer,
			"status":     cluster.DisplayStatus(),
			"addons":     len(cluster.Addons),
			"created_at": cluster.CreatedAt,
		}
		if cluster.LastCheckAt != nil {
			item["last_check_at"] = cluster.LastCheckAt
		}
		items = append(items, item)
	}

	respond(c, http.StatusOK, "获取成功", gin.H{
		"items": items,
		"total": len(items),
	})
}

// CreateCluster 注册集群
func (h *ClusterHandler) CreateCluster(c *gin.Context) {
	var req CreateClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}

	cluster := &models.Cluster{
		Name:           req.Name,
		Description:    req.Description,
		APIServer:      req.APIServer,
		Kubeconfig:     req.Kubeconfig,
		KubeconfigPath: req.KubeconfigPath,
		Token:          req.Token,
		CACert:         req.CACert,
	}
	if err := h.clusterService.CreateCluster(c.Request.Context(), cluster); err != nil {
		respondError(c, "注册集群失败", err)
		return
	}

	logger.Info("集群注册成功: %s (id=%d)", cluster.Name, cluster.ID)
	respond(c, http.StatusCreated, "注册成功", cluster)
}

// GetCluster 获取单个集群及其检查项
func (h *ClusterHandler) GetCluster(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	cluster, err := h.clusterService.GetCluster(c.Request.Context(), id)
	if err != nil {
		respondError(c, "获取集群失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", cluster)
}

// UpdateCluster 修改集群名称、描述或凭据，状态字段不可修改
func (h *ClusterHandler) UpdateCluster(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	var req services.ClusterUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}
	cluster, err := h.clusterService.UpdateCluster(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, "更新集群失败", err)
		return
	}
	respond(c, http.StatusOK, "更新成功", cluster)
}

// DeleteCluster 删除集群及其检查项与历史
func (h *ClusterHandler) DeleteCluster(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	if err := h.clusterService.DeleteCluster(c.Request.Context(), id); err != nil {
		respondError(c, "删除集群失败", err)
		return
	}
	if h.runs != nil {
		h.runs.Forget(id)
	}
	respond(c, http.StatusOK, "删除成功", nil)
}

// CreateAddonRequest 注册检查项请求
type CreateAddonRequest struct {
	Name        string            `json:"name" binding:"required"`
	Type        models.AddonType  `json:"type" binding:"required"`
	Icon        string            `json:"icon"`
	Description string            `json:"description"`
	Config      map[string]string `json:"config"`
}

// ListAddons 集群上的检查项及最近结果
func (h *ClusterHandler) ListAddons(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	addons, err := h.clusterService.ListAddons(c.Request.Context(), id)
	if err != nil {
		respondError(c, "获取检查项失败", err)
		return
	}
	respond(c, http.StatusOK, "获取成功", addons)
}

// CreateAddon 为集群注册检查项
func (h *ClusterHandler) CreateAddon(c *gin.Context) {
	id, ok := parseID(c, "clusterID")
	if !ok {
		return
	}
	var req CreateAddonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "请求参数错误: "+err.Error(), nil)
		return
	}

	addon := &models.Addon{
		Name:        req.Name,
		Type:        req.Type,
		Icon:        req.Icon,
		Description: req.Description,
		Config:      req.Config,
	}
	if err := h.clusterService.CreateAddon(c.Request.Context(), id, addon); err != nil {
		respondError(c, "注册检查项失败", err)
		return
	}
	respond(c, http.StatusCreated, "注册成功", addon)
}

// DeleteAddon 删除检查项
func (h *ClusterHandler) DeleteAddon(c *gin.Context) {
	id, ok := parseID(c, "addonID")
	if !ok {
		return
	}
	if err := h.clusterService.DeleteAddon(c.Request.Context(), id); err != nil {
		respondError(c, "删除检查项失败", err)
		return
	}
	respond(c, http.StatusOK, "删除成功", nil)
}
