package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/checkers"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// ErrInvalidInput 请求参数不合法
var ErrInvalidInput = errors.New("参数错误")

// ClientForgetter 集群删除后释放客户端缓存
type ClientForgetter interface {
	Forget(clusterID uint)
}

// ClusterService 集群与检查项的注册
type ClusterService struct {
	repo    store.ClusterRepository
	clients ClientForgetter
	board   *StatusBoard
}

// NewClusterService 创建集群服务
func NewClusterService(repo store.ClusterRepository, clients ClientForgetter, board *StatusBoard) *ClusterService {
	return &ClusterService{repo: repo, clients: clients, board: board}
}

// CreateCluster 创建集群
func (s *ClusterService) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	cluster.Name = strings.TrimSpace(cluster.Name)
	if cluster.Name == "" {
		return fmt.Errorf("%w: 集群名称不能为空", ErrInvalidInput)
	}
	if !cluster.HasCredentials() {
		return fmt.Errorf("%w: 需要提供 kubeconfig、kubeconfig_path 或 api_server + token", ErrInvalidInput)
	}
	// 状态只能由检查结果写入
	cluster.Status = ""
	cluster.StatusMessage = ""
	cluster.LastBatchID = ""
	cluster.LastCheckAt = nil

	if err := s.repo.CreateCluster(ctx, cluster); err != nil {
		logger.Error("创建集群失败: %v", err)
		return err
	}
	logger.Info("集群创建成功: id=%d name=%s", cluster.ID, cluster.Name)
	return nil
}

// GetCluster 获取单个集群（含检查项）
func (s *ClusterService) GetCluster(ctx context.Context, id uint) (*models.Cluster, error) {
	return s.repo.GetCluster(ctx, id)
}

// GetAllClusters 获取所有集群
func (s *ClusterService) GetAllClusters(ctx context.Context) ([]models.Cluster, error) {
	return s.repo.ListClusters(ctx)
}

// ClusterUpdate 集群的可修改字段，nil 表示不修改
type ClusterUpdate struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	APIServer      *string `json:"api_server"`
	Kubeconfig     *string `json:"kubeconfig"`
	KubeconfigPath *string `json:"kubeconfig_path"`
	Token          *string `json:"token"`
	CACert         *string `json:"ca_cert"`
}

// UpdateCluster 修改集群注册信息，状态字段只能由检查结果写入
func (s *ClusterService) UpdateCluster(ctx context.Context, id uint, in ClusterUpdate) (*models.Cluster, error) {
	cluster, err := s.repo.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	oldName := cluster.Name

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&cluster.Name, in.Name)
	set(&cluster.Description, in.Description)
	set(&cluster.APIServer, in.APIServer)
	set(&cluster.Kubeconfig, in.Kubeconfig)
	set(&cluster.KubeconfigPath, in.KubeconfigPath)
	set(&cluster.Token, in.Token)
	set(&cluster.CACert, in.CACert)
	if cluster.Name == "" {
		return nil, fmt.Errorf("%w: 集群名称不能为空", ErrInvalidInput)
	}
	if !cluster.HasCredentials() {
		return nil, fmt.Errorf("%w: 需要提供 kubeconfig、kubeconfig_path 或 api_server + token", ErrInvalidInput)
	}

	if err := s.repo.UpdateCluster(ctx, cluster); err != nil {
		logger.Error("更新集群失败: %v", err)
		return nil, err
	}
	// 凭据变化后下次检查重建客户端
	if s.clients != nil {
		s.clients.Forget(id)
	}
	if oldName != cluster.Name {
		metrics.ForgetCluster(oldName)
	}
	logger.Info("集群更新成功: id=%d name=%s", id, cluster.Name)
	return s.repo.GetCluster(ctx, id)
}

// DeleteCluster 删除集群，同时清理客户端缓存、看板与指标
func (s *ClusterService) DeleteCluster(ctx context.Context, id uint) error {
	cluster, err := s.repo.GetCluster(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCluster(ctx, id); err != nil {
		return err
	}
	if s.clients != nil {
		s.clients.Forget(id)
	}
	if s.board != nil {
		s.board.Remove(id)
	}
	metrics.ForgetCluster(cluster.Name)
	logger.Info("集群已删除: id=%d name=%s", id, cluster.Name)
	return nil
}

// CreateAddon 在集群上注册检查项，配置在写入前校验
func (s *ClusterService) CreateAddon(ctx context.Context, clusterID uint, addon *models.Addon) error {
	addon.Name = strings.TrimSpace(addon.Name)
	if addon.Name == "" {
		return fmt.Errorf("%w: 检查项名称不能为空", ErrInvalidInput)
	}
	if !addon.Type.Valid() {
		return fmt.Errorf("%w: 不支持的检查项类型 %q", ErrInvalidInput, addon.Type)
	}
	if err := checkers.ValidateConfig(addon.Type, addon.Config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.repo.GetCluster(ctx, clusterID); err != nil {
		return err
	}

	addon.ID = 0
	addon.ClusterID = clusterID
	addon.Status = ""
	addon.Details = nil
	addon.LastCheck = nil
	if err := s.repo.CreateAddon(ctx, addon); err != nil {
		logger.Error("注册检查项失败: %v", err)
		return err
	}
	logger.Info("检查项注册成功: cluster=%d name=%s type=%s", clusterID, addon.Name, addon.Type)
	return nil
}

// ListAddons 集群的检查项
func (s *ClusterService) ListAddons(ctx context.Context, clusterID uint) ([]models.Addon, error) {
	if _, err := s.repo.GetCluster(ctx, clusterID); err != nil {
		return nil, err
	}
	return s.repo.ListAddons(ctx, clusterID)
}

// DeleteAddon 删除检查项
func (s *ClusterService) DeleteAddon(ctx context.Context, id uint) error {
	return s.repo.DeleteAddon(ctx, id)
}
