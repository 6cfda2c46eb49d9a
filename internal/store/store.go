package store

import (
	"context"
	"errors"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrDuplicate 名称重复
	ErrDuplicate = errors.New("名称已存在")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClusterRepository 集群与检查项的注册信息
type ClusterRepository interface {
	CreateCluster(ctx context.Context, cluster *models.Cluster) error
	// GetCluster 返回集群及其检查项
	GetCluster(ctx context.Context, id uint) (*models.Cluster, error)
	ListClusters(ctx context.Context) ([]models.Cluster, error)
	// UpdateCluster 只更新注册信息，不触碰检查状态
	UpdateCluster(ctx context.Context, cluster *models.Cluster) error
	DeleteCluster(ctx context.Context, id uint) error

	CreateAddon(ctx context.Context, addon *models.Addon) error
	ListAddons(ctx context.Context, clusterID uint) ([]models.Addon, error)
	DeleteAddon(ctx context.Context, id uint) error
}

// CheckCommitter 原子提交一次检查的全部结果
type CheckCommitter interface {
	CommitCheck(ctx context.Context, batch *models.CheckBatch) error
}

// HistoryStore 检查历史
type HistoryStore interface {
	Append(ctx context.Context, logs ...models.CheckLog) error
	ListRecent(ctx context.Context, q HistoryQuery) (*HistoryPage, error)
	// CountRunsSince 每个集群自 since 起完成的检查次数（按汇总记录计）
	CountRunsSince(ctx context.Context, since time.Time) (map[uint]int, error)
}

// MetricCardRepository PromQL 卡片
type MetricCardRepository interface {
	ListCards(ctx context.Context, enabledOnly bool) ([]models.MetricCard, error)
	GetCard(ctx context.Context, id uint) (*models.MetricCard, error)
	CreateCard(ctx context.Context, card *models.MetricCard) error
	UpdateCard(ctx context.Context, card *models.MetricCard) error
	DeleteCard(ctx context.Context, id uint) error
}

// ScheduleRepository 集群自定义检查时间
type ScheduleRepository interface {
	GetSchedule(ctx context.Context, clusterID uint) (*models.CheckSchedule, error)
	// SaveSchedule 不存在时创建，存在时覆盖
	SaveSchedule(ctx context.Context, schedule *models.CheckSchedule) error
	ListSchedules(ctx context.Context) ([]models.CheckSchedule, error)
}

// Store 完整的存储层
type Store interface {
	ClusterRepository
	CheckCommitter
	HistoryStore
	MetricCardRepository
	ScheduleRepository
}

// HistoryQuery 历史查询条件
type HistoryQuery struct {
	ClusterID    *uint
	ScheduleType models.ScheduleType
	Page         int
	PageSize     int
}

// Normalize 页码从 1 开始，page_size 限制在 [1, 100]，默认 20
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	return q
}

func (q HistoryQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

// HistoryPage 按时间倒序的一页历史
type HistoryPage struct {
	Items    []models.CheckLog `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
