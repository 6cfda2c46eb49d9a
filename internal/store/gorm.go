package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// GormStore 基于 gorm 的持久化实现，MySQL 与 SQLite 共用
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 gorm 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error, notFound string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", notFound, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", notFound, ErrDuplicate)
	}
	return err
}

// CreateCluster 创建集群
func (s *GormStore) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	if err := s.db.WithContext(ctx).Create(cluster).Error; err != nil {
		return fmt.Errorf("创建集群失败: %w", translate(err, cluster.Name))
	}
	return nil
}

// GetCluster 获取集群并预加载检查项
func (s *GormStore) GetCluster(ctx context.Context, id uint) (*models.Cluster, error) {
	var cluster models.Cluster
	err := s.db.WithContext(ctx).Preload("Addons", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id ASC")
	}).First(&cluster, id).Error
	if err != nil {
		return nil, fmt.Errorf("获取集群失败: %w", translate(err, fmt.Sprintf("集群 %d", id)))
	}
	return &cluster, nil
}

// ListClusters 获取所有集群（不含检查项）
func (s *GormStore) ListClusters(ctx context.Context) ([]models.Cluster, error) {
	var clusters []models.Cluster
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&clusters).Error; err != nil {
		return nil, fmt.Errorf("获取集群列表失败: %w", err)
	}
	return clusters, nil
}

// UpdateCluster 更新集群注册信息，状态列由检查结果维护
func (s *GormStore) UpdateCluster(ctx context.Context, cluster *models.Cluster) error {
	err := s.db.WithContext(ctx).Model(&models.Cluster{}).Where("id = ?", cluster.ID).Updates(map[string]interface{}{
		"name":            cluster.Name,
		"description":     cluster.Description,
		"api_server":      cluster.APIServer,
		"kubeconfig":      cluster.Kubeconfig,
		"kubeconfig_path": cluster.KubeconfigPath,
		"token":           cluster.Token,
		"ca_cert":         cluster.CACert,
	}).Error
	if err != nil {
		return fmt.Errorf("更新集群失败: %w", translate(err, cluster.Name))
	}
	return nil
}

// DeleteCluster 删除集群及其检查项、定时设置与历史
func (s *GormStore) DeleteCluster(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SQLite 默认不开启外键，级联由代码保证
		if err := tx.Where("cluster_id = ?", id).Delete(&models.CheckLog{}).Error; err != nil {
			return fmt.Errorf("删除检查历史失败: %w", err)
		}
		if err := tx.Where("cluster_id = ?", id).Delete(&models.CheckSchedule{}).Error; err != nil {
			return fmt.Errorf("删除定时设置失败: %w", err)
		}
		if err := tx.Where("cluster_id = ?", id).Delete(&models.Addon{}).Error; err != nil {
			return fmt.Errorf("删除检查项失败: %w", err)
		}
		res := tx.Delete(&models.Cluster{}, id)
		if res.Error != nil {
			return fmt.Errorf("删除集群失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("集群 %d: %w", id, ErrNotFound)
		}
		logger.Info("集群删除成功: id=%d", id)
		return nil
	})
}

// CreateAddon 注册检查项
func (s *GormStore) CreateAddon(ctx context.Context, addon *models.Addon) error {
	if err := s.db.WithContext(ctx).Create(addon).Error; err != nil {
		return fmt.Errorf("创建检查项失败: %w", translate(err, addon.Name))
	}
	return nil
}

// ListAddons 获取集群的检查项
func (s *GormStore) ListAddons(ctx context.Context, clusterID uint) ([]models.Addon, error) {
	var addons []models.Addon
	if err := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).Order("id ASC").Find(&addons).Error; err != nil {
		return nil, fmt.Errorf("获取检查项失败: %w", err)
	}
	return addons, nil
}

// DeleteAddon 删除检查项，历史记录保留
func (s *GormStore) DeleteAddon(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Addon{}, id)
	if res.Error != nil {
		return fmt.Errorf("删除检查项失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("检查项 %d: %w", id, ErrNotFound)
	}
	return nil
}

// CommitCheck 在一个事务中写入集群状态、检查项状态与历史记录
func (s *GormStore) CommitCheck(ctx context.Context, batch *models.CheckBatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Cluster{}).Where("id = ?", batch.ClusterID).Updates(map[string]interface{}{
			"status":         batch.Status,
			"status_message": batch.Message,
			"last_batch_id":  batch.BatchID,
			"last_check_at":  batch.CheckedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("更新集群状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("集群 %d: %w", batch.ClusterID, ErrNotFound)
		}

		for _, r := range batch.Addons {
			if r.AddonID == nil {
				continue
			}
			details := ""
			if r.Details != nil {
				data, err := json.Marshal(r.Details)
				if err != nil {
					return fmt.Errorf("序列化检查详情失败: %w", err)
				}
				details = string(data)
			}
			err := tx.Model(&models.Addon{}).
				Where("id = ? AND cluster_id = ?", *r.AddonID, batch.ClusterID).
				Updates(map[string]interface{}{
					"status":           r.Status,
					"message":          r.Message,
					"response_time_ms": r.ResponseTimeMs,
					"details":          details,
					"last_check":       batch.CheckedAt,
				}).Error
			if err != nil {
				return fmt.Errorf("更新检查项 %s 失败: %w", r.Name, err)
			}
		}

		if len(batch.Logs) > 0 {
			if err := tx.Create(&batch.Logs).Error; err != nil {
				return fmt.Errorf("写入检查历史失败: %w", err)
			}
		}
		return nil
	})
}

// Append 写入历史记录
func (s *GormStore) Append(ctx context.Context, logs ...models.CheckLog) error {
	if len(logs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&logs).Error; err != nil {
		return fmt.Errorf("写入检查历史失败: %w", err)
	}
	return nil
}

// ListRecent 按时间倒序分页查询历史
func (s *GormStore) ListRecent(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	q = q.Normalize()
	query := s.db.WithContext(ctx).Model(&models.CheckLog{})
	if q.ClusterID != nil {
		query = query.Where("cluster_id = ?", *q.ClusterID)
	}
	if q.ScheduleType != "" {
		query = query.Where("schedule_type = ?", q.ScheduleType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计检查历史失败: %w", err)
	}

	var items []models.CheckLog
	if err := query.Order("checked_at DESC").Order("id DESC").Offset(q.offset()).Limit(q.PageSize).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("查询检查历史失败: %w", err)
	}
	return &HistoryPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// CountRunsSince 按集群统计 since 之后的汇总记录数
func (s *GormStore) CountRunsSince(ctx context.Context, since time.Time) (map[uint]int, error) {
	var rows []struct {
		ClusterID uint
		Runs      int
	}
	err := s.db.WithContext(ctx).Model(&models.CheckLog{}).
		Select("cluster_id, count(*) AS runs").
		Where("addon_id IS NULL AND addon_name = ? AND checked_at >= ?", "", since).
		Group("cluster_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计检查次数失败: %w", err)
	}
	counts := make(map[uint]int, len(rows))
	for _, r := range rows {
		counts[r.ClusterID] = r.Runs
	}
	return counts, nil
}

// ListCards 获取卡片，按 sort_order 排序
func (s *GormStore) ListCards(ctx context.Context, enabledOnly bool) ([]models.MetricCard, error) {
	query := s.db.WithContext(ctx).Model(&models.MetricCard{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	var cards []models.MetricCard
	if err := query.Order("sort_order ASC").Order("id ASC").Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("获取卡片列表失败: %w", err)
	}
	return cards, nil
}

// GetCard 获取单个卡片
func (s *GormStore) GetCard(ctx context.Context, id uint) (*models.MetricCard, error) {
	var card models.MetricCard
	if err := s.db.WithContext(ctx).First(&card, id).Error; err != nil {
		return nil, fmt.Errorf("获取卡片失败: %w", translate(err, fmt.Sprintf("卡片 %d", id)))
	}
	return &card, nil
}

// CreateCard 创建卡片
func (s *GormStore) CreateCard(ctx context.Context, card *models.MetricCard) error {
	if err := s.db.WithContext(ctx).Create(card).Error; err != nil {
		return fmt.Errorf("创建卡片失败: %w", err)
	}
	return nil
}

// UpdateCard 覆盖保存卡片
func (s *GormStore) UpdateCard(ctx context.Context, card *models.MetricCard) error {
	if err := s.db.WithContext(ctx).Save(card).Error; err != nil {
		return fmt.Errorf("更新卡片失败: %w", err)
	}
	return nil
}

// DeleteCard 删除卡片
func (s *GormStore) DeleteCard(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.MetricCard{}, id)
	if res.Error != nil {
		return fmt.Errorf("删除卡片失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("卡片 %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetSchedule 获取集群的定时设置
func (s *GormStore) GetSchedule(ctx context.Context, clusterID uint) (*models.CheckSchedule, error) {
	var schedule models.CheckSchedule
	if err := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).First(&schedule).Error; err != nil {
		return nil, fmt.Errorf("获取定时设置失败: %w", translate(err, fmt.Sprintf("集群 %d 的定时设置", clusterID)))
	}
	return &schedule, nil
}

// SaveSchedule 每个集群只有一条定时设置，已存在时覆盖
func (s *GormStore) SaveSchedule(ctx context.Context, schedule *models.CheckSchedule) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CheckSchedule
		err := tx.Where("cluster_id = ?", schedule.ClusterID).First(&existing).Error
		switch {
		case err == nil:
			schedule.ID = existing.ID
			schedule.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			schedule.ID = 0
		default:
			return fmt.Errorf("获取定时设置失败: %w", err)
		}
		if err := tx.Save(schedule).Error; err != nil {
			return fmt.Errorf("保存定时设置失败: %w", err)
		}
		return nil
	})
}

// ListSchedules 全部定时设置
func (s *GormStore) ListSchedules(ctx context.Context) ([]models.CheckSchedule, error) {
	var schedules []models.CheckSchedule
	if err := s.db.WithContext(ctx).Order("cluster_id ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("获取定时设置失败: %w", err)
	}
	return schedules, nil
}

var _ Store = (*GormStore)(nil)
