package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// DefaultRetention 内存历史默认保留条数
const DefaultRetention = 1000

// MemoryStore 进程内存储，database.driver=memory 与测试使用
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	nextID    uint

	clusters  map[uint]*models.Cluster
	addons    map[uint]*models.Addon
	logs      []models.CheckLog // 按写入顺序
	cards     map[uint]*models.MetricCard
	schedules map[uint]*models.CheckSchedule
}

// NewMemoryStore 创建内存存储，retention<=0 时使用默认值
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		clusters:  make(map[uint]*models.Cluster),
		addons:    make(map[uint]*models.Addon),
		cards:     make(map[uint]*models.MetricCard),
		schedules: make(map[uint]*models.CheckSchedule),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// CreateCluster 创建集群
func (s *MemoryStore) CreateCluster(_ context.Context, cluster *models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clusters {
		if c.Name == cluster.Name {
			return fmt.Errorf("创建集群失败: %s: %w", cluster.Name, ErrDuplicate)
		}
	}
	now := time.Now()
	cluster.ID = s.id()
	cluster.CreatedAt, cluster.UpdatedAt = now, now
	stored := *cluster
	stored.Addons = nil
	s.clusters[cluster.ID] = &stored
	return nil
}

// GetCluster 获取集群及其检查项的副本
func (s *MemoryStore) GetCluster(_ context.Context, id uint) (*models.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("获取集群失败: 集群 %d: %w", id, ErrNotFound)
	}
	out := *c
	out.Addons = s.addonsOf(id)
	return &out, nil
}

// ListClusters 获取所有集群
func (s *MemoryStore) ListClusters(_ context.Context) ([]models.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateCluster 更新注册信息，保留检查状态
func (s *MemoryStore) UpdateCluster(_ context.Context, cluster *models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[cluster.ID]
	if !ok {
		return fmt.Errorf("集群 %d: %w", cluster.ID, ErrNotFound)
	}
	for id, other := range s.clusters {
		if id != cluster.ID && other.Name == cluster.Name {
			return fmt.Errorf("更新集群失败: %s: %w", cluster.Name, ErrDuplicate)
		}
	}
	c.Name = cluster.Name
	c.Description = cluster.Description
	c.APIServer = cluster.APIServer
	c.Kubeconfig = cluster.Kubeconfig
	c.KubeconfigPath = cluster.KubeconfigPath
	c.Token = cluster.Token
	c.CACert = cluster.CACert
	c.UpdatedAt = time.Now()
	return nil
}

// DeleteCluster 删除集群及其检查项、定时设置与历史
func (s *MemoryStore) DeleteCluster(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[id]; !ok {
		return fmt.Errorf("集群 %d: %w", id, ErrNotFound)
	}
	delete(s.clusters, id)
	delete(s.schedules, id)
	for aid, a := range s.addons {
		if a.ClusterID == id {
			delete(s.addons, aid)
		}
	}
	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.ClusterID != id {
			kept = append(kept, l)
		}
	}
	s.logs = kept
	return nil
}

// CreateAddon 注册检查项，同一集群内名称唯一
func (s *MemoryStore) CreateAddon(_ context.Context, addon *models.Addon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[addon.ClusterID]; !ok {
		return fmt.Errorf("集群 %d: %w", addon.ClusterID, ErrNotFound)
	}
	for _, a := range s.addons {
		if a.ClusterID == addon.ClusterID && a.Name == addon.Name {
			return fmt.Errorf("创建检查项失败: %s: %w", addon.Name, ErrDuplicate)
		}
	}
	now := time.Now()
	addon.ID = s.id()
	addon.CreatedAt, addon.UpdatedAt = now, now
	stored := *addon
	s.addons[addon.ID] = &stored
	return nil
}

// ListAddons 获取集群的检查项
func (s *MemoryStore) ListAddons(_ context.Context, clusterID uint) ([]models.Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addonsOf(clusterID), nil
}

func (s *MemoryStore) addonsOf(clusterID uint) []models.Addon {
	var out []models.Addon
	for _, a := range s.addons {
		if a.ClusterID == clusterID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteAddon 删除检查项
func (s *MemoryStore) DeleteAddon(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addons[id]; !ok {
		return fmt.Errorf("检查项 %d: %w", id, ErrNotFound)
	}
	delete(s.addons, id)
	return nil
}

// CommitCheck 持锁一次性写入，要么全部生效要么全部不生效
func (s *MemoryStore) CommitCheck(_ context.Context, batch *models.CheckBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cluster, ok := s.clusters[batch.ClusterID]
	if !ok {
		return fmt.Errorf("集群 %d: %w", batch.ClusterID, ErrNotFound)
	}

	checkedAt := batch.CheckedAt
	cluster.Status = batch.Status
	cluster.StatusMessage = batch.Message
	cluster.LastBatchID = batch.BatchID
	cluster.LastCheckAt = &checkedAt

	for _, r := range batch.Addons {
		if r.AddonID == nil {
			continue
		}
		a, ok := s.addons[*r.AddonID]
		if !ok || a.ClusterID != batch.ClusterID {
			continue
		}
		a.Status = r.Status
		a.Message = r.Message
		a.ResponseTimeMs = r.ResponseTimeMs
		a.Details = r.Details
		a.LastCheck = &checkedAt
	}
	s.appendLocked(batch.Logs)
	return nil
}

// Append 写入历史记录
func (s *MemoryStore) Append(_ context.Context, logs ...models.CheckLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(logs)
	return nil
}

func (s *MemoryStore) appendLocked(logs []models.CheckLog) {
	for _, l := range logs {
		l.ID = s.id()
		s.logs = append(s.logs, l)
	}
	if over := len(s.logs) - s.retention; over > 0 {
		s.logs = append([]models.CheckLog(nil), s.logs[over:]...)
	}
}

// ListRecent 最新的在前
func (s *MemoryStore) ListRecent(_ context.Context, q HistoryQuery) (*HistoryPage, error) {
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.CheckLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if q.ClusterID != nil && l.ClusterID != *q.ClusterID {
			continue
		}
		if q.ScheduleType != "" && l.ScheduleType != q.ScheduleType {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CheckedAt.After(matched[j].CheckedAt) })

	page := &HistoryPage{Total: int64(len(matched)), Page: q.Page, PageSize: q.PageSize, Items: []models.CheckLog{}}
	if start := q.offset(); start < len(matched) {
		end := start + q.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[start:end]
	}
	return page, nil
}

// CountRunsSince 按集群统计 since 之后的汇总记录数
func (s *MemoryStore) CountRunsSince(_ context.Context, since time.Time) (map[uint]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[uint]int)
	for i := range s.logs {
		l := &s.logs[i]
		if l.IsSummary() && !l.CheckedAt.Before(since) {
			counts[l.ClusterID]++
		}
	}
	return counts, nil
}

// ListCards 获取卡片
func (s *MemoryStore) ListCards(_ context.Context, enabledOnly bool) ([]models.MetricCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MetricCard
	for _, c := range s.cards {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetCard 获取单个卡片
func (s *MemoryStore) GetCard(_ context.Context, id uint) (*models.MetricCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("获取卡片失败: 卡片 %d: %w", id, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// CreateCard 创建卡片
func (s *MemoryStore) CreateCard(_ context.Context, card *models.MetricCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	card.ID = s.id()
	card.CreatedAt, card.UpdatedAt = now, now
	stored := *card
	s.cards[card.ID] = &stored
	return nil
}

// UpdateCard 覆盖保存卡片
func (s *MemoryStore) UpdateCard(_ context.Context, card *models.MetricCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[card.ID]; !ok {
		return fmt.Errorf("卡片 %d: %w", card.ID, ErrNotFound)
	}
	card.UpdatedAt = time.Now()
	stored := *card
	s.cards[card.ID] = &stored
	return nil
}

// DeleteCard 删除卡片
func (s *MemoryStore) DeleteCard(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[id]; !ok {
		return fmt.Errorf("卡片 %d: %w", id, ErrNotFound)
	}
	delete(s.cards, id)
	return nil
}

// GetSchedule 获取集群的定时设置
func (s *MemoryStore) GetSchedule(_ context.Context, clusterID uint) (*models.CheckSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[clusterID]
	if !ok {
		return nil, fmt.Errorf("获取定时设置失败: 集群 %d 的定时设置: %w", clusterID, ErrNotFound)
	}
	out := *sc
	return &out, nil
}

// SaveSchedule 不存在时创建，存在时覆盖
func (s *MemoryStore) SaveSchedule(_ context.Context, schedule *models.CheckSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[schedule.ClusterID]; !ok {
		return fmt.Errorf("集群 %d: %w", schedule.ClusterID, ErrNotFound)
	}
	now := time.Now()
	if existing, ok := s.schedules[schedule.ClusterID]; ok {
		schedule.ID = existing.ID
		schedule.CreatedAt = existing.CreatedAt
	} else {
		schedule.ID = s.id()
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	stored := *schedule
	s.schedules[schedule.ClusterID] = &stored
	return nil
}

// ListSchedules 全部定时设置，按集群 ID 排序
func (s *MemoryStore) ListSchedules(_ context.Context) ([]models.CheckSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CheckSchedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
