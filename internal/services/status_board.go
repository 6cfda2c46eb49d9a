package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// BoardEntry 一个集群最近一次成功提交的完整结果
type BoardEntry struct {
	ClusterID uint                 `json:"cluster_id"`
	Status    models.HealthStatus  `json:"status"`
	Message   string               `json:"message"`
	BatchID   string               `json:"batch_id"`
	StartedAt time.Time            `json:"-"`
	CheckedAt time.Time            `json:"checked_at"`
	Results   []models.CheckResult `json:"results"`
}

// StatusBoard 当前状态看板
// 写入方复制整张表后原子替换，读取方拿到的总是某次完整提交后的快照
type StatusBoard struct {
	mu       sync.Mutex // 串行化写入
	snapshot atomic.Pointer[map[uint]BoardEntry]
	removed  map[uint]time.Time
	now      func() time.Time
}

// NewStatusBoard 创建空看板
func NewStatusBoard() *StatusBoard {
	b := &StatusBoard{removed: make(map[uint]time.Time), now: time.Now}
	empty := map[uint]BoardEntry{}
	b.snapshot.Store(&empty)
	return b
}

// Publish 替换一个集群的结果
// 集群在本次检查开始后被删除时丢弃结果并返回 false
func (b *StatusBoard) Publish(entry BoardEntry) bool {
	entry.Results = append([]models.CheckResult(nil), entry.Results...)
	b.mu.Lock()
	defer b.mu.Unlock()
	if at, ok := b.removed[entry.ClusterID]; ok {
		if !entry.StartedAt.After(at) {
			return false
		}
		delete(b.removed, entry.ClusterID)
	}
	b.update(func(next map[uint]BoardEntry) {
		next[entry.ClusterID] = entry
	})
	return true
}

// Remove 集群删除后移除，并记下删除时间
func (b *StatusBoard) Remove(clusterID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[clusterID] = b.now()
	b.update(func(next map[uint]BoardEntry) {
		delete(next, clusterID)
	})
}

// update 调用方需持有 mu
func (b *StatusBoard) update(mutate func(map[uint]BoardEntry)) {
	cur := *b.snapshot.Load()
	next := make(map[uint]BoardEntry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	mutate(next)
	b.snapshot.Store(&next)
}

// Get 读取单个集群，不阻塞写入方
func (b *StatusBoard) Get(clusterID uint) (BoardEntry, bool) {
	e, ok := (*b.snapshot.Load())[clusterID]
	return e, ok
}

// Snapshot 当前快照，调用方不得修改
func (b *StatusBoard) Snapshot() map[uint]BoardEntry {
	return *b.snapshot.Load()
}
