package k8s

import (
	"fmt"
	"sync"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// ClientFactory 根据集群凭据创建客户端
type ClientFactory func(cluster *models.Cluster) (*Clients, error)

type cachedClients struct {
	clients     *Clients
	fingerprint string
}

// ClientManager 按集群缓存客户端，凭据变更后自动重建
type ClientManager struct {
	mu      sync.RWMutex
	clients map[uint]*cachedClients
	factory ClientFactory
}

// NewClientManager 使用默认工厂创建管理器
func NewClientManager() *ClientManager {
	return NewClientManagerWithFactory(NewClientsForCluster)
}

// NewClientManagerWithFactory 使用自定义工厂创建管理器（测试中注入 fake 客户端）
func NewClientManagerWithFactory(factory ClientFactory) *ClientManager {
	return &ClientManager{
		clients: make(map[uint]*cachedClients),
		factory: factory,
	}
}

// Get 返回集群的客户端，不存在或凭据已变化时重新创建
func (m *ClientManager) Get(cluster *models.Cluster) (*Clients, error) {
	fp := fingerprint(cluster)

	m.mu.RLock()
	entry, ok := m.clients[cluster.ID]
	m.mu.RUnlock()
	if ok && entry.fingerprint == fp {
		return entry.clients, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.clients[cluster.ID]; ok && entry.fingerprint == fp {
		return entry.clients, nil
	}

	clients, err := m.factory(cluster)
	if err != nil {
		return nil, fmt.Errorf("为集群 %s 创建客户端失败: %w", cluster.Name, err)
	}
	m.clients[cluster.ID] = &cachedClients{clients: clients, fingerprint: fp}
	logger.Debug("集群 %s 客户端已创建", cluster.Name)
	return clients, nil
}

// Forget 删除集群时释放缓存
func (m *ClientManager) Forget(clusterID uint) {
	m.mu.Lock()
	delete(m.clients, clusterID)
	m.mu.Unlock()
}

func fingerprint(c *models.Cluster) string {
	return fmt.Sprintf("%s|%s|%d", c.APIServer, c.KubeconfigPath, c.UpdatedAt.Truncate(time.Millisecond).UnixNano())
}
