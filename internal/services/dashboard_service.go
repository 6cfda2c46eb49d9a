package services

import (
	"context"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// RunStateSource 进行中的检查状态
type RunStateSource interface {
	State(clusterID uint) (models.RunState, bool)
	LastError(clusterID uint) string
}

// DashboardService 汇总看板与历史查询
type DashboardService struct {
	repo    store.ClusterRepository
	history store.HistoryStore
	board   *StatusBoard
	runs    RunStateSource
	loc     *time.Location
	now     func() time.Time
}

// NewDashboardService 创建看板服务
func NewDashboardService(repo store.ClusterRepository, history store.HistoryStore, board *StatusBoard, runs RunStateSource) *DashboardService {
	return &DashboardService{repo: repo, history: history, board: board, runs: runs, loc: time.Local, now: time.Now}
}

// SetLocation 设置“今天”的时区，与定时检查一致
func (s *DashboardService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// todayCounts 今天零点以来每个集群完成的检查次数，统计失败时返回空
func (s *DashboardService) todayCounts(ctx context.Context) map[uint]int {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	counts, err := s.history.CountRunsSince(ctx, start)
	if err != nil {
		logger.Warn("统计今日检查次数失败: %v", err)
		return map[uint]int{}
	}
	return counts
}

// ClusterStatus 单集群状态视图
func (s *DashboardService) ClusterStatus(ctx context.Context, id uint) (*models.ClusterStatusView, error) {
	cluster, err := s.repo.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(cluster)
	v.TodayChecks = s.todayCounts(ctx)[id]
	return &v, nil
}

// view 优先使用内存看板，其次是已持久化的状态
func (s *DashboardService) view(c *models.Cluster) models.ClusterStatusView {
	v := models.ClusterStatusView{
		ClusterID:     c.ID,
		Name:          c.Name,
		Status:        c.DisplayStatus(),
		StatusMessage: c.StatusMessage,
		LastCheckAt:   c.LastCheckAt,
		LastBatchID:   c.LastBatchID,
	}
	if entry, ok := s.board.Get(c.ID); ok {
		checkedAt := entry.CheckedAt
		v.Status = entry.Status
		v.StatusMessage = entry.Message
		v.LastCheckAt = &checkedAt
		v.LastBatchID = entry.BatchID
	}
	if s.runs != nil {
		if state, ok := s.runs.State(c.ID); ok {
			v.RunState = state
		}
		v.LastError = s.runs.LastError(c.ID)
	}
	return v
}

// Summary 所有集群的状态统计，正在检查的集群同时计入 running
func (s *DashboardService) Summary(ctx context.Context) (*models.Summary, error) {
	clusters, err := s.repo.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	sum := &models.Summary{TotalClusters: len(clusters)}
	counts := s.todayCounts(ctx)
	for i := range clusters {
		sum.TodayChecks += counts[clusters[i].ID]
		v := s.view(&clusters[i])
		switch v.Status {
		case models.StatusHealthy:
			sum.Healthy++
		case models.StatusWarning:
			sum.Warning++
		case models.StatusCritical:
			sum.Critical++
		default:
			sum.Unknown++
		}
		if v.RunState == models.RunRunning || v.RunState == models.RunPending {
			sum.Running++
		}
	}
	return sum, nil
}

// ListStatuses 所有集群的状态视图
func (s *DashboardService) ListStatuses(ctx context.Context) ([]models.ClusterStatusView, error) {
	clusters, err := s.repo.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	counts := s.todayCounts(ctx)
	views := make([]models.ClusterStatusView, 0, len(clusters))
	for i := range clusters {
		v := s.view(&clusters[i])
		v.TodayChecks = counts[clusters[i].ID]
		views = append(views, v)
	}
	return views, nil
}

// History 分页查询历史，按检查时间倒序
func (s *DashboardService) History(ctx context.Context, q store.HistoryQuery) (*store.HistoryPage, error) {
	return s.history.ListRecent(ctx, q)
}
