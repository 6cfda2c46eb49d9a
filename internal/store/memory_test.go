package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

func seedCluster(t *testing.T, s *MemoryStore, name string, addons ...string) *models.Cluster {
	t.Helper()
	ctx := context.Background()
	c := &models.Cluster{Name: name, APIServer: "https://" + name + ":6443", Token: "t"}
	require.NoError(t, s.CreateCluster(ctx, c))
	for _, a := range addons {
		require.NoError(t, s.CreateAddon(ctx, &models.Addon{ClusterID: c.ID, Name: a, Type: models.AddonNodeCheck}))
	}
	return c
}

func TestHistoryQueryNormalize(t *testing.T) {
	assert.Equal(t, HistoryQuery{Page: 1, PageSize: 20}, HistoryQuery{}.Normalize())
	assert.Equal(t, HistoryQuery{Page: 3, PageSize: 100}, HistoryQuery{Page: 3, PageSize: 1000}.Normalize())
	assert.Equal(t, HistoryQuery{Page: 1, PageSize: 20}, HistoryQuery{Page: -2, PageSize: -1}.Normalize())
	assert.Equal(t, HistoryQuery{Page: 1, PageSize: 1}, HistoryQuery{PageSize: 1}.Normalize())
}

func TestMemoryStoreRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod", "nodes")

	err := s.CreateCluster(context.Background(), &models.Cluster{Name: "prod"})
	assert.True(t, errors.Is(err, ErrDuplicate))

	err = s.CreateAddon(context.Background(), &models.Addon{ClusterID: c.ID, Name: "nodes"})
	assert.True(t, errors.Is(err, ErrDuplicate))

	// 其他集群可以使用同名检查项
	other := seedCluster(t, s, "dev")
	assert.NoError(t, s.CreateAddon(context.Background(), &models.Addon{ClusterID: other.ID, Name: "nodes"}))

	err = s.CreateAddon(context.Background(), &models.Addon{ClusterID: 404, Name: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreCommitCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod", "nodes")
	addons, _ := s.ListAddons(ctx, c.ID)
	addonID := addons[0].ID

	checkedAt := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	batch := &models.CheckBatch{
		BatchID:   "batch-1",
		ClusterID: c.ID,
		Status:    models.StatusWarning,
		Message:   "nodes: 2/3 nodes ready",
		CheckedAt: checkedAt,
		Addons: []models.CheckResult{{
			AddonID: &addonID, Name: "nodes", Status: models.StatusWarning, ResponseTimeMs: 7,
			Details: &models.NodeDetails{TotalNodes: 3, ReadyNodes: 2},
		}},
		Logs: []models.CheckLog{
			{BatchID: "batch-1", ClusterID: c.ID, AddonID: &addonID, AddonName: "nodes", Status: models.StatusWarning, CheckedAt: checkedAt},
			{BatchID: "batch-1", ClusterID: c.ID, Status: models.StatusWarning, CheckedAt: checkedAt},
		},
	}
	require.NoError(t, s.CommitCheck(ctx, batch))

	got, err := s.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, got.Status)
	assert.Equal(t, "batch-1", got.LastBatchID)
	require.NotNil(t, got.LastCheckAt)
	assert.True(t, got.LastCheckAt.Equal(checkedAt))
	require.Len(t, got.Addons, 1)
	assert.Equal(t, int64(7), got.Addons[0].ResponseTimeMs)
	assert.Equal(t, "2", models.DetailValue(got.Addons[0].Details, "ready_nodes"))

	page, err := s.ListRecent(ctx, HistoryQuery{ClusterID: &c.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	// 集群不存在时不写入任何内容
	batch.ClusterID = 404
	assert.True(t, errors.Is(s.CommitCheck(ctx, batch), ErrNotFound))
	page, _ = s.ListRecent(ctx, HistoryQuery{})
	assert.Equal(t, int64(2), page.Total)
}

func TestMemoryStoreHistoryOrderingAndRetention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(5)
	a := seedCluster(t, s, "a")
	b := seedCluster(t, s, "b")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		cid := a.ID
		if i%2 == 1 {
			cid = b.ID
		}
		require.NoError(t, s.Append(ctx, models.CheckLog{
			ClusterID: cid,
			BatchID:   fmt.Sprintf("batch-%d", i),
			Status:    models.StatusHealthy,
			CheckedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, err := s.ListRecent(ctx, HistoryQuery{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "batch-7", page.Items[0].BatchID)
	assert.Equal(t, "batch-6", page.Items[1].BatchID)

	page, _ = s.ListRecent(ctx, HistoryQuery{Page: 3, PageSize: 2})
	require.Len(t, page.Items, 1)
	assert.Equal(t, "batch-3", page.Items[0].BatchID)

	page, _ = s.ListRecent(ctx, HistoryQuery{Page: 9})
	assert.Empty(t, page.Items)

	page, _ = s.ListRecent(ctx, HistoryQuery{ClusterID: &a.ID})
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, "batch-6", page.Items[0].BatchID)
}

func TestMemoryStoreDeleteClusterCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod", "nodes", "etcd")
	keep := seedCluster(t, s, "dev", "nodes")
	require.NoError(t, s.Append(ctx,
		models.CheckLog{ClusterID: c.ID, Status: models.StatusHealthy},
		models.CheckLog{ClusterID: keep.ID, Status: models.StatusHealthy},
	))

	require.NoError(t, s.DeleteCluster(ctx, c.ID))
	_, err := s.GetCluster(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	addons, _ := s.ListAddons(ctx, c.ID)
	assert.Empty(t, addons)
	page, _ := s.ListRecent(ctx, HistoryQuery{})
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, keep.ID, page.Items[0].ClusterID)

	assert.True(t, errors.Is(s.DeleteCluster(ctx, c.ID), ErrNotFound))
}

func TestMemoryStoreCards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.CreateCard(ctx, &models.MetricCard{Title: "cpu", SortOrder: 2, Enabled: true}))
	require.NoError(t, s.CreateCard(ctx, &models.MetricCard{Title: "mem", SortOrder: 1, Enabled: true}))
	require.NoError(t, s.CreateCard(ctx, &models.MetricCard{Title: "off", SortOrder: 0}))

	cards, err := s.ListCards(ctx, true)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "mem", cards[0].Title)

	all, _ := s.ListCards(ctx, false)
	assert.Len(t, all, 3)

	_, err = s.GetCard(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreUpdateClusterKeepsStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod")
	seedCluster(t, s, "dev")
	require.NoError(t, s.CommitCheck(ctx, &models.CheckBatch{
		BatchID: "b1", ClusterID: c.ID, Status: models.StatusWarning, Message: "slow", CheckedAt: time.Now(),
	}))

	update := *c
	update.Name = "prod-seoul"
	update.APIServer = "https://prod-seoul:6443"
	update.Status = models.StatusHealthy
	require.NoError(t, s.UpdateCluster(ctx, &update))

	got, err := s.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "prod-seoul", got.Name)
	assert.Equal(t, "https://prod-seoul:6443", got.APIServer)
	assert.Equal(t, models.StatusWarning, got.Status)
	assert.Equal(t, "b1", got.LastBatchID)

	update.Name = "dev"
	assert.True(t, errors.Is(s.UpdateCluster(ctx, &update), ErrDuplicate))
	assert.True(t, errors.Is(s.UpdateCluster(ctx, &models.Cluster{ID: 404, Name: "x"}), ErrNotFound))
}

func TestMemoryStoreCountRunsSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	a := seedCluster(t, s, "a")
	b := seedCluster(t, s, "b")
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	addonID := uint(9)

	require.NoError(t, s.Append(ctx,
		models.CheckLog{ClusterID: a.ID, Status: models.StatusHealthy, CheckedAt: midnight.Add(-time.Hour)},
		models.CheckLog{ClusterID: a.ID, Status: models.StatusHealthy, CheckedAt: midnight.Add(9 * time.Hour)},
		models.CheckLog{ClusterID: a.ID, AddonID: &addonID, AddonName: "nodes", Status: models.StatusHealthy, CheckedAt: midnight.Add(9 * time.Hour)},
		models.CheckLog{ClusterID: a.ID, Status: models.StatusWarning, CheckedAt: midnight.Add(13 * time.Hour)},
		models.CheckLog{ClusterID: b.ID, Status: models.StatusCritical, CheckedAt: midnight},
	))

	counts, err := s.CountRunsSince(ctx, midnight)
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{a.ID: 2, b.ID: 1}, counts)
}

func TestMemoryStoreHistoryFiltersByScheduleType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod")
	require.NoError(t, s.Append(ctx,
		models.CheckLog{ClusterID: c.ID, ScheduleType: models.ScheduleMorning, Status: models.StatusHealthy},
		models.CheckLog{ClusterID: c.ID, ScheduleType: models.ScheduleManual, Status: models.StatusHealthy},
	))

	page, err := s.ListRecent(ctx, HistoryQuery{ScheduleType: models.ScheduleManual})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, models.ScheduleManual, page.Items[0].ScheduleType)
}

func TestMemoryStoreSchedules(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	c := seedCluster(t, s, "prod")

	_, err := s.GetSchedule(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	first := &models.CheckSchedule{ClusterID: c.ID, IsActive: true, MorningTime: "08:00", MorningEnabled: true}
	require.NoError(t, s.SaveSchedule(ctx, first))
	second := &models.CheckSchedule{ClusterID: c.ID, IsActive: true, MorningTime: "07:30", MorningEnabled: true}
	require.NoError(t, s.SaveSchedule(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := s.GetSchedule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "07:30", got.MorningTime)

	all, _ := s.ListSchedules(ctx)
	assert.Len(t, all, 1)

	assert.True(t, errors.Is(s.SaveSchedule(ctx, &models.CheckSchedule{ClusterID: 404}), ErrNotFound))

	require.NoError(t, s.DeleteCluster(ctx, c.ID))
	all, _ = s.ListSchedules(ctx)
	assert.Empty(t, all)
}

func TestMemoryStoreUpdateAndDeleteCard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	card := &models.MetricCard{Title: "cpu", PromQL: "up", Enabled: true}
	require.NoError(t, s.CreateCard(ctx, card))

	card.Title = "CPU usage"
	card.Enabled = false
	require.NoError(t, s.UpdateCard(ctx, card))
	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "CPU usage", got.Title)
	assert.False(t, got.Enabled)

	require.NoError(t, s.DeleteCard(ctx, card.ID))
	assert.True(t, errors.Is(s.DeleteCard(ctx, card.ID), ErrNotFound))
	assert.True(t, errors.Is(s.UpdateCard(ctx, card), ErrNotFound))
}
