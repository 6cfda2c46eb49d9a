package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

// gatedRunner 在 gate 关闭前阻塞检查
type gatedRunner struct{ gate chan struct{} }

func (r *gatedRunner) RunCheckWithID(ctx context.Context, runID string, clusterID uint, scheduleType models.ScheduleType) (*models.CheckRun, error) {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.CheckRun{RunID: runID, ClusterID: clusterID, ScheduleType: scheduleType, State: models.RunSucceeded, Status: models.StatusHealthy}, nil
}

func newCheckRouter(t *testing.T) (*gin.Engine, *store.MemoryStore, *services.Dispatcher, *gatedRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ms := store.NewMemoryStore(0)
	runner := &gatedRunner{gate: make(chan struct{})}
	d := services.NewDispatcher(runner, ms, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	h := NewCheckHandler(d, ms)
	r := gin.New()
	r.POST("/checks/clusters/:clusterID", h.TriggerCluster)
	r.POST("/checks/clusters", h.TriggerAll)
	return r, ms, d, runner
}

func post(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerCluster(t *testing.T) {
	r, ms, _, runner := newCheckRouter(t)
	require.NoError(t, ms.CreateCluster(context.Background(), &models.Cluster{Name: "prod", KubeconfigPath: "/k/prod"}))

	w := post(r, "/checks/clusters/1")
	require.Equal(t, http.StatusAccepted, w.Code)
	var first struct {
		Data services.Ticket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.NotEmpty(t, first.Data.RunID)

	// 同一集群已有检查在执行
	w = post(r, "/checks/clusters/1")
	require.Equal(t, http.StatusConflict, w.Code)
	var second struct {
		Data services.Ticket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.Data.RunID, second.Data.RunID)

	assert.Equal(t, http.StatusNotFound, post(r, "/checks/clusters/9").Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/checks/clusters/x").Code)
	close(runner.gate)
}

func TestTriggerAll(t *testing.T) {
	r, ms, d, runner := newCheckRouter(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, ms.CreateCluster(ctx, &models.Cluster{Name: n, KubeconfigPath: "/k/" + n}))
	}
	_, err := d.RunCheck(2)
	require.NoError(t, err)

	w := post(r, "/checks/clusters")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Data struct {
			Accepted     int                   `json:"accepted"`
			Total        int                   `json:"total"`
			ScheduleType models.ScheduleType   `json:"schedule_type"`
			Entries      []services.BatchEntry `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Accepted)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, models.ScheduleManual, resp.Data.ScheduleType)
	assert.False(t, resp.Data.Entries[1].Accepted)
	assert.True(t, resp.Data.Entries[1].Skipped)
	assert.True(t, strings.HasPrefix(resp.Data.Entries[1].Reason, "skipped"))
	close(runner.gate)
}
