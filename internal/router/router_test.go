package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/config"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

func newTestEngine(secret string, ready func(context.Context) error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	ms := store.NewMemoryStore(0)
	board := services.NewStatusBoard()
	clusters := services.NewClusterService(ms, nil, board)
	dispatcher := services.NewDispatcher(nil, ms, 1)

	cfg := &config.Config{}
	cfg.JWT.Secret = secret
	cfg.Ollama.Model = "llama3"
	return Setup(cfg, Deps{
		Clusters:   clusters,
		Dashboard:  services.NewDashboardService(ms, ms, board, dispatcher),
		Cards:      services.NewMetricCardService(ms, nil),
		Schedules:  services.NewScheduleService(ms, ms),
		Reports:    services.NewReportService(ms),
		Dispatcher: dispatcher,
		Board:      board,
		Agent:      services.NewAgentService("http://127.0.0.1:1", "llama3", 0),
		Ready:      ready,
	})
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	r := newTestEngine("", nil)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz").Code)

	w := serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "daily_monitor_inflight_checks")

	down := newTestEngine("", func(context.Context) error { return errors.New("database is closed") })
	w = serve(down, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database is closed")
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	r := newTestEngine("secret", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/checks/clusters").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/clusters").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodDelete, "/api/v1/addons/1").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPut, "/api/v1/clusters/1").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPut, "/api/v1/clusters/1/schedule").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPut, "/api/v1/promql/cards/1").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodDelete, "/api/v1/promql/cards/1").Code)

	// 只读接口不需要令牌
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/summary").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/clusters").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/clusters/status").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/clusters/3/status").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/clusters/3").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/clusters/3/schedule").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/promql/cards/3").Code)
}
