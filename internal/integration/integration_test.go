// Package integration 提供集成测试框架
package integration

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/version"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/checkers"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/config"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/database"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/router"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

const testSecret = "integration-test-secret"

// IntegrationTestSuite 从 HTTP 接口到 SQLite 的完整链路，集群由模拟的 API Server 提供
type IntegrationTestSuite struct {
	suite.Suite
	apiServer  *httptest.Server
	router     *gin.Engine
	dispatcher *services.Dispatcher
	token      string
}

// fakeAPIServer 提供 /livez /version 与 3 个节点（1 个 NotReady）
func fakeAPIServer() *httptest.Server {
	nodes := corev1.NodeList{TypeMeta: metav1.TypeMeta{Kind: "NodeList", APIVersion: "v1"}}
	for i, ready := range []bool{true, true, false} {
		status := corev1.ConditionTrue
		if !ready {
			status = corev1.ConditionFalse
		}
		nodes.Items = append(nodes.Items, corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-" + string(rune('1'+i))},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: status}},
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version.Info{GitVersion: "v1.29.3"})
	})
	mux.HandleFunc("/api/v1/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(nodes)
	})
	return httptest.NewServer(mux)
}

// SetupSuite 测试套件开始前的设置
func (s *IntegrationTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	s.apiServer = fakeAPIServer()

	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	cfg.Ollama.Model = "llama3"

	db, err := database.Init(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(s.T().TempDir(), "monitor.db"),
	})
	s.Require().NoError(err)
	st := store.NewGormStore(db)

	board := services.NewStatusBoard()
	clients := k8s.NewClientManager()
	engine := services.NewHealthCheckService(st, st, clients, checkers.DefaultRegistry(), board, services.HealthCheckOptions{
		CheckerTimeout: 5 * time.Second,
		ClusterTimeout: 10 * time.Second,
	})
	s.dispatcher = services.NewDispatcher(engine, st, 2)

	prom, err := services.NewPrometheusService("http://127.0.0.1:1", time.Second)
	s.Require().NoError(err)

	s.router = router.Setup(cfg, router.Deps{
		Clusters:   services.NewClusterService(st, clients, board),
		Dashboard:  services.NewDashboardService(st, st, board, s.dispatcher),
		Cards:      services.NewMetricCardService(st, prom),
		Schedules:  services.NewScheduleService(st, st),
		Reports:    services.NewReportService(st),
		Dispatcher: s.dispatcher,
		Board:      board,
		Agent:      services.NewAgentService("http://127.0.0.1:1", "llama3", time.Second),
	})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "integration",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s.token, err = token.SignedString([]byte(testSecret))
	s.Require().NoError(err)
}

// TearDownSuite 测试套件结束后的清理
func (s *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.dispatcher != nil {
		_ = s.dispatcher.Shutdown(ctx)
	}
	if s.apiServer != nil {
		s.apiServer.Close()
	}
}

func (s *IntegrationTestSuite) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// TestDailyCheckFlow 注册集群、触发检查、查询状态、历史与报表
func (s *IntegrationTestSuite) TestDailyCheckFlow() {
	w := s.request(http.MethodPost, "/api/v1/clusters", map[string]string{
		"name":       "integration",
		"api_server": s.apiServer.URL,
		"token":      "test-token",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.request(http.MethodPost, "/api/v1/clusters/1/addons", map[string]string{
		"name": "nodes",
		"type": string(models.AddonNodeCheck),
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.request(http.MethodPost, "/api/v1/checks/clusters/1", nil)
	s.Require().Equal(http.StatusAccepted, w.Code, w.Body.String())

	var view struct {
		Data models.ClusterStatusView `json:"data"`
	}
	s.Require().Eventually(func() bool {
		w := s.request(http.MethodGet, "/api/v1/clusters/1/status", nil)
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &view) != nil {
			return false
		}
		return view.Data.Status != models.StatusUnknown
	}, 10*time.Second, 20*time.Millisecond)
	s.Equal(models.StatusWarning, view.Data.Status)
	s.Contains(view.Data.StatusMessage, "nodes: 2/3 nodes ready")
	s.NotEmpty(view.Data.LastBatchID)

	// 一条检查项记录加一条汇总记录，共享同一个 batch id
	var page struct {
		Data store.HistoryPage `json:"data"`
	}
	w = s.request(http.MethodGet, "/api/v1/history?cluster_id=1", nil)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &page))
	s.Equal(int64(2), page.Data.Total)
	for _, l := range page.Data.Items {
		s.Equal(view.Data.LastBatchID, l.BatchID)
	}

	w = s.request(http.MethodGet, "/api/v1/summary", nil)
	s.Contains(w.Body.String(), `"warning":1`)
	s.Contains(w.Body.String(), `"today_checks_count":1`)

	// 手动触发的检查记录为 manual
	w = s.request(http.MethodGet, "/api/v1/history?cluster_id=1&schedule_type=manual", nil)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &page))
	s.Equal(int64(2), page.Data.Total)

	// 外部服务不可用不影响集群状态
	s.Contains(s.request(http.MethodGet, "/api/v1/promql/health", nil).Body.String(), `"status":"offline"`)
	s.Equal(http.StatusOK, s.request(http.MethodGet, "/api/v1/agent/health", nil).Code)
	var after struct {
		Data models.ClusterStatusView `json:"data"`
	}
	w = s.request(http.MethodGet, "/api/v1/clusters/1/status", nil)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &after))
	s.Equal(view.Data.Status, after.Data.Status)
	s.Equal(view.Data.LastBatchID, after.Data.LastBatchID)

	w = s.request(http.MethodGet, "/api/v1/reports/daily?format=csv", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal([]string{"nodes", "integration"}, records[1][:2])
	s.Equal("warning", records[1][3])
	s.Equal("2/3", records[1][4])
	s.Equal("NotReady: node-3", records[1][5])
}

// TestPrometheusOfflineIsNotAnError 外部服务不可用时接口仍然成功
func (s *IntegrationTestSuite) TestPrometheusOfflineIsNotAnError() {
	w := s.request(http.MethodGet, "/api/v1/promql/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"status":"offline"`)
}

// TestIntegrationSuite 运行集成测试套件
func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
