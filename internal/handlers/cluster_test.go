package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

type recordingRuns struct{ forgotten []uint }

func (r *recordingRuns) Forget(id uint) { r.forgotten = append(r.forgotten, id) }

// ClusterHandlerTestSuite 定义集群处理器测试套件
type ClusterHandlerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	mock    sqlmock.Sqlmock
	router  *gin.Engine
	runs    *recordingRuns
	handler *ClusterHandler
}

// SetupTest 每个测试前的设置
func (s *ClusterHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	s.Require().NoError(err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)

	s.db = gormDB
	s.mock = mock
	s.runs = &recordingRuns{}

	svc := services.NewClusterService(store.NewGormStore(gormDB), nil, services.NewStatusBoard())
	s.handler = NewClusterHandler(svc, s.runs)

	s.router = gin.New()
	s.router.GET("/api/v1/clusters", s.handler.GetClusters)
	s.router.POST("/api/v1/clusters", s.handler.CreateCluster)
	s.router.DELETE("/api/v1/clusters/:clusterID", s.handler.DeleteCluster)
}

// TearDownTest 每个测试后的清理
func (s *ClusterHandlerTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	if s.db != nil {
		sqlDB, _ := s.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}
}

// TestGetClusters 测试获取集群列表
func (s *ClusterHandlerTestSuite) TestGetClusters() {
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "api_server", "status", "last_check_at", "created_at"}).
		AddRow(1, "prod", "https://prod:6443", "warning", now, now).
		AddRow(2, "dev", "https://dev:6443", "", nil, now)
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).WillReturnRows(rows)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/clusters", nil)
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusOK, w.Code)
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Items []map[string]interface{} `json:"items"`
			Total int                      `json:"total"`
		} `json:"data"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(200, resp.Code)
	s.Equal(2, resp.Data.Total)
	s.Equal("warning", resp.Data.Items[0]["status"])
	// 从未检查过的集群显示为 unknown
	s.Equal("unknown", resp.Data.Items[1]["status"])
	s.NotContains(resp.Data.Items[1], "last_check_at")
}

// TestCreateCluster_BadRequest 缺少名称或凭据
func (s *ClusterHandlerTestSuite) TestCreateCluster_BadRequest() {
	for _, body := range []string{`{}`, `{"name":"prod"}`, `not json`} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/clusters", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code, body)
	}
}

// TestCreateCluster 注册集群
func (s *ClusterHandlerTestSuite) TestCreateCluster() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `clusters`")).
		WillReturnResult(sqlmock.NewResult(5, 1))
	s.mock.ExpectCommit()

	w := httptest.NewRecorder()
	body := `{"name":"prod","api_server":"https://prod:6443","token":"secret-token"}`
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/clusters", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusCreated, w.Code)
	// 凭据不回显
	s.NotContains(w.Body.String(), "secret-token")
	s.Contains(w.Body.String(), `"id":5`)
}

// TestDeleteCluster_NotFound 删除不存在的集群
func (s *ClusterHandlerTestSuite) TestDeleteCluster_NotFound() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/api/v1/clusters/999", nil)
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusNotFound, w.Code)
	s.Empty(s.runs.forgotten)
}

// TestDeleteCluster_InvalidID 测试无效的集群ID
func (s *ClusterHandlerTestSuite) TestDeleteCluster_InvalidID() {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/api/v1/clusters/abc", nil)
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusBadRequest, w.Code)
}

// TestClusterHandlerSuite 运行测试套件
func TestClusterHandlerSuite(t *testing.T) {
	suite.Run(t, new(ClusterHandlerTestSuite))
}

func TestAddonRoutesWithMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ms := store.NewMemoryStore(0)
	runs := &recordingRuns{}
	h := NewClusterHandler(services.NewClusterService(ms, nil, services.NewStatusBoard()), runs)

	r := gin.New()
	r.POST("/clusters/:clusterID/addons", h.CreateAddon)
	r.GET("/clusters/:clusterID/addons", h.ListAddons)
	r.DELETE("/addons/:addonID", h.DeleteAddon)
	r.DELETE("/clusters/:clusterID", h.DeleteCluster)

	c := &models.Cluster{Name: "prod", KubeconfigPath: "/etc/kube/prod"}
	require.NoError(t, ms.CreateCluster(context.Background(), c))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/clusters/1/addons", `{"name":"nexus","type":"nexus","config":{"url":"http://nexus:8081"}}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(http.MethodPost, "/clusters/1/addons", `{"name":"nexus","type":"nexus","config":{"url":"http://nexus:8081"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(http.MethodPost, "/clusters/1/addons", `{"name":"jenkins","type":"jenkins"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing required config: url")
	w = do(http.MethodPost, "/clusters/42/addons", `{"name":"nodes","type":"node-check"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodGet, "/clusters/1/addons", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)

	w = do(http.MethodDelete, "/addons/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodDelete, "/clusters/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint{1}, runs.forgotten)
}

func TestClusterGetAndUpdateRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ms := store.NewMemoryStore(0)
	h := NewClusterHandler(services.NewClusterService(ms, nil, services.NewStatusBoard()), nil)

	r := gin.New()
	r.GET("/clusters/:clusterID", h.GetCluster)
	r.PUT("/clusters/:clusterID", h.UpdateCluster)

	ctx := context.Background()
	prod := &models.Cluster{Name: "prod", KubeconfigPath: "/etc/kube/prod"}
	require.NoError(t, ms.CreateCluster(ctx, prod))
	require.NoError(t, ms.CreateCluster(ctx, &models.Cluster{Name: "dev", KubeconfigPath: "/etc/kube/dev"}))

	put := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/clusters/1", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"prod"`)

	w = put("/clusters/1", `{"description":"primary","status":"healthy"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data models.Cluster `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "primary", resp.Data.Description)
	// 状态字段不能通过接口修改
	assert.Equal(t, models.HealthStatus(""), resp.Data.Status)

	assert.Equal(t, http.StatusConflict, put("/clusters/1", `{"name":"dev"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put("/clusters/1", `{"name":" "}`).Code)
	assert.Equal(t, http.StatusNotFound, put("/clusters/9", `{"description":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put("/clusters/1", `not json`).Code)
}
