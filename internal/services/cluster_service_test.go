package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

type recordingForgetter struct{ ids []uint }

func (r *recordingForgetter) Forget(id uint) { r.ids = append(r.ids, id) }

// ClusterServiceTestSuite 定义集群服务测试套件
type ClusterServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	mock    sqlmock.Sqlmock
	clients *recordingForgetter
	board   *StatusBoard
	service *ClusterService
	ctx     context.Context
}

// SetupTest 每个测试前的设置
func (s *ClusterServiceTestSuite) SetupTest() {
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
	s.clients = &recordingForgetter{}
	s.board = NewStatusBoard()
	s.service = NewClusterService(store.NewGormStore(gormDB), s.clients, s.board)
	s.ctx = context.Background()
}

// TearDownTest 每个测试后的清理
func (s *ClusterServiceTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	if s.db != nil {
		sqlDB, _ := s.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}
}

func (s *ClusterServiceTestSuite) expectClusterLookup(id uint, name string) {
	rows := sqlmock.NewRows([]string{"id", "name", "api_server", "token", "status"}).
		AddRow(id, name, "https://"+name+":6443", "t", "healthy")
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).WillReturnRows(rows)
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `addons`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cluster_id", "name", "type"}))
}

// TestCreateCluster 测试创建集群
func (s *ClusterServiceTestSuite) TestCreateCluster() {
	cluster := &models.Cluster{
		Name:      " test-cluster ",
		APIServer: "https://kubernetes.example.com:6443",
		Token:     "token",
		Status:    models.StatusHealthy,
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `clusters`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()

	err := s.service.CreateCluster(s.ctx, cluster)
	s.NoError(err)
	s.Equal(uint(1), cluster.ID)
	s.Equal("test-cluster", cluster.Name)
	// 状态只能由检查写入
	s.Equal(models.HealthStatus(""), cluster.Status)
}

// TestCreateCluster_Validation 名称与凭据校验不访问数据库
func (s *ClusterServiceTestSuite) TestCreateCluster_Validation() {
	err := s.service.CreateCluster(s.ctx, &models.Cluster{Name: "  ", Token: "t", APIServer: "https://x"})
	s.True(errors.Is(err, ErrInvalidInput))

	err = s.service.CreateCluster(s.ctx, &models.Cluster{Name: "no-creds"})
	s.True(errors.Is(err, ErrInvalidInput))
}

// TestCreateCluster_DBError 测试数据库错误
func (s *ClusterServiceTestSuite) TestCreateCluster_DBError() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `clusters`")).
		WillReturnError(errors.New("connection reset"))
	s.mock.ExpectRollback()

	err := s.service.CreateCluster(s.ctx, &models.Cluster{Name: "prod", KubeconfigPath: "/etc/kube/prod"})
	s.Error(err)
	s.Contains(err.Error(), "创建集群失败")
}

// TestDeleteCluster 删除集群并清理缓存与看板
func (s *ClusterServiceTestSuite) TestDeleteCluster() {
	s.board.Publish(BoardEntry{ClusterID: 7, Status: models.StatusHealthy, CheckedAt: time.Now()})

	s.expectClusterLookup(7, "prod")
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `check_logs`")).WillReturnResult(sqlmock.NewResult(0, 12))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `check_schedules`")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `addons`")).WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `clusters`")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	s.NoError(s.service.DeleteCluster(s.ctx, 7))
	s.Equal([]uint{7}, s.clients.ids)
	_, ok := s.board.Get(7)
	s.False(ok)
}

// TestDeleteCluster_NotFound 集群不存在
func (s *ClusterServiceTestSuite) TestDeleteCluster_NotFound() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := s.service.DeleteCluster(s.ctx, 404)
	s.True(errors.Is(err, store.ErrNotFound))
	s.Empty(s.clients.ids)
}

// TestCreateAddon 注册检查项
func (s *ClusterServiceTestSuite) TestCreateAddon() {
	s.expectClusterLookup(3, "prod")
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `addons`")).
		WillReturnResult(sqlmock.NewResult(11, 1))
	s.mock.ExpectCommit()

	addon := &models.Addon{
		Name:   "jenkins",
		Type:   models.AddonJenkins,
		Config: map[string]string{"url": "https://jenkins.internal", "timeout_seconds": "5"},
	}
	s.NoError(s.service.CreateAddon(s.ctx, 3, addon))
	s.Equal(uint(11), addon.ID)
	s.Equal(uint(3), addon.ClusterID)
}

// TestCreateAddon_InvalidConfig 配置错误在写入前拒绝
func (s *ClusterServiceTestSuite) TestCreateAddon_InvalidConfig() {
	err := s.service.CreateAddon(s.ctx, 3, &models.Addon{Name: "nexus", Type: models.AddonNexus})
	s.True(errors.Is(err, ErrInvalidInput))
	s.Contains(err.Error(), "missing required config: url")

	err = s.service.CreateAddon(s.ctx, 3, &models.Addon{Name: "x", Type: models.AddonType("redis")})
	s.True(errors.Is(err, ErrInvalidInput))

	err = s.service.CreateAddon(s.ctx, 3, &models.Addon{Name: "api", Type: models.AddonAPIServer})
	s.True(errors.Is(err, ErrInvalidInput))

	err = s.service.CreateAddon(s.ctx, 3, &models.Addon{
		Name: "jenkins", Type: models.AddonJenkins,
		Config: map[string]string{"url": "http://j", "timeout_seconds": "soon"},
	})
	s.True(errors.Is(err, ErrInvalidInput))
}

// TestUpdateCluster_Duplicate 重名返回 ErrDuplicate，客户端缓存不清理
func (s *ClusterServiceTestSuite) TestUpdateCluster_Duplicate() {
	s.expectClusterLookup(3, "staging")
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE `clusters`")).
		WillReturnError(gorm.ErrDuplicatedKey)
	s.mock.ExpectRollback()

	name := "prod"
	_, err := s.service.UpdateCluster(s.ctx, 3, ClusterUpdate{Name: &name})
	s.True(errors.Is(err, store.ErrDuplicate))
	s.Empty(s.clients.ids)
}

// TestClusterServiceSuite 运行测试套件
func TestClusterServiceSuite(t *testing.T) {
	suite.Run(t, new(ClusterServiceTestSuite))
}

func TestClusterServiceDuplicateAddonWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(0)
	svc := NewClusterService(s, nil, nil)

	c := &models.Cluster{Name: "prod", KubeconfigPath: "/etc/kube/prod"}
	assert.NoError(t, svc.CreateCluster(ctx, c))
	assert.NoError(t, svc.CreateAddon(ctx, c.ID, &models.Addon{Name: "nodes", Type: models.AddonNodeCheck}))
	err := svc.CreateAddon(ctx, c.ID, &models.Addon{Name: "nodes", Type: models.AddonNodeCheck})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	addons, err := svc.ListAddons(ctx, c.ID)
	assert.NoError(t, err)
	assert.Len(t, addons, 1)

	_, err = svc.ListAddons(ctx, 99)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.NoError(t, svc.DeleteCluster(ctx, c.ID))
}

func TestClusterServiceUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(0)
	forgetter := &recordingForgetter{}
	svc := NewClusterService(s, forgetter, NewStatusBoard())

	c := &models.Cluster{Name: "prod", KubeconfigPath: "/etc/kube/prod"}
	require.NoError(t, svc.CreateCluster(ctx, c))
	require.NoError(t, s.CommitCheck(ctx, &models.CheckBatch{
		BatchID: "b1", ClusterID: c.ID, Status: models.StatusWarning, Message: "1/3 nodes not ready", CheckedAt: time.Now(),
	}))

	desc, path := " 首尔机房 ", "/etc/kube/prod-v2"
	got, err := svc.UpdateCluster(ctx, c.ID, ClusterUpdate{Description: &desc, KubeconfigPath: &path})
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Name)
	assert.Equal(t, "首尔机房", got.Description)
	assert.Equal(t, path, got.KubeconfigPath)
	assert.Equal(t, models.StatusWarning, got.Status)
	assert.Equal(t, "b1", got.LastBatchID)
	assert.Equal(t, []uint{c.ID}, forgetter.ids)

	empty := ""
	_, err = svc.UpdateCluster(ctx, c.ID, ClusterUpdate{Name: &empty})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = svc.UpdateCluster(ctx, c.ID, ClusterUpdate{KubeconfigPath: &empty})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = svc.UpdateCluster(ctx, 99, ClusterUpdate{Description: &desc})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
