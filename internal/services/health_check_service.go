package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/checkers"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// incompleteReason 集群总截止时间到达时仍未完成的检查项
const incompleteReason = "check did not complete"

// 与 clusters.status_message、addons.status_message / check_logs.message 的列宽一致
const (
	clusterMessageLimit = 512
	addonMessageLimit   = 1024
)

// 运行失败的阶段
const (
	StageLoad   = "load"
	StageCommit = "commit"
	StageCancel = "cancel"
)

// RunError 基础设施错误，区别于集群本身不健康
type RunError struct {
	ClusterID uint
	Stage     string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("集群 %d 检查失败(%s): %v", e.ClusterID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ClientProvider 获取集群客户端
type ClientProvider interface {
	Get(cluster *models.Cluster) (*k8s.Clients, error)
}

// HealthCheckOptions 检查参数
type HealthCheckOptions struct {
	CheckerTimeout time.Duration
	ClusterTimeout time.Duration
	MaxParallel    int
}

// HealthCheckService 对单个集群执行全部检查、汇总并原子提交
type HealthCheckService struct {
	repo      store.ClusterRepository
	committer store.CheckCommitter
	clients   ClientProvider
	registry  *checkers.Registry
	board     *StatusBoard
	http      *http.Client
	opts      HealthCheckOptions
	now       func() time.Time
	log       *logger.Logger
}

// NewHealthCheckService 创建检查服务
func NewHealthCheckService(repo store.ClusterRepository, committer store.CheckCommitter, clients ClientProvider,
	registry *checkers.Registry, board *StatusBoard, opts HealthCheckOptions) *HealthCheckService {
	if opts.CheckerTimeout <= 0 {
		opts.CheckerTimeout = 10 * time.Second
	}
	if opts.ClusterTimeout <= 0 {
		opts.ClusterTimeout = 60 * time.Second
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 8
	}
	return &HealthCheckService{
		repo:      repo,
		committer: committer,
		clients:   clients,
		registry:  registry,
		board:     board,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// 集群内的 Nexus/Jenkins/Keycloak 多为自签证书
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
			},
		},
		opts: opts,
		now:  time.Now,
		log:  logger.Named("health-check"),
	}
}

// task 一个待执行的检查项，addon 为 nil 时是基线检查
type task struct {
	kind  models.AddonType
	name  string
	addon *models.Addon
}

// RunCheck 同步执行一次手动检查
func (s *HealthCheckService) RunCheck(ctx context.Context, clusterID uint) (*models.CheckRun, error) {
	return s.RunCheckWithID(ctx, uuid.NewString(), clusterID, models.ScheduleManual)
}

// RunCheckWithID 使用给定的运行 ID 执行检查，运行 ID 同时作为历史记录的 batch_id
func (s *HealthCheckService) RunCheckWithID(ctx context.Context, runID string, clusterID uint, scheduleType models.ScheduleType) (*models.CheckRun, error) {
	if !scheduleType.Valid() {
		scheduleType = models.ScheduleManual
	}
	run := &models.CheckRun{
		RunID:        runID,
		ClusterID:    clusterID,
		ScheduleType: scheduleType,
		State:        models.RunPending,
		StartedAt:    s.now(),
	}

	cluster, err := s.repo.GetCluster(ctx, clusterID)
	if err != nil {
		return s.fail(run, "", StageLoad, err)
	}
	run.State = models.RunRunning
	s.log.Info("开始检查集群 %s (run=%s, addons=%d)", cluster.Name, runID, len(cluster.Addons))

	clients, clientErr := s.clients.Get(cluster)
	if clientErr != nil {
		s.log.Warn("集群 %s 客户端不可用: %v", cluster.Name, clientErr)
	}

	tasks := s.plan(cluster)
	results := s.fanOut(ctx, cluster, clients, clientErr, tasks)
	if err := ctx.Err(); err != nil {
		return s.fail(run, cluster.Name, StageCancel, err)
	}

	for i, t := range tasks {
		if t.addon == nil {
			run.Baseline = append(run.Baseline, results[i])
		} else {
			run.Addons = append(run.Addons, results[i])
		}
	}
	run.Status, run.Message = aggregate(run.Results())

	checkedAt := s.now()
	batch := buildBatch(run, checkedAt)
	if err := s.committer.CommitCheck(ctx, batch); err != nil {
		return s.fail(run, cluster.Name, StageCommit, err)
	}

	if !s.board.Publish(BoardEntry{
		ClusterID: clusterID,
		Status:    run.Status,
		Message:   run.Message,
		BatchID:   runID,
		StartedAt: run.StartedAt,
		CheckedAt: checkedAt,
		Results:   run.Results(),
	}) {
		s.log.Warn("集群 %s 在检查期间被删除，结果不再展示", cluster.Name)
	}
	run.State = models.RunSucceeded
	run.FinishedAt = &checkedAt
	for _, r := range run.Results() {
		metrics.ObserveChecker(r.Type, r.Status)
	}
	metrics.ObserveRun(cluster.Name, run.State, run.Status, checkedAt.Sub(run.StartedAt))
	s.log.Info("集群 %s 检查完成: %s (%s)", cluster.Name, run.Status, run.Message)
	return run, nil
}

func (s *HealthCheckService) fail(run *models.CheckRun, clusterName, stage string, err error) (*models.CheckRun, error) {
	finished := s.now()
	run.State = models.RunFailed
	run.FinishedAt = &finished
	run.Error = err.Error()
	if clusterName != "" {
		metrics.ObserveRun(clusterName, run.State, run.Status, finished.Sub(run.StartedAt))
	}
	s.log.Error("集群 %d 检查失败(%s): %v", run.ClusterID, stage, err)
	return run, &RunError{ClusterID: run.ClusterID, Stage: stage, Err: err}
}

// plan 基线检查 + 全部已注册检查项
func (s *HealthCheckService) plan(cluster *models.Cluster) []task {
	tasks := []task{{kind: models.AddonAPIServer, name: string(models.AddonAPIServer)}}
	for i := range cluster.Addons {
		a := &cluster.Addons[i]
		tasks = append(tasks, task{kind: a.Type, name: a.Name, addon: a})
	}
	return tasks
}

// fanOut 并发执行所有检查项，受并发上限与集群总截止时间约束
// 截止时间到达时未完成的检查项记为 critical
func (s *HealthCheckService) fanOut(parent context.Context, cluster *models.Cluster, clients *k8s.Clients, clientErr error, tasks []task) []models.CheckResult {
	ctx, cancel := context.WithTimeout(parent, s.opts.ClusterTimeout)
	defer cancel()

	var mu sync.Mutex
	finished := make(map[int]models.CheckResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for i, t := range tasks {
			if gctx.Err() != nil {
				break
			}
			i, t := i, t
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				res, ok := s.runTask(gctx, cluster, clients, clientErr, t)
				if !ok {
					return nil
				}
				mu.Lock()
				finished[i] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-allDone:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	results := make([]models.CheckResult, len(tasks))
	for i, t := range tasks {
		if r, ok := finished[i]; ok {
			results[i] = r
			continue
		}
		results[i] = incompleteResult(t)
	}
	return results
}

// runTask 返回 false 表示结果是被集群截止时间打断的，按未完成处理
func (s *HealthCheckService) runTask(ctx context.Context, cluster *models.Cluster, clients *k8s.Clients, clientErr error, t task) (models.CheckResult, bool) {
	result := models.CheckResult{Name: t.name, Type: t.kind}
	if t.addon != nil {
		id := t.addon.ID
		result.AddonID = &id
	}

	c, ok := s.registry.Get(t.kind)
	if !ok {
		reason := fmt.Sprintf("unsupported addon type %q", t.kind)
		result.Status = models.StatusCritical
		result.Message = reason
		result.Details = models.FailureDetails(t.kind, reason)
		return result, true
	}

	timeout := checkers.TimeoutFor(t.addon, s.opts.CheckerTimeout)
	target := &checkers.Target{
		Cluster:   cluster,
		Addon:     t.addon,
		Clients:   clients,
		ClientErr: clientErr,
		HTTP:      s.http,
	}
	res := checkers.Run(ctx, c, target, timeout)
	if ctx.Err() != nil && res.Details != nil {
		switch res.Details.ErrorReason() {
		case "timeout", "cancelled":
			return result, false
		}
	}

	result.Status = res.Status
	result.Message = res.Message
	result.Details = res.Details
	result.ResponseTimeMs = res.ResponseTimeMs
	return result, true
}

func incompleteResult(t task) models.CheckResult {
	r := models.CheckResult{
		Name:    t.name,
		Type:    t.kind,
		Status:  models.StatusCritical,
		Message: incompleteReason,
		Details: models.FailureDetails(t.kind, incompleteReason),
	}
	if t.addon != nil {
		id := t.addon.ID
		r.AddonID = &id
	}
	return r
}

// aggregate 取最差状态，并列出所有非 healthy 的检查项
func aggregate(results []models.CheckResult) (models.HealthStatus, string) {
	if len(results) == 0 {
		return models.StatusCritical, "no checks ran"
	}
	statuses := make([]models.HealthStatus, 0, len(results))
	var problems []string
	for _, r := range results {
		statuses = append(statuses, r.Status)
		if r.Status != models.StatusHealthy {
			problems = append(problems, fmt.Sprintf("%s: %s", r.Name, r.Message))
		}
	}
	status := models.Worst(statuses...)
	if len(problems) == 0 {
		return status, fmt.Sprintf("all %d checks healthy", len(results))
	}
	return status, strings.Join(problems, "; ")
}

// buildBatch 每个检查项一条历史记录 + 一条集群汇总记录，共享 batch_id 与 checked_at
func buildBatch(run *models.CheckRun, checkedAt time.Time) *models.CheckBatch {
	batch := &models.CheckBatch{
		BatchID:      run.RunID,
		ClusterID:    run.ClusterID,
		ScheduleType: run.ScheduleType,
		Status:       run.Status,
		Message:      truncate(run.Message, clusterMessageLimit),
		CheckedAt:    checkedAt,
		Addons:       make([]models.CheckResult, 0, len(run.Addons)),
	}
	for _, r := range run.Addons {
		r.Message = truncate(r.Message, addonMessageLimit)
		batch.Addons = append(batch.Addons, r)
		batch.Logs = append(batch.Logs, models.CheckLog{
			BatchID:        run.RunID,
			ClusterID:      run.ClusterID,
			AddonID:        r.AddonID,
			AddonName:      r.Name,
			AddonType:      r.Type,
			ScheduleType:   run.ScheduleType,
			Status:         r.Status,
			Message:        r.Message,
			ResponseTimeMs: r.ResponseTimeMs,
			RawOutput:      models.DetailsMap(r.Details),
			CheckedAt:      checkedAt,
		})
	}

	baseline := make(map[string]interface{}, len(run.Baseline))
	for _, r := range run.Baseline {
		entry := models.DetailsMap(r.Details)
		entry["status"] = r.Status
		entry["message"] = r.Message
		baseline[r.Name] = entry
	}
	var total int64
	for _, r := range run.Results() {
		total += r.ResponseTimeMs
	}
	batch.Logs = append(batch.Logs, models.CheckLog{
		BatchID:        run.RunID,
		ClusterID:      run.ClusterID,
		ScheduleType:   run.ScheduleType,
		Status:         run.Status,
		Message:        truncate(run.Message, addonMessageLimit),
		ResponseTimeMs: total,
		RawOutput: map[string]interface{}{
			"baseline":    baseline,
			"addon_count": len(run.Addons),
		},
		CheckedAt: checkedAt,
	})
	return batch
}

// truncate 按字节截断，不切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// IsRunError 判断是否为基础设施错误
func IsRunError(err error) bool {
	var re *RunError
	return errors.As(err, &re)
}
