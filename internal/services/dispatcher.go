package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

var (
	// ErrCheckInProgress 集群已有检查在执行
	ErrCheckInProgress = errors.New("集群检查正在进行中")
	// ErrDispatcherClosed 调度器已关闭
	ErrDispatcherClosed = errors.New("调度器已关闭")
)

// CheckRunner 执行单个集群检查
type CheckRunner interface {
	RunCheckWithID(ctx context.Context, runID string, clusterID uint, scheduleType models.ScheduleType) (*models.CheckRun, error)
}

// ClusterLister 列出已注册的集群
type ClusterLister interface {
	ListClusters(ctx context.Context) ([]models.Cluster, error)
}

// Ticket 已受理的检查，完成后 Done 关闭
type Ticket struct {
	RunID        string              `json:"run_id"`
	ClusterID    uint                `json:"cluster_id"`
	ScheduleType models.ScheduleType `json:"schedule_type"`
	AcceptedAt   time.Time           `json:"accepted_at"`

	state models.RunState
	run   *models.CheckRun
	err   error
	done  chan struct{}
}

// Done 检查结束时关闭
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait 等待检查结束
func (t *Ticket) Wait(ctx context.Context) (*models.CheckRun, error) {
	select {
	case <-t.done:
		return t.run, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatcher 跨集群的有界 worker 池，同一集群同时只允许一个检查
type Dispatcher struct {
	runner  CheckRunner
	lister  ClusterLister
	sem     *semaphore.Weighted
	workers int

	mu       sync.Mutex
	inflight map[uint]*Ticket
	lastErr  map[uint]string
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewDispatcher 创建调度器，workers 为跨集群并发上限
func NewDispatcher(runner CheckRunner, lister ClusterLister, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:   runner,
		lister:   lister,
		sem:      semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		inflight: make(map[uint]*Ticket),
		lastErr:  make(map[uint]string),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Named("dispatcher"),
	}
}

// Workers 跨集群并发上限
func (d *Dispatcher) Workers() int { return d.workers }

// RunCheck 受理一次手动检查
func (d *Dispatcher) RunCheck(clusterID uint) (*Ticket, error) {
	return d.Submit(clusterID, models.ScheduleManual)
}

// Submit 受理一次集群检查并立即返回，检查在后台执行
// 集群已有检查在执行时返回进行中的 Ticket 与 ErrCheckInProgress
func (d *Dispatcher) Submit(clusterID uint, scheduleType models.ScheduleType) (*Ticket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	if t, ok := d.inflight[clusterID]; ok {
		return t, ErrCheckInProgress
	}

	t := &Ticket{
		RunID:        uuid.NewString(),
		ClusterID:    clusterID,
		ScheduleType: scheduleType,
		AcceptedAt:   time.Now(),
		state:        models.RunPending,
		done:         make(chan struct{}),
	}
	d.inflight[clusterID] = t
	d.wg.Add(1)
	metrics.InflightInc()
	go d.execute(t)
	return t, nil
}

func (d *Dispatcher) execute(t *Ticket) {
	defer d.wg.Done()
	defer metrics.InflightDec()

	var (
		run *models.CheckRun
		err error
	)
	if err = d.sem.Acquire(d.ctx, 1); err == nil {
		d.setState(t, models.RunRunning)
		run, err = d.runCheck(t)
		d.sem.Release(1)
	} else {
		err = &RunError{ClusterID: t.ClusterID, Stage: StageCancel, Err: err}
	}

	d.mu.Lock()
	t.run, t.err = run, err
	if run != nil {
		t.state = run.State
	} else {
		t.state = models.RunFailed
	}
	if err != nil {
		d.lastErr[t.ClusterID] = err.Error()
	} else {
		delete(d.lastErr, t.ClusterID)
	}
	delete(d.inflight, t.ClusterID)
	d.mu.Unlock()
	close(t.done)
}

// runCheck 将 panic 转为失败，避免拖垮整个 worker 池
func (d *Dispatcher) runCheck(t *Ticket) (run *models.CheckRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("集群 %d 检查 panic: %v", t.ClusterID, r)
			err = &RunError{ClusterID: t.ClusterID, Stage: StageLoad, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.runner.RunCheckWithID(d.ctx, t.RunID, t.ClusterID, t.ScheduleType)
}

func (d *Dispatcher) setState(t *Ticket, s models.RunState) {
	d.mu.Lock()
	t.state = s
	d.mu.Unlock()
}

// State 集群当前的运行状态，没有进行中的检查时 ok 为 false
func (d *Dispatcher) State(clusterID uint) (models.RunState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.inflight[clusterID]
	if !ok {
		return "", false
	}
	return t.state, true
}

// LastError 集群最近一次运行失败的原因，成功后清空
func (d *Dispatcher) LastError(clusterID uint) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr[clusterID]
}

// Forget 集群删除后清理状态
func (d *Dispatcher) Forget(clusterID uint) {
	d.mu.Lock()
	delete(d.lastErr, clusterID)
	d.mu.Unlock()
}

// BatchEntry 批量检查中单个集群的受理结果
type BatchEntry struct {
	ClusterID uint   `json:"cluster_id"`
	Name      string `json:"name"`
	RunID     string `json:"run_id,omitempty"`
	Accepted  bool   `json:"accepted"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`

	ticket *Ticket
}

// Batch 一次批量检查
type Batch struct {
	ScheduleType models.ScheduleType `json:"schedule_type"`
	Entries      []BatchEntry        `json:"entries"`
}

// Accepted 已受理的集群数
func (b *Batch) Accepted() int {
	n := 0
	for _, e := range b.Entries {
		if e.Accepted {
			n++
		}
	}
	return n
}

// ClusterReport 批量检查中单个集群的最终结果
type ClusterReport struct {
	ClusterID uint                `json:"cluster_id"`
	Name      string              `json:"name"`
	RunID     string              `json:"run_id,omitempty"`
	Skipped   bool                `json:"skipped"`
	Pending   bool                `json:"pending"`
	State     models.RunState     `json:"state,omitempty"`
	Status    models.HealthStatus `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RunCheckAll 为每个已注册集群受理一次手动检查
func (d *Dispatcher) RunCheckAll(ctx context.Context) (*Batch, error) {
	return d.RunBatch(ctx, models.ScheduleManual, nil)
}

// RunBatch 为 include 选中的集群受理一次检查，include 为 nil 时选中全部
// 正在检查的集群标记为跳过
func (d *Dispatcher) RunBatch(ctx context.Context, scheduleType models.ScheduleType, include func(models.Cluster) bool) (*Batch, error) {
	clusters, err := d.lister.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取集群列表失败: %w", err)
	}
	batch := &Batch{ScheduleType: scheduleType, Entries: make([]BatchEntry, 0, len(clusters))}
	for _, c := range clusters {
		if include != nil && !include(c) {
			continue
		}
		entry := BatchEntry{ClusterID: c.ID, Name: c.Name}
		t, err := d.Submit(c.ID, scheduleType)
		switch {
		case err == nil:
			entry.Accepted = true
			entry.RunID = t.RunID
			entry.ticket = t
		case errors.Is(err, ErrCheckInProgress):
			entry.Skipped = true
			entry.Reason = "skipped: check already running"
			entry.RunID = t.RunID
		default:
			entry.Reason = err.Error()
		}
		batch.Entries = append(batch.Entries, entry)
	}
	return batch, nil
}

// Wait 等待所有已受理的检查结束
// 返回的 error 合并了所有失败集群的原因，一个集群失败不影响其它集群的报告
// ctx 到期时仍在排队或执行的集群标记为 Pending，不计为失败
func (b *Batch) Wait(ctx context.Context) ([]ClusterReport, error) {
	reports := make([]ClusterReport, 0, len(b.Entries))
	var errs error
	for _, e := range b.Entries {
		r := ClusterReport{ClusterID: e.ClusterID, Name: e.Name, RunID: e.RunID}
		if e.Skipped {
			r.Skipped = true
			r.Error = e.Reason
			reports = append(reports, r)
			continue
		}
		if e.ticket == nil {
			r.State = models.RunFailed
			r.Error = e.Reason
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", e.Name, e.Reason))
			reports = append(reports, r)
			continue
		}
		run, err := e.ticket.Wait(ctx)
		if err != nil && ctx.Err() != nil && !isClosed(e.ticket.Done()) {
			r.Pending = true
			r.State = models.RunRunning
			reports = append(reports, r)
			continue
		}
		if run != nil {
			r.State = run.State
			r.Status = run.Status
		}
		if err != nil {
			r.Error = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
		reports = append(reports, r)
	}
	return reports, errs
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Shutdown 停止受理新检查并等待进行中的检查结束
// ctx 到期后取消仍在执行的检查
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.log.Warn("等待检查结束超时，取消进行中的检查")
		d.cancel()
		<-done
		return ctx.Err()
	}
}
