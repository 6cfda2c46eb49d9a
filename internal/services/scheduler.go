package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// BatchRunner 受理定时检查
type BatchRunner interface {
	RunBatch(ctx context.Context, scheduleType models.ScheduleType, include func(models.Cluster) bool) (*Batch, error)
	Submit(clusterID uint, scheduleType models.ScheduleType) (*Ticket, error)
	Workers() int
}

// ScheduleLister 列出集群自定义定时
type ScheduleLister interface {
	ListSchedules(ctx context.Context) ([]models.CheckSchedule, error)
}

// Scheduler 每日固定时间触发全集群检查
// 配置了自定义定时的集群由每分钟一次的 tick 单独触发，不参与全局定时
type Scheduler struct {
	cron      *cron.Cron
	runner    BatchRunner
	schedules ScheduleLister
	loc       *time.Location
	timeout   time.Duration
	global    []cron.EntryID
	now       func() time.Time
	log       *logger.Logger
}

func parseClock(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("无效的检查时间 %q，应为 HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("无效的小时 %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("无效的分钟 %q", s)
	}
	return h, m, nil
}

// ParseDailyTime 将 "HH:MM" 转为 cron 表达式 "M H * * *"
func ParseDailyTime(s string) (string, error) {
	h, m, err := parseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// NormalizeDailyTime 将 "H:MM" 规范为 "HH:MM"
func NormalizeDailyTime(s string) (string, error) {
	h, m, err := parseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NewScheduler 按时区与时间列表注册定时任务，每个时间按小时归入早/中/晚
// timeout 为一轮 worker 执行的等待时间，集群数超过 worker 数时按轮数放大，仅用于汇总日志
// schedules 为 nil 时不启用集群自定义定时
func NewScheduler(runner BatchRunner, schedules ScheduleLister, times []string, timezone string, timeout time.Duration) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %s 失败: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		runner:    runner,
		schedules: schedules,
		loc:       loc,
		timeout:   timeout,
		now:       time.Now,
		log:       logger.Named("scheduler"),
	}
	for _, t := range times {
		h, _, err := parseClock(t)
		if err != nil {
			return nil, err
		}
		spec, _ := ParseDailyTime(t)
		slot := models.SlotForHour(h)
		id, err := s.cron.AddFunc(spec, func() { s.runSlot(slot) })
		if err != nil {
			return nil, fmt.Errorf("注册定时任务 %s 失败: %w", t, err)
		}
		s.global = append(s.global, id)
		s.log.Info("已注册每日检查: %s %s (%s)", t, slot, timezone)
	}
	if schedules != nil {
		if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
			return nil, fmt.Errorf("注册自定义定时失败: %w", err)
		}
	}
	return s, nil
}

// Start 启动定时器
func (s *Scheduler) Start() { s.cron.Start() }

// Stop 停止定时器，不再触发新的检查
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries 已注册的全局定时数
func (s *Scheduler) Entries() int { return len(s.global) }

// NextRun 下一次全局定时触发时间
func (s *Scheduler) NextRun() (time.Time, bool) {
	var next time.Time
	for _, id := range s.global {
		e := s.cron.Entry(id)
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next, !next.IsZero()
}

// customClusters 启用了自定义定时的集群
func (s *Scheduler) customClusters(ctx context.Context) (map[uint]models.CheckSchedule, error) {
	custom := map[uint]models.CheckSchedule{}
	if s.schedules == nil {
		return custom, nil
	}
	list, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return custom, err
	}
	for _, sc := range list {
		if sc.IsActive && len(sc.EnabledSlots()) > 0 {
			custom[sc.ClusterID] = sc
		}
	}
	return custom, nil
}

func (s *Scheduler) runSlot(slot models.ScheduleType) {
	custom, err := s.customClusters(context.Background())
	if err != nil {
		s.log.Warn("读取自定义定时失败，本轮检查全部集群: %v", err)
	}
	batch, err := s.runner.RunBatch(context.Background(), slot, func(c models.Cluster) bool {
		_, ok := custom[c.ID]
		return !ok
	})
	if err != nil {
		s.log.Error("定时检查启动失败: %v", err)
		return
	}
	s.log.Info("%s 定时检查已受理 %d 个集群", slot, batch.Accepted())
	s.wait(batch)
}

// tick 每分钟检查一次自定义定时，时间按各自时区比较
func (s *Scheduler) tick() {
	custom, err := s.customClusters(context.Background())
	if err != nil {
		s.log.Warn("读取自定义定时失败: %v", err)
		return
	}
	now := s.now()
	batch := &Batch{ScheduleType: models.ScheduleManual}
	for clusterID, sc := range custom {
		local := now.In(s.scheduleLocation(sc))
		for _, slot := range sc.EnabledSlots() {
			h, m, err := parseClock(slot.Time)
			if err != nil || h != local.Hour() || m != local.Minute() {
				continue
			}
			entry := BatchEntry{ClusterID: clusterID, Name: strconv.FormatUint(uint64(clusterID), 10)}
			t, err := s.runner.Submit(clusterID, slot.Type)
			switch {
			case err == nil:
				entry.Accepted = true
				entry.RunID = t.RunID
				entry.ticket = t
			case errors.Is(err, ErrCheckInProgress):
				entry.Skipped = true
				entry.Reason = "skipped: check already running"
			default:
				entry.Reason = err.Error()
			}
			batch.ScheduleType = slot.Type
			batch.Entries = append(batch.Entries, entry)
		}
	}
	if len(batch.Entries) == 0 {
		return
	}
	s.log.Info("自定义定时已受理 %d 个集群", batch.Accepted())
	s.wait(batch)
}

func (s *Scheduler) scheduleLocation(sc models.CheckSchedule) *time.Location {
	if sc.Timezone == "" {
		return s.loc
	}
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		s.log.Warn("集群 %d 时区 %s 无效，使用默认时区: %v", sc.ClusterID, sc.Timezone, err)
		return s.loc
	}
	return loc
}

// waitTimeout 排队的集群要等前面的 worker 轮次结束
func (s *Scheduler) waitTimeout(accepted int) time.Duration {
	workers := s.runner.Workers()
	if workers <= 0 {
		workers = 1
	}
	rounds := (accepted + workers - 1) / workers
	if rounds < 1 {
		rounds = 1
	}
	return time.Duration(rounds) * s.timeout
}

func (s *Scheduler) wait(batch *Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), s.waitTimeout(batch.Accepted()))
	defer cancel()

	reports, err := batch.Wait(ctx)
	for _, r := range reports {
		switch {
		case r.Skipped:
			s.log.Info("集群 %s 跳过: %s", r.Name, r.Error)
		case r.Pending:
			s.log.Info("集群 %s 仍在执行 (run=%s)", r.Name, r.RunID)
		case r.Error != "":
			s.log.Warn("集群 %s 检查失败: %s", r.Name, r.Error)
		default:
			s.log.Info("集群 %s 检查完成: %s", r.Name, r.Status)
		}
	}
	if err != nil {
		s.log.Warn("定时检查存在失败: %v", err)
	}
}
