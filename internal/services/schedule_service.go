package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// DefaultScheduleTimezone 未指定时区时使用
const DefaultScheduleTimezone = "Asia/Seoul"

// ScheduleUpdate 集群自定义定时，nil 表示不修改
type ScheduleUpdate struct {
	IsActive       *bool   `json:"is_active"`
	MorningTime    *string `json:"morning_time"`
	MorningEnabled *bool   `json:"morning_enabled"`
	NoonTime       *string `json:"noon_time"`
	NoonEnabled    *bool   `json:"noon_enabled"`
	EveningTime    *string `json:"evening_time"`
	EveningEnabled *bool   `json:"evening_enabled"`
	Timezone       *string `json:"timezone"`
}

// ScheduleService 集群自定义定时
type ScheduleService struct {
	repo      store.ClusterRepository
	schedules store.ScheduleRepository
}

// NewScheduleService 创建定时服务
func NewScheduleService(repo store.ClusterRepository, schedules store.ScheduleRepository) *ScheduleService {
	return &ScheduleService{repo: repo, schedules: schedules}
}

// GetSchedule 集群的自定义定时，未设置时返回 ErrNotFound
func (s *ScheduleService) GetSchedule(ctx context.Context, clusterID uint) (*models.CheckSchedule, error) {
	if _, err := s.repo.GetCluster(ctx, clusterID); err != nil {
		return nil, err
	}
	return s.schedules.GetSchedule(ctx, clusterID)
}

// UpdateSchedule 创建或修改集群的自定义定时，首次创建时默认启用
func (s *ScheduleService) UpdateSchedule(ctx context.Context, clusterID uint, in ScheduleUpdate) (*models.CheckSchedule, error) {
	if _, err := s.repo.GetCluster(ctx, clusterID); err != nil {
		return nil, err
	}
	schedule, err := s.schedules.GetSchedule(ctx, clusterID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		schedule = &models.CheckSchedule{ClusterID: clusterID, IsActive: true, Timezone: DefaultScheduleTimezone}
	default:
		return nil, err
	}

	for _, f := range []struct {
		dst *string
		v   *string
	}{
		{&schedule.MorningTime, in.MorningTime},
		{&schedule.NoonTime, in.NoonTime},
		{&schedule.EveningTime, in.EveningTime},
	} {
		if f.v == nil {
			continue
		}
		if strings.TrimSpace(*f.v) == "" {
			*f.dst = ""
			continue
		}
		t, err := NormalizeDailyTime(*f.v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		*f.dst = t
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&schedule.IsActive, in.IsActive)
	setBool(&schedule.MorningEnabled, in.MorningEnabled)
	setBool(&schedule.NoonEnabled, in.NoonEnabled)
	setBool(&schedule.EveningEnabled, in.EveningEnabled)
	if in.Timezone != nil {
		schedule.Timezone = strings.TrimSpace(*in.Timezone)
		if schedule.Timezone == "" {
			schedule.Timezone = DefaultScheduleTimezone
		}
	}
	if _, err := time.LoadLocation(schedule.Timezone); err != nil {
		return nil, fmt.Errorf("%w: 无效的时区 %q", ErrInvalidInput, schedule.Timezone)
	}
	for _, slot := range []struct {
		enabled bool
		at      string
		name    models.ScheduleType
	}{
		{schedule.MorningEnabled, schedule.MorningTime, models.ScheduleMorning},
		{schedule.NoonEnabled, schedule.NoonTime, models.ScheduleNoon},
		{schedule.EveningEnabled, schedule.EveningTime, models.ScheduleEvening},
	} {
		if slot.enabled && slot.at == "" {
			return nil, fmt.Errorf("%w: 已启用的 %s 检查缺少时间", ErrInvalidInput, slot.name)
		}
	}

	if err := s.schedules.SaveSchedule(ctx, schedule); err != nil {
		logger.Error("保存定时设置失败: %v", err)
		return nil, err
	}
	logger.Info("集群 %d 定时设置已保存: active=%t slots=%d tz=%s", clusterID, schedule.IsActive, len(schedule.EnabledSlots()), schedule.Timezone)
	return schedule, nil
}
