package models

import "time"

// CheckSchedule 集群自定义的每日检查时间
// 启用后该集群不再跟随全局定时，而是按自己的早/中/晚三个时间点检查
type CheckSchedule struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	ClusterID uint `json:"cluster_id" gorm:"not null;uniqueIndex"`
	IsActive  bool `json:"is_active"`

	MorningTime    string `json:"morning_time" gorm:"size:5"` // HH:MM
	MorningEnabled bool   `json:"morning_enabled"`
	NoonTime       string `json:"noon_time" gorm:"size:5"`
	NoonEnabled    bool   `json:"noon_enabled"`
	EveningTime    string `json:"evening_time" gorm:"size:5"`
	EveningEnabled bool   `json:"evening_enabled"`
	Timezone       string `json:"timezone" gorm:"size:50"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleSlot 一个检查时间点
type ScheduleSlot struct {
	Type ScheduleType
	Time string
}

// EnabledSlots 已启用且配置了时间的检查点
func (s *CheckSchedule) EnabledSlots() []ScheduleSlot {
	var slots []ScheduleSlot
	add := func(t ScheduleType, at string, enabled bool) {
		if enabled && at != "" {
			slots = append(slots, ScheduleSlot{Type: t, Time: at})
		}
	}
	add(ScheduleMorning, s.MorningTime, s.MorningEnabled)
	add(ScheduleNoon, s.NoonTime, s.NoonEnabled)
	add(ScheduleEvening, s.EveningTime, s.EveningEnabled)
	return slots
}
