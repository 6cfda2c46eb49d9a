package models

import "time"

// CheckLog 不可变的检查历史记录
// 同一次检查的所有记录共享 BatchID 与 CheckedAt；AddonID 为空的是集群汇总记录
type CheckLog struct {
	ID             uint                   `json:"id" gorm:"primaryKey"`
	BatchID        string                 `json:"batch_id" gorm:"size:36;index"`
	ClusterID      uint                   `json:"cluster_id" gorm:"not null;index"`
	AddonID        *uint                  `json:"addon_id" gorm:"index"`
	AddonName      string                 `json:"addon_name" gorm:"size:100"`
	AddonType      AddonType              `json:"addon_type" gorm:"size:32"`
	ScheduleType   ScheduleType           `json:"schedule_type" gorm:"size:16;index"`
	Status         HealthStatus           `json:"status" gorm:"size:20;not null"`
	Message        string                 `json:"message" gorm:"size:1024"`
	ResponseTimeMs int64                  `json:"response_time_ms"`
	RawOutput      map[string]interface{} `json:"raw_output" gorm:"serializer:json;type:text"`
	CheckedAt      time.Time              `json:"checked_at" gorm:"index"`

	Cluster *Cluster `json:"-" gorm:"foreignKey:ClusterID;constraint:OnDelete:CASCADE"`
}

// IsSummary 是否为集群汇总记录
func (l *CheckLog) IsSummary() bool {
	return l.AddonID == nil && l.AddonName == ""
}
