package models

import "time"

// RunState 单次集群检查的生命周期
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Finished 是否已结束
func (s RunState) Finished() bool {
	return s == RunSucceeded || s == RunFailed
}

// ScheduleType 检查的触发来源
type ScheduleType string

const (
	ScheduleMorning ScheduleType = "morning"
	ScheduleNoon    ScheduleType = "noon"
	ScheduleEvening ScheduleType = "evening"
	ScheduleManual  ScheduleType = "manual"
)

// Valid 是否为已知的触发来源
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleMorning, ScheduleNoon, ScheduleEvening, ScheduleManual:
		return true
	}
	return false
}

// SlotForHour 定时触发按时刻归类：12 点前为 morning，17 点前为 noon，其余为 evening
func SlotForHour(hour int) ScheduleType {
	switch {
	case hour < 12:
		return ScheduleMorning
	case hour < 17:
		return ScheduleNoon
	default:
		return ScheduleEvening
	}
}

// CheckResult 单个检查项的结果
type CheckResult struct {
	AddonID        *uint        `json:"addon_id,omitempty"`
	Name           string       `json:"name"`
	Type           AddonType    `json:"type"`
	Status         HealthStatus `json:"status"`
	Message        string       `json:"message"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Details        Details      `json:"details"`
}

// CheckRun 一次集群检查的完整结果
type CheckRun struct {
	RunID        string        `json:"run_id"`
	ClusterID    uint          `json:"cluster_id"`
	ScheduleType ScheduleType  `json:"schedule_type"`
	State        RunState      `json:"state"`
	Status       HealthStatus  `json:"status,omitempty"`
	Message      string        `json:"message,omitempty"`
	Baseline     []CheckResult `json:"baseline"`
	Addons       []CheckResult `json:"addons"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Results 基线与插件结果合并
func (r *CheckRun) Results() []CheckResult {
	out := make([]CheckResult, 0, len(r.Baseline)+len(r.Addons))
	out = append(out, r.Baseline...)
	return append(out, r.Addons...)
}

// CheckBatch 一次提交的数据：集群状态、插件状态与历史记录
type CheckBatch struct {
	BatchID      string
	ClusterID    uint
	ScheduleType ScheduleType
	Status       HealthStatus
	Message      string
	CheckedAt    time.Time
	Addons       []CheckResult
	Logs         []CheckLog
}

// Summary 仪表盘汇总
type Summary struct {
	TotalClusters int `json:"total_clusters"`
	Healthy       int `json:"healthy"`
	Warning       int `json:"warning"`
	Critical      int `json:"critical"`
	Unknown       int `json:"unknown"`
	Running       int `json:"running"`
	// TodayChecks 今天（按调度时区）完成的检查次数
	TodayChecks int `json:"today_checks_count"`
}

// ClusterStatusView 单集群状态视图
type ClusterStatusView struct {
	ClusterID     uint         `json:"cluster_id"`
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	StatusMessage string       `json:"status_message,omitempty"`
	RunState      RunState     `json:"run_state,omitempty"`
	LastCheckAt   *time.Time   `json:"last_check_at"`
	LastBatchID   string       `json:"last_batch_id,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	TodayChecks   int          `json:"today_checks_count"`
}
