package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MetricCard 保存的 PromQL 卡片
type MetricCard struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Title           string    `json:"title" gorm:"not null;size:100"`
	Description     string    `json:"description" gorm:"size:255"`
	Icon            string    `json:"icon" gorm:"size:16"`
	PromQL          string    `json:"promql" gorm:"column:promql;type:text;not null"`
	Unit            string    `json:"unit" gorm:"size:20"`
	DisplayType     string    `json:"display_type" gorm:"size:20;default:value"` // value / gauge / list
	Category        string    `json:"category" gorm:"size:50;default:custom"`
	Thresholds      string    `json:"thresholds" gorm:"size:100"` // "warning:70,critical:90"
	GrafanaPanelURL string    `json:"grafana_panel_url" gorm:"size:500"`
	SortOrder       int       `json:"sort_order"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Thresholds 卡片阈值，缺失的级别为 +Inf（不可达）
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// ParseThresholds 宽松解析 "warning:<n>,critical:<n>"
// 无法识别的片段被忽略；没有任何有效片段时 ok 为 false，表示无阈值
func ParseThresholds(s string) (t Thresholds, ok bool) {
	t = Thresholds{Warning: math.Inf(1), Critical: math.Inf(1)}
	for _, part := range strings.Split(s, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(n) {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "warning":
			t.Warning = n
			ok = true
		case "critical":
			t.Critical = n
			ok = true
		}
	}
	return t, ok
}

// Classify 按阈值判定数值所处的级别
func (t Thresholds) Classify(v float64) HealthStatus {
	switch {
	case v >= t.Critical:
		return StatusCritical
	case v >= t.Warning:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
