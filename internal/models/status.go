package models

// HealthStatus 健康状态
// 持久化的终态只有 healthy / warning / critical，unknown 与 running 仅用于展示
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"

	StatusUnknown HealthStatus = "unknown"
	StatusRunning HealthStatus = "running"
)

// Severity 严重程度，越大越严重；非终态按 critical 处理
func (s HealthStatus) Severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

// IsTerminal 是否为可持久化的终态
func (s HealthStatus) IsTerminal() bool {
	return s == StatusHealthy || s == StatusWarning || s == StatusCritical
}

// WorseThan 比较严重程度
func (s HealthStatus) WorseThan(other HealthStatus) bool {
	return s.Severity() > other.Severity()
}

// Worst 取最差状态，空集合视为 critical
func Worst(statuses ...HealthStatus) HealthStatus {
	if len(statuses) == 0 {
		return StatusCritical
	}
	worst := StatusHealthy
	for _, s := range statuses {
		if !s.IsTerminal() {
			return StatusCritical
		}
		if s.WorseThan(worst) {
			worst = s
		}
	}
	return worst
}
