package models

import "time"

// GatewayStatus 外部服务调用结果状态
type GatewayStatus string

const (
	GatewayOK      GatewayStatus = "ok"
	GatewayOffline GatewayStatus = "offline"
	GatewayError   GatewayStatus = "error"
)

// QueryResult PromQL 查询结果，任何失败都体现在 Status 中
type QueryResult struct {
	Status  GatewayStatus     `json:"status"`
	Query   string            `json:"query"`
	Value   *float64          `json:"value"`
	Labels  map[string]string `json:"labels,omitempty"`
	Results []SeriesValue     `json:"results"`
	Raw     interface{}       `json:"raw,omitempty"` // 矩阵或字符串结果原样返回
	Error   string            `json:"error,omitempty"`
}

// SeriesValue 向量结果中的一条序列
type SeriesValue struct {
	Labels map[string]string `json:"labels"`
	Value  *float64          `json:"value"`
}

// CardResult 卡片查询结果
type CardResult struct {
	Card         MetricCard   `json:"card"`
	Result       QueryResult  `json:"result"`
	Level        HealthStatus `json:"level,omitempty"`
	HasThreshold bool         `json:"has_threshold"`
}

// ChatRequest 向本地 LLM 提问
type ChatRequest struct {
	Question  string `json:"question" binding:"required"`
	ClusterID *uint  `json:"cluster_id,omitempty"`
}

// ChatResponse LLM 回答
type ChatResponse struct {
	Status     GatewayStatus `json:"status"`
	Answer     string        `json:"answer,omitempty"`
	Model      string        `json:"model,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// PullPhase 模型下载阶段
type PullPhase string

const (
	PullIdle        PullPhase = "idle"
	PullDownloading PullPhase = "downloading"
	PullVerifying   PullPhase = "verifying"
	PullSucceeded   PullPhase = "success"
	PullFailed      PullPhase = "failed"
	PullCancelled   PullPhase = "cancelled"
)

// PullProgress 模型下载进度，跨所有分层汇总
type PullProgress struct {
	Model           string    `json:"model"`
	Phase           PullPhase `json:"phase"`
	Status          string    `json:"status,omitempty"`
	PercentComplete float64   `json:"percent_complete"`
	BytesDone       int64     `json:"bytes_done"`
	BytesTotal      int64     `json:"bytes_total"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// 本地 LLM 服务状态
const (
	AgentOnline  = "online"
	AgentOffline = "offline"
)

// AgentHealth 本地 LLM 状态
type AgentHealth struct {
	Status     string        `json:"status"`
	URL        string        `json:"url"`
	Model      string        `json:"model"`
	ModelReady bool          `json:"model_ready"`
	Pulling    bool          `json:"pulling"`
	Progress   *PullProgress `json:"progress,omitempty"`
	Error      string        `json:"error,omitempty"`
}
