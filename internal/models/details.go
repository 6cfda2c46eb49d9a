package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Details 检查详情，按检查项类型区分的联合类型
type Details interface {
	Kind() AddonType
	ErrorReason() string
	SetError(reason string)
}

// DetailsBase 所有详情共有的字段
type DetailsBase struct {
	Error string `json:"error,omitempty"`
}

func (b *DetailsBase) ErrorReason() string    { return b.Error }
func (b *DetailsBase) SetError(reason string) { b.Error = reason }

// APIServerDetails API Server /livez 探测
type APIServerDetails struct {
	DetailsBase
	Endpoint      string `json:"endpoint,omitempty"`
	LatencyMs     int64  `json:"latency_ms"`
	HTTPStatus    int    `json:"http_status,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
}

func (*APIServerDetails) Kind() AddonType { return AddonAPIServer }

// EtcdDetails etcd 成员与 leader 状态
type EtcdDetails struct {
	DetailsBase
	PodCount     int    `json:"pod_count"`
	RunningPods  int    `json:"running_pods"`
	ReadyPods    int    `json:"ready_pods"`
	Pod          string `json:"pod,omitempty"`
	Source       string `json:"source,omitempty"` // etcdctl / pod-status
	MemberID     string `json:"member_id,omitempty"`
	LeaderID     string `json:"leader_id,omitempty"`
	IsLeader     bool   `json:"is_leader"`
	HasLeader    bool   `json:"has_leader"`
	Version      string `json:"version,omitempty"`
	RaftTerm     uint64 `json:"raft_term,omitempty"`
	RaftIndex    uint64 `json:"raft_index,omitempty"`
	DBSizeBytes  int64  `json:"db_size_bytes,omitempty"`
	DBInUseBytes int64  `json:"db_size_in_use_bytes,omitempty"`
	ExecError    string `json:"exec_error,omitempty"`
}

func (*EtcdDetails) Kind() AddonType { return AddonEtcdLeader }

// NodeDetails 节点 Ready 与压力状态
type NodeDetails struct {
	DetailsBase
	TotalNodes int      `json:"total_nodes"`
	ReadyNodes int      `json:"ready_nodes"`
	NotReady   []string `json:"not_ready,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

func (*NodeDetails) Kind() AddonType { return AddonNodeCheck }

// ComponentStatus 控制面单个组件状态
type ComponentStatus struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Ready     int          `json:"ready,omitempty"`
	Total     int          `json:"total,omitempty"`
	LatencyMs int64        `json:"latency_ms,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// ControlPlaneDetails 控制面组件
type ControlPlaneDetails struct {
	DetailsBase
	Components []ComponentStatus `json:"components"`
}

func (*ControlPlaneDetails) Kind() AddonType { return AddonControlPlane }

// SystemPodDetails 系统组件（CNI / DNS / kube-proxy 等）
type SystemPodDetails struct {
	DetailsBase
	Namespace     string   `json:"namespace"`
	LabelSelector string   `json:"label_selector"`
	WorkloadKind  string   `json:"kind"` // daemonset / deployment
	TotalPods     int      `json:"total_pods"`
	ReadyPods     int      `json:"ready_pods"`
	ExpectedPods  int      `json:"expected_pods,omitempty"`
	ReadyPercent  float64  `json:"ready_percent"`
	NotReady      []string `json:"not_ready,omitempty"`
	HighRestarts  []string `json:"high_restarts,omitempty"`
}

func (*SystemPodDetails) Kind() AddonType { return AddonSystemPod }

// ArgoProblemApp 同步或健康异常的应用
type ArgoProblemApp struct {
	Name   string `json:"name"`
	Sync   string `json:"sync"`
	Health string `json:"health"`
}

// RolloutSummary Argo Rollouts 汇总
type RolloutSummary struct {
	Total       int      `json:"total"`
	Healthy     int      `json:"healthy"`
	Progressing int      `json:"progressing"`
	Paused      int      `json:"paused"`
	Degraded    int      `json:"degraded"`
	Problems    []string `json:"problems,omitempty"`
}

// ArgoCDDetails ArgoCD 应用同步与健康统计
type ArgoCDDetails struct {
	DetailsBase
	Namespace   string           `json:"namespace"`
	TotalApps   int              `json:"total_apps"`
	Synced      int              `json:"synced"`
	OutOfSync   int              `json:"out_of_sync"`
	Healthy     int              `json:"healthy"`
	Degraded    int              `json:"degraded"`
	Progressing int              `json:"progressing"`
	Missing     int              `json:"missing"`
	ProblemApps []ArgoProblemApp `json:"problem_apps,omitempty"`
	Rollouts    *RolloutSummary  `json:"rollouts,omitempty"`
}

func (*ArgoCDDetails) Kind() AddonType { return AddonArgoCD }

// NexusDetails Nexus 仓库读写状态
type NexusDetails struct {
	DetailsBase
	URL        string `json:"url"`
	Writable   bool   `json:"writable"`
	ReadOnly   bool   `json:"read_only"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

func (*NexusDetails) Kind() AddonType { return AddonNexus }

// JenkinsDetails Jenkins 模式与队列
type JenkinsDetails struct {
	DetailsBase
	URL          string `json:"url"`
	Mode         string `json:"mode,omitempty"`
	QuietingDown bool   `json:"quieting_down"`
	NumExecutors int    `json:"num_executors"`
	QueueLength  int    `json:"queue_length"`
	Description  string `json:"description,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`
}

func (*JenkinsDetails) Kind() AddonType { return AddonJenkins }

// KeycloakCheck Keycloak 子检查
type KeycloakCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// KeycloakDetails Keycloak 就绪状态
type KeycloakDetails struct {
	DetailsBase
	URL            string          `json:"url"`
	HealthStatus   string          `json:"health_status,omitempty"`
	DatabaseStatus string          `json:"database_status,omitempty"`
	Checks         []KeycloakCheck `json:"checks,omitempty"`
	HTTPStatus     int             `json:"http_status,omitempty"`
}

func (*KeycloakDetails) Kind() AddonType { return AddonKeycloak }

// GenericDetails 通用 HTTP 探测，JSON 响应体原样透传
type GenericDetails struct {
	DetailsBase
	URL        string                 `json:"url"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty"`
}

func (*GenericDetails) Kind() AddonType { return AddonGeneric }

// UnknownDetails 无法按类型解码的详情
type UnknownDetails struct {
	DetailsBase
	Type AddonType              `json:"type"`
	Raw  map[string]interface{} `json:"raw,omitempty"`
}

func (d *UnknownDetails) Kind() AddonType { return d.Type }

// NewDetails 返回指定类型的空详情
func NewDetails(t AddonType) Details {
	switch t {
	case AddonAPIServer:
		return &APIServerDetails{}
	case AddonEtcdLeader:
		return &EtcdDetails{}
	case AddonNodeCheck:
		return &NodeDetails{}
	case AddonControlPlane:
		return &ControlPlaneDetails{}
	case AddonSystemPod:
		return &SystemPodDetails{}
	case AddonArgoCD:
		return &ArgoCDDetails{}
	case AddonNexus:
		return &NexusDetails{}
	case AddonJenkins:
		return &JenkinsDetails{}
	case AddonKeycloak:
		return &KeycloakDetails{}
	case AddonGeneric:
		return &GenericDetails{}
	default:
		return &UnknownDetails{Type: t}
	}
}

// FailureDetails 只带失败原因的详情
func FailureDetails(t AddonType, reason string) Details {
	d := NewDetails(t)
	d.SetError(reason)
	return d
}

// DecodeDetails 按类型解码已存储的详情，无法解码时退化为 UnknownDetails，不返回错误
func DecodeDetails(t AddonType, raw string) Details {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d := NewDetails(t)
	if _, unknown := d.(*UnknownDetails); !unknown {
		if err := json.Unmarshal([]byte(raw), d); err == nil {
			return d
		}
	}
	u := &UnknownDetails{Type: t}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		u.Raw = m
		if e, ok := m["error"].(string); ok {
			u.Error = e
		}
	} else {
		u.Raw = map[string]interface{}{"raw": raw}
	}
	return u
}

// DetailsMap 将详情展开为键值，用于历史记录与报表
func DetailsMap(d Details) map[string]interface{} {
	if d == nil {
		return map[string]interface{}{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("序列化详情失败: %v", err)}
	}
	out := map[string]interface{}{}
	_ = json.Unmarshal(data, &out)
	return out
}

// DetailValue 读取详情中的字段，缺失时返回 "unknown"
func DetailValue(d Details, key string) string {
	v, ok := DetailsMap(d)[key]
	if !ok || v == nil {
		return "unknown"
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return "unknown"
		}
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
