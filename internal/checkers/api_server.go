package checkers

import (
	"context"
	"fmt"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// LivezFunc 请求 /livez 并返回状态码
type LivezFunc func(ctx context.Context, clients *k8s.Clients) (int, error)

func defaultLivez(ctx context.Context, clients *k8s.Clients) (int, error) {
	return clients.Livez(ctx)
}

// DefaultSlowAPIThreshold API 响应超过该值判定为 warning
const DefaultSlowAPIThreshold = 3 * time.Second

// APIServerChecker 基线检查：API Server 存活与延迟
type APIServerChecker struct {
	Livez         LivezFunc
	SlowThreshold time.Duration
}

func NewAPIServerChecker() *APIServerChecker {
	return &APIServerChecker{Livez: defaultLivez, SlowThreshold: DefaultSlowAPIThreshold}
}

func (c *APIServerChecker) Type() models.AddonType { return models.AddonAPIServer }

func (c *APIServerChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	code, err := c.Livez(ctx, clients)
	latency := elapsedMs(start)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	details := &models.APIServerDetails{
		Endpoint:   t.Cluster.APIServer,
		LatencyMs:  latency,
		HTTPStatus: code,
	}
	status, msg := classifyLivez(code, err, time.Duration(latency)*time.Millisecond, c.SlowThreshold)
	if err != nil {
		details.Error = err.Error()
	}
	if status == models.StatusHealthy || status == models.StatusWarning {
		details.ServerVersion = clients.ServerVersion()
	}
	return Result{Status: status, Message: msg, Details: details, ResponseTimeMs: latency}, nil
}

// classifyLivez 2xx 按延迟判定，4xx 表示服务端有响应为 warning，5xx 与网络错误为 critical
func classifyLivez(code int, err error, latency, slow time.Duration) (models.HealthStatus, string) {
	switch {
	case err == nil && code < 400:
		if latency > slow {
			return models.StatusWarning, fmt.Sprintf("API server slow: %dms", latency.Milliseconds())
		}
		return models.StatusHealthy, fmt.Sprintf("API server healthy (%dms)", latency.Milliseconds())
	case code >= 400 && code < 500:
		return models.StatusWarning, fmt.Sprintf("API server answered %d", code)
	case code >= 500:
		return models.StatusCritical, fmt.Sprintf("API server error %d", code)
	default:
		return models.StatusCritical, fmt.Sprintf("API server unreachable: %v", err)
	}
}
