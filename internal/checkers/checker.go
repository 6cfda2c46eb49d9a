package checkers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// Target 一次检查的输入
type Target struct {
	Cluster *models.Cluster
	// 基线检查时为 nil
	Addon *models.Addon
	// 客户端创建失败时 Clients 为 nil，ClientErr 记录原因
	Clients   *k8s.Clients
	ClientErr error
	HTTP      *http.Client
}

// Config 读取插件配置
func (t *Target) Config(key, def string) string {
	if t.Addon == nil {
		return def
	}
	return t.Addon.ConfigValue(key, def)
}

func (t *Target) kube() (*k8s.Clients, error) {
	if t.ClientErr != nil {
		return nil, t.ClientErr
	}
	if t.Clients == nil || t.Clients.Kube == nil {
		return nil, errors.New("集群客户端不可用")
	}
	return t.Clients, nil
}

func (t *Target) httpClient() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return http.DefaultClient
}

// Result 检查结果
type Result struct {
	Status         models.HealthStatus
	Message        string
	Details        models.Details
	ResponseTimeMs int64
}

// Checker 单项健康检查
// 返回 error 表示检查本身失败，由 Run 统一转换为 critical 结果
type Checker interface {
	Type() models.AddonType
	Check(ctx context.Context, target *Target) (Result, error)
}

// requiredKeys 各类型必填配置
var requiredKeys = map[models.AddonType][]string{
	models.AddonNexus:    {"url"},
	models.AddonJenkins:  {"url"},
	models.AddonKeycloak: {"url"},
	models.AddonGeneric:  {"url"},
}

// RequiredKeys 返回类型的必填配置项
func RequiredKeys(t models.AddonType) []string {
	return requiredKeys[t]
}

// ValidateConfig 校验插件配置，在任何网络调用之前执行
func ValidateConfig(t models.AddonType, config map[string]string) error {
	var missing []string
	for _, key := range requiredKeys[t] {
		if strings.TrimSpace(config[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if v, ok := config["timeout_seconds"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			return fmt.Errorf("invalid timeout_seconds: %q", v)
		}
	}
	return nil
}

// TimeoutFor 插件配置的超时，未配置时使用默认值
func TimeoutFor(addon *models.Addon, def time.Duration) time.Duration {
	if addon == nil {
		return def
	}
	if n, err := strconv.Atoi(addon.ConfigValue("timeout_seconds", "")); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// Registry 检查项类型到实现的映射
type Registry struct {
	checkers map[models.AddonType]Checker
}

// NewRegistry 用给定实现创建注册表
func NewRegistry(checkers ...Checker) *Registry {
	r := &Registry{checkers: make(map[models.AddonType]Checker, len(checkers))}
	for _, c := range checkers {
		r.checkers[c.Type()] = c
	}
	return r
}

// DefaultRegistry 内置的全部检查项
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewAPIServerChecker(),
		NewEtcdChecker(),
		NewNodeChecker(),
		NewControlPlaneChecker(),
		NewSystemPodChecker(),
		NewArgoCDChecker(),
		NewNexusChecker(),
		NewJenkinsChecker(),
		NewKeycloakChecker(),
		NewGenericChecker(),
	)
}

// Get 按类型查找实现
func (r *Registry) Get(t models.AddonType) (Checker, bool) {
	c, ok := r.checkers[t]
	return c, ok
}

// Run 在超时内执行检查，保证不 panic、不返回错误
func Run(ctx context.Context, c Checker, target *Target, timeout time.Duration) Result {
	start := time.Now()
	kind := c.Type()

	var config map[string]string
	if target.Addon != nil {
		config = target.Addon.Config
	}
	if err := ValidateConfig(kind, config); err != nil {
		return Result{
			Status:  models.StatusCritical,
			Message: "configuration error: " + err.Error(),
			Details: models.FailureDetails(kind, err.Error()),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("checker panic: %v", r)}
			}
		}()
		res, err := c.Check(ctx, target)
		done <- outcome{res: res, err: err}
	}()

	var res Result
	select {
	case o := <-done:
		res = o.res
		if o.err != nil {
			res = failure(kind, res, o.err, ctx.Err())
		}
	case <-ctx.Done():
		res = failure(kind, Result{}, ctx.Err(), ctx.Err())
	}

	if !res.Status.IsTerminal() {
		res.Status = models.StatusCritical
	}
	if res.Details == nil {
		res.Details = models.NewDetails(kind)
	}
	if res.ResponseTimeMs == 0 {
		res.ResponseTimeMs = time.Since(start).Milliseconds()
	}
	return res
}

func failure(kind models.AddonType, partial Result, err, ctxErr error) Result {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded) {
		reason = "timeout"
	} else if errors.Is(err, context.Canceled) {
		reason = "cancelled"
	}
	details := partial.Details
	if details == nil {
		details = models.NewDetails(kind)
	}
	details.SetError(reason)
	msg := fmt.Sprintf("%s check failed: %s", kind, reason)
	if reason != err.Error() {
		msg = fmt.Sprintf("%s check %s", kind, reason)
	}
	return Result{
		Status:         models.StatusCritical,
		Message:        msg,
		Details:        details,
		ResponseTimeMs: partial.ResponseTimeMs,
	}
}

func elapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms == 0 {
		return 1
	}
	return ms
}
