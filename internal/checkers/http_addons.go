package checkers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

const maxBodyBytes = 1 << 20

type httpResponse struct {
	code int
	body []byte
}

func httpGet(ctx context.Context, client *http.Client, url string, decorate func(*http.Request)) (*httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &httpResponse{code: resp.StatusCode, body: body}, nil
}

func baseURL(t *Target) string {
	return strings.TrimRight(t.Config("url", ""), "/")
}

// NexusChecker writable 返回 200 为正常，仅 status 返回 200 为只读
type NexusChecker struct{}

func NewNexusChecker() *NexusChecker { return &NexusChecker{} }

func (c *NexusChecker) Type() models.AddonType { return models.AddonNexus }

func (c *NexusChecker) Check(ctx context.Context, t *Target) (Result, error) {
	start := time.Now()
	base := baseURL(t)
	details := &models.NexusDetails{URL: base}

	resp, err := httpGet(ctx, t.httpClient(), base+"/service/rest/v1/status/writable", nil)
	if err != nil {
		return Result{Details: details}, err
	}
	details.HTTPStatus = resp.code
	if resp.code == http.StatusOK {
		details.Writable = true
		return Result{Status: models.StatusHealthy, Message: "Nexus is writable", Details: details, ResponseTimeMs: elapsedMs(start)}, nil
	}

	resp, err = httpGet(ctx, t.httpClient(), base+"/service/rest/v1/status", nil)
	if err != nil {
		return Result{Details: details}, err
	}
	details.HTTPStatus = resp.code
	if resp.code == http.StatusOK {
		details.ReadOnly = true
		return Result{Status: models.StatusWarning, Message: "Nexus is read-only", Details: details, ResponseTimeMs: elapsedMs(start)}, nil
	}
	details.Error = fmt.Sprintf("HTTP %d", resp.code)
	return Result{
		Status:         models.StatusCritical,
		Message:        fmt.Sprintf("Nexus status returned HTTP %d", resp.code),
		Details:        details,
		ResponseTimeMs: elapsedMs(start),
	}, nil
}

// DefaultJenkinsQueueWarning 队列长度超过该值判定为 warning
const DefaultJenkinsQueueWarning = 20

// JenkinsChecker 检查 Jenkins 运行模式与构建队列
type JenkinsChecker struct {
	QueueWarning int
}

func NewJenkinsChecker() *JenkinsChecker {
	return &JenkinsChecker{QueueWarning: DefaultJenkinsQueueWarning}
}

func (c *JenkinsChecker) Type() models.AddonType { return models.AddonJenkins }

func (c *JenkinsChecker) Check(ctx context.Context, t *Target) (Result, error) {
	start := time.Now()
	base := baseURL(t)
	details := &models.JenkinsDetails{URL: base}
	auth := func(req *http.Request) {
		if user := t.Config("username", ""); user != "" {
			req.SetBasicAuth(user, t.Config("api_token", ""))
		}
	}

	resp, err := httpGet(ctx, t.httpClient(), base+"/api/json", auth)
	if err != nil {
		return Result{Details: details}, err
	}
	details.HTTPStatus = resp.code
	if resp.code/100 != 2 {
		details.Error = fmt.Sprintf("HTTP %d", resp.code)
		return Result{Status: models.StatusCritical, Message: fmt.Sprintf("Jenkins returned HTTP %d", resp.code), Details: details, ResponseTimeMs: elapsedMs(start)}, nil
	}

	var info struct {
		Mode            string `json:"mode"`
		QuietingDown    bool   `json:"quietingDown"`
		NumExecutors    int    `json:"numExecutors"`
		NodeDescription string `json:"nodeDescription"`
	}
	if err := json.Unmarshal(resp.body, &info); err != nil {
		return Result{Details: details}, fmt.Errorf("decode jenkins response: %w", err)
	}
	details.Mode = info.Mode
	details.QuietingDown = info.QuietingDown
	details.NumExecutors = info.NumExecutors
	details.Description = info.NodeDescription

	// 队列长度获取失败不影响整体判定
	if q, err := httpGet(ctx, t.httpClient(), base+"/queue/api/json", auth); err == nil && q.code == http.StatusOK {
		var queue struct {
			Items []json.RawMessage `json:"items"`
		}
		if json.Unmarshal(q.body, &queue) == nil {
			details.QueueLength = len(queue.Items)
		}
	}

	res := Result{Details: details, ResponseTimeMs: elapsedMs(start)}
	switch {
	case info.QuietingDown:
		res.Status = models.StatusWarning
		res.Message = "Jenkins is quieting down"
	case info.Mode != "NORMAL":
		res.Status = models.StatusCritical
		res.Message = fmt.Sprintf("Jenkins mode is %s", orUnknown(info.Mode))
	case details.QueueLength > c.QueueWarning:
		res.Status = models.StatusWarning
		res.Message = fmt.Sprintf("Jenkins queue has %d items", details.QueueLength)
	default:
		res.Status = models.StatusHealthy
		res.Message = fmt.Sprintf("Jenkins normal, %d executors, queue %d", info.NumExecutors, details.QueueLength)
	}
	return res, nil
}

// KeycloakChecker 请求 /health/ready
type KeycloakChecker struct{}

func NewKeycloakChecker() *KeycloakChecker { return &KeycloakChecker{} }

func (c *KeycloakChecker) Type() models.AddonType { return models.AddonKeycloak }

func (c *KeycloakChecker) Check(ctx context.Context, t *Target) (Result, error) {
	start := time.Now()
	base := baseURL(t)
	details := &models.KeycloakDetails{URL: base}

	resp, err := httpGet(ctx, t.httpClient(), base+t.Config("health_path", "/health/ready"), nil)
	if err != nil {
		return Result{Details: details}, err
	}
	details.HTTPStatus = resp.code

	var health struct {
		Status string                   `json:"status"`
		Checks []map[string]interface{} `json:"checks"`
	}
	_ = json.Unmarshal(resp.body, &health)
	details.HealthStatus = health.Status
	for _, chk := range health.Checks {
		name, _ := chk["name"].(string)
		status, _ := chk["status"].(string)
		details.Checks = append(details.Checks, models.KeycloakCheck{Name: name, Status: status})
		if strings.Contains(strings.ToLower(name), "database") || strings.Contains(strings.ToLower(name), "db") {
			details.DatabaseStatus = status
		}
	}

	res := Result{Details: details, ResponseTimeMs: elapsedMs(start)}
	switch {
	case resp.code == http.StatusOK && health.Status == "UP":
		res.Status = models.StatusHealthy
		res.Message = "Keycloak is ready"
	case resp.code == http.StatusOK:
		res.Status = models.StatusWarning
		res.Message = fmt.Sprintf("Keycloak status %s", orUnknown(health.Status))
	default:
		details.Error = fmt.Sprintf("HTTP %d", resp.code)
		res.Status = models.StatusCritical
		res.Message = fmt.Sprintf("Keycloak not ready (HTTP %d)", resp.code)
	}
	return res, nil
}

// GenericChecker 通用 HTTP 探测，2xx 正常，3xx/4xx warning，5xx critical
type GenericChecker struct{}

func NewGenericChecker() *GenericChecker { return &GenericChecker{} }

func (c *GenericChecker) Type() models.AddonType { return models.AddonGeneric }

func (c *GenericChecker) Check(ctx context.Context, t *Target) (Result, error) {
	start := time.Now()
	url := t.Config("url", "")
	details := &models.GenericDetails{URL: url}

	client := t.httpClient()
	// 3xx 需要如实反映，不跟随跳转
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := httpGet(ctx, &noRedirect, url, func(req *http.Request) {
		if token := t.Config("bearer_token", ""); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	})
	if err != nil {
		return Result{Details: details}, err
	}
	details.HTTPStatus = resp.code

	var values map[string]interface{}
	if json.Unmarshal(resp.body, &values) == nil {
		details.Values = values
	}

	res := Result{Details: details, ResponseTimeMs: elapsedMs(start)}
	if expect := t.Config("expect_status", ""); expect != "" {
		want, _ := strconv.Atoi(expect)
		if resp.code == want {
			res.Status, res.Message = models.StatusHealthy, fmt.Sprintf("HTTP %d", resp.code)
		} else {
			res.Status, res.Message = models.StatusCritical, fmt.Sprintf("HTTP %d, expected %d", resp.code, want)
		}
		return res, nil
	}
	switch {
	case resp.code >= 500:
		res.Status = models.StatusCritical
	case resp.code >= 300:
		res.Status = models.StatusWarning
	default:
		res.Status = models.StatusHealthy
	}
	res.Message = fmt.Sprintf("HTTP %d", resp.code)
	return res, nil
}
