package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

const ollamaGateway = "ollama"

// systemPrompt 运维助手的系统提示词
const systemPrompt = "You are a Kubernetes operations assistant embedded in a monitoring dashboard. " +
	"You help DevOps engineers diagnose cluster issues, interpret health-check results, " +
	"and suggest remediation steps. Be concise, technical, and actionable. " +
	"When given cluster context (node status, failing checks, etc.), reference it directly."

// ErrPullInProgress 已有模型在下载
var ErrPullInProgress = errors.New("模型正在下载中")

// AgentGateway 本地 LLM 网关，失败只体现在结果状态中
type AgentGateway interface {
	Ask(ctx context.Context, question string, cc *ClusterContext) models.ChatResponse
	Health(ctx context.Context) models.AgentHealth
	PullModel(ctx context.Context, model string, onProgress func(models.PullProgress)) (models.PullProgress, error)
	ListModels(ctx context.Context) ModelList
}

// ClusterContext 注入到提示词中的集群信息
type ClusterContext struct {
	ClusterName   string
	ClusterStatus models.HealthStatus
	Problems      []string
}

// NewClusterContext 由集群与最近一次结果构造上下文
func NewClusterContext(cluster *models.Cluster, entry *BoardEntry) *ClusterContext {
	cc := &ClusterContext{ClusterName: cluster.Name, ClusterStatus: cluster.DisplayStatus()}
	if entry == nil {
		for _, a := range cluster.Addons {
			if a.Status != "" && a.Status != models.StatusHealthy {
				cc.Problems = append(cc.Problems, fmt.Sprintf("%s (%s): %s", a.Name, a.Status, a.Message))
			}
		}
		return cc
	}
	cc.ClusterStatus = entry.Status
	for _, r := range entry.Results {
		if r.Status != models.StatusHealthy {
			cc.Problems = append(cc.Problems, fmt.Sprintf("%s (%s): %s", r.Name, r.Status, r.Message))
		}
	}
	return cc
}

// ModelList 已下载的模型
type ModelList struct {
	Status models.GatewayStatus `json:"status"`
	Models []string             `json:"models"`
	Error  string               `json:"error,omitempty"`
}

// AgentService Ollama 代理
type AgentService struct {
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	mu       sync.Mutex
	pulling  bool
	progress *models.PullProgress
	cancel   context.CancelFunc
}

// NewAgentService 创建 Ollama 代理
func NewAgentService(baseURL, model string, timeout time.Duration) *AgentService {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AgentService{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		// 下载模型为长连接，超时由 ctx 控制
		http:    &http.Client{},
		breaker: newGatewayBreaker(ollamaGateway),
		log:     logger.Named(ollamaGateway),
	}
}

// httpStatusError 服务端可达但返回了非 2xx
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

// call 经熔断器执行请求；只有传输层失败计入熔断
func (s *AgentService) call(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("序列化请求失败: %w", err)
			}
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			return &httpStatusError{code: resp.StatusCode, body: string(data)}, nil
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if se, ok := out.(*httpStatusError); ok {
		return nil, se
	}
	return out.([]byte), nil
}

// classify 服务端返回的错误为 error，其它均为 offline
func classify(err error) models.GatewayStatus {
	var se *httpStatusError
	if errors.As(err, &se) {
		return models.GatewayError
	}
	return models.GatewayOffline
}

// Ask 提问，Ollama 不可用时返回友好提示而不是错误
func (s *AgentService) Ask(ctx context.Context, question string, cc *ClusterContext) models.ChatResponse {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.call(ctx, http.MethodPost, "/api/generate", map[string]interface{}{
		"model":  s.model,
		"prompt": buildPrompt(question, cc),
		"system": systemPrompt,
		"stream": false,
	})
	resp := models.ChatResponse{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		resp.Status = classify(err)
		resp.Error, resp.Answer = s.explain(err)
		s.log.Warn("调用 Ollama 失败: %v", err)
		metrics.ObserveGateway(ollamaGateway, resp.Status)
		return resp
	}

	var body struct {
		Model    string `json:"model"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		resp.Status = models.GatewayError
		resp.Error = fmt.Sprintf("invalid response: %v", err)
		resp.Answer = "AI Agent returned an unreadable response."
		metrics.ObserveGateway(ollamaGateway, resp.Status)
		return resp
	}
	resp.Status = models.GatewayOK
	resp.Answer = body.Response
	resp.Model = body.Model
	if resp.Model == "" {
		resp.Model = s.model
	}
	metrics.ObserveGateway(ollamaGateway, resp.Status)
	return resp
}

// explain 返回错误原因与展示给用户的提示
func (s *AgentService) explain(err error) (reason, answer string) {
	var se *httpStatusError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		return "model not available", fmt.Sprintf("Model '%s' is not available. It may still be downloading.", s.model)
	case errors.As(err, &se):
		return se.Error(), fmt.Sprintf("AI Agent returned an error (HTTP %d).", se.code)
	case breakerOpen(err):
		return "ollama circuit open", "AI Agent is temporarily unavailable."
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "AI Agent request timed out. The model may be loading or the server is overloaded."
	default:
		return err.Error(), "AI Agent is currently unavailable. Ollama service is not reachable."
	}
}

// buildPrompt 有集群上下文时拼接到问题之前
func buildPrompt(question string, cc *ClusterContext) string {
	if cc == nil {
		return question
	}
	var parts []string
	if cc.ClusterName != "" {
		parts = append(parts, "Cluster: "+cc.ClusterName)
	}
	if cc.ClusterStatus != "" {
		parts = append(parts, "Cluster status: "+string(cc.ClusterStatus))
	}
	if len(cc.Problems) > 0 {
		parts = append(parts, "Error messages:\n"+strings.Join(cc.Problems, "\n"))
	}
	if len(parts) == 0 {
		return question
	}
	return "### Cluster Context\n" + strings.Join(parts, "\n\n") + "\n\n### User Question\n" + question
}

// Health 探测 Ollama 与目标模型是否已下载
func (s *AgentService) Health(ctx context.Context) models.AgentHealth {
	h := models.AgentHealth{Status: models.AgentOffline, URL: s.baseURL, Model: s.model}
	s.mu.Lock()
	h.Pulling = s.pulling
	if s.progress != nil {
		p := *s.progress
		h.Progress = &p
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.call(ctx, http.MethodGet, "/", nil); err != nil {
		h.Error = err.Error()
		metrics.ObserveGateway(ollamaGateway, classify(err))
		return h
	}
	h.Status = models.AgentOnline

	names, err := s.tags(ctx)
	if err != nil {
		h.Error = err.Error()
		metrics.ObserveGateway(ollamaGateway, classify(err))
		return h
	}
	h.ModelReady = hasModel(names, s.model)
	if !h.ModelReady {
		h.Error = fmt.Sprintf("model '%s' not pulled", s.model)
	}
	metrics.ObserveGateway(ollamaGateway, models.GatewayOK)
	return h
}

// hasModel 比较时忽略 ":" 之后的标签
func hasModel(names []string, model string) bool {
	base, _, _ := strings.Cut(model, ":")
	for _, n := range names {
		if n == model {
			return true
		}
		if nb, _, _ := strings.Cut(n, ":"); nb == base && !strings.Contains(model, ":") {
			return true
		}
	}
	return false
}

func (s *AgentService) tags(ctx context.Context) ([]string, error) {
	data, err := s.call(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}
	names := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ListModels 已下载的模型列表
func (s *AgentService) ListModels(ctx context.Context) ModelList {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	names, err := s.tags(ctx)
	if err != nil {
		out := ModelList{Status: classify(err), Models: []string{}, Error: err.Error()}
		metrics.ObserveGateway(ollamaGateway, out.Status)
		return out
	}
	metrics.ObserveGateway(ollamaGateway, models.GatewayOK)
	return ModelList{Status: models.GatewayOK, Models: names}
}

// pullLine Ollama /api/pull 流式返回的一行
type pullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// PullModel 流式下载模型，onProgress 在每次进度变化时调用
// 同一时间只允许一个下载；取消或失败后不再报告下载中
func (s *AgentService) PullModel(ctx context.Context, model string, onProgress func(models.PullProgress)) (models.PullProgress, error) {
	if model == "" {
		model = s.model
	}
	if s.breaker.State() == gobreaker.StateOpen {
		return models.PullProgress{Model: model, Phase: models.PullFailed, Error: "ollama circuit open"}, gobreaker.ErrOpenState
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.pulling {
		s.mu.Unlock()
		return models.PullProgress{}, ErrPullInProgress
	}
	s.pulling = true
	s.cancel = cancel
	s.progress = &models.PullProgress{Model: model, Phase: models.PullDownloading, UpdatedAt: time.Now()}
	s.mu.Unlock()

	final, err := s.streamPull(ctx, model, onProgress)
	if err != nil {
		final.Error = err.Error()
		final.Phase = models.PullFailed
		if ctx.Err() != nil {
			final.Phase = models.PullCancelled
		}
		s.log.Warn("下载模型 %s 失败: %v", model, err)
	}
	final.UpdatedAt = time.Now()

	s.mu.Lock()
	s.pulling = false
	s.cancel = nil
	s.progress = &final
	s.mu.Unlock()

	if onProgress != nil && final.Phase != models.PullSucceeded {
		onProgress(final)
	}
	metrics.ObserveGateway(ollamaGateway, pullGatewayStatus(final.Phase))
	return final, err
}

func pullGatewayStatus(p models.PullPhase) models.GatewayStatus {
	switch p {
	case models.PullSucceeded:
		return models.GatewayOK
	case models.PullFailed:
		return models.GatewayError
	default:
		return models.GatewayOffline
	}
}

func (s *AgentService) streamPull(ctx context.Context, model string, onProgress func(models.PullProgress)) (models.PullProgress, error) {
	progress := models.PullProgress{Model: model, Phase: models.PullDownloading}

	data, _ := json.Marshal(map[string]interface{}{"name": model, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/pull", bytes.NewReader(data))
	if err != nil {
		return progress, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return progress, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return progress, &httpStatusError{code: resp.StatusCode}
	}

	totals := map[string]int64{}
	completed := map[string]int64{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var pl pullLine
		if err := json.Unmarshal(line, &pl); err != nil {
			continue
		}
		if pl.Error != "" {
			return progress, errors.New(pl.Error)
		}
		if pl.Digest != "" && pl.Total > 0 {
			totals[pl.Digest] = pl.Total
			completed[pl.Digest] = pl.Completed
		}
		progress = aggregatePull(progress, pl.Status, totals, completed)
		s.setProgress(progress)
		if onProgress != nil {
			onProgress(progress)
		}
		if progress.Phase == models.PullSucceeded {
			return progress, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return progress, err
	}
	if ctx.Err() != nil {
		return progress, ctx.Err()
	}
	return progress, errors.New("pull stream ended before success")
}

// aggregatePull 跨所有分层汇总进度
func aggregatePull(p models.PullProgress, status string, totals, completed map[string]int64) models.PullProgress {
	var sumTotal, sumDone int64
	for d, t := range totals {
		sumTotal += t
		sumDone += completed[d]
	}
	p.Status = status
	p.BytesTotal = sumTotal
	p.BytesDone = sumDone
	p.PercentComplete = 0
	if sumTotal > 0 {
		p.PercentComplete = math.Round(float64(sumDone)/float64(sumTotal)*1000) / 10
	}
	p.UpdatedAt = time.Now()
	switch {
	case status == "success":
		p.Phase = models.PullSucceeded
		p.PercentComplete = 100
	case strings.HasPrefix(status, "verifying"), strings.HasPrefix(status, "writing"):
		p.Phase = models.PullVerifying
	default:
		p.Phase = models.PullDownloading
	}
	return p
}

func (s *AgentService) setProgress(p models.PullProgress) {
	s.mu.Lock()
	s.progress = &p
	s.mu.Unlock()
}

// CancelPull 取消进行中的下载，没有下载时返回 false
func (s *AgentService) CancelPull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pulling || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Progress 当前下载进度
func (s *AgentService) Progress() (models.PullProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return models.PullProgress{}, false
	}
	return *s.progress, s.pulling
}
