package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sony/gobreaker"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

const prometheusGateway = "prometheus"

// MetricsGateway PromQL 查询网关，失败只体现在结果状态中
type MetricsGateway interface {
	Query(ctx context.Context, promql string) models.QueryResult
	Health(ctx context.Context) models.QueryResult
}

// PrometheusService Prometheus 查询服务
type PrometheusService struct {
	url     string
	client  api.Client
	api     promv1.API
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     *logger.Logger
}

// NewPrometheusService 创建 Prometheus 服务
func NewPrometheusService(url string, timeout time.Duration) (*PrometheusService, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
		RoundTripper: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Prometheus 客户端失败: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PrometheusService{
		url:     url,
		client:  client,
		api:     promv1.NewAPI(client),
		breaker: newGatewayBreaker(prometheusGateway),
		timeout: timeout,
		log:     logger.Named(prometheusGateway),
	}, nil
}

// newGatewayBreaker 连续 5 次传输失败后熔断 30 秒
func newGatewayBreaker(name string) *gobreaker.CircuitBreaker {
	log := logger.Named(name)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变化: %s -> %s", from, to)
		},
	})
}

// breakerOpen 熔断器拒绝的调用
func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type promAnswer struct {
	value    model.Value
	apiError *promv1.Error
}

// Query 执行即时查询
// 传输失败、超时或熔断返回 offline；Prometheus 返回的错误为 error
func (s *PrometheusService) Query(ctx context.Context, promql string) models.QueryResult {
	result := models.QueryResult{Query: promql}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.breaker.Execute(func() (interface{}, error) {
		value, warnings, err := s.api.Query(ctx, promql, time.Now())
		if len(warnings) > 0 {
			s.log.Debug("查询 %q 返回警告: %v", promql, warnings)
		}
		var apiErr *promv1.Error
		if errors.As(err, &apiErr) {
			// 服务端可达，不计入熔断
			return promAnswer{apiError: apiErr}, nil
		}
		if err != nil {
			return nil, err
		}
		return promAnswer{value: value}, nil
	})
	if err != nil {
		result.Status = models.GatewayOffline
		result.Error = err.Error()
		if breakerOpen(err) {
			result.Error = "prometheus circuit open"
		}
		s.log.Debug("Prometheus 不可用: %v", err)
		metrics.ObserveGateway(prometheusGateway, result.Status)
		return result
	}

	answer := out.(promAnswer)
	if answer.apiError != nil {
		result.Status = models.GatewayError
		result.Error = answer.apiError.Msg
		s.log.Warn("PromQL 查询失败 %q: %s", promql, answer.apiError.Msg)
		metrics.ObserveGateway(prometheusGateway, result.Status)
		return result
	}

	result.Status = models.GatewayOK
	shapeValue(&result, answer.value)
	metrics.ObserveGateway(prometheusGateway, result.Status)
	return result
}

// Health 探测 /-/healthy
func (s *PrometheusService) Health(ctx context.Context) models.QueryResult {
	result := models.QueryResult{Query: "/-/healthy"}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.URL("/-/healthy", nil).String(), nil)
		if err != nil {
			return nil, err
		}
		resp, _, err := s.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.StatusCode, nil
	})
	switch {
	case err != nil:
		result.Status = models.GatewayOffline
		result.Error = err.Error()
	case out.(int) != http.StatusOK:
		result.Status = models.GatewayError
		result.Error = fmt.Sprintf("HTTP %d", out.(int))
	default:
		result.Status = models.GatewayOK
	}
	metrics.ObserveGateway(prometheusGateway, result.Status)
	return result
}

// shapeValue 标量取 value；单条向量同时给出 value 与 labels；多条向量只给 results
func shapeValue(result *models.QueryResult, value model.Value) {
	result.Results = []models.SeriesValue{}
	switch v := value.(type) {
	case *model.Scalar:
		result.Value = roundValue(float64(v.Value))
	case model.Vector:
		for _, sample := range v {
			result.Results = append(result.Results, models.SeriesValue{
				Labels: metricLabels(sample.Metric),
				Value:  roundValue(float64(sample.Value)),
			})
		}
		if len(v) == 1 {
			result.Value = result.Results[0].Value
			result.Labels = result.Results[0].Labels
		}
	case nil:
	default:
		result.Raw = v
	}
}

func metricLabels(m model.Metric) map[string]string {
	labels := make(map[string]string, len(m))
	for k, v := range m {
		labels[string(k)] = string(v)
	}
	return labels
}

// roundValue 保留 4 位小数，NaN 与无穷返回 nil
func roundValue(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	r := math.Round(f*1e4) / 1e4
	return &r
}
