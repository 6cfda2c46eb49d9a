package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

var (
	clusterStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daily_monitor_cluster_status",
			Help: "Last committed cluster status (0=healthy, 1=warning, 2=critical)",
		},
		[]string{"cluster"},
	)

	checkRunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_monitor_check_runs_total",
			Help: "Cluster check runs by final state",
		},
		[]string{"cluster", "state"},
	)

	checkDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daily_monitor_check_duration_seconds",
			Help:    "Duration of a full cluster check",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"cluster"},
	)

	checkerResultsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_monitor_checker_results_total",
			Help: "Individual checker results by type and status",
		},
		[]string{"type", "status"},
	)

	gatewayRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_monitor_gateway_requests_total",
			Help: "External gateway calls by outcome (ok, offline, error)",
		},
		[]string{"gateway", "status"},
	)

	inflightChecksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "daily_monitor_inflight_checks",
			Help: "Cluster checks accepted and not yet finished",
		},
	)
)

func init() {
	prometheus.MustRegister(clusterStatusGauge)
	prometheus.MustRegister(checkRunsCounter)
	prometheus.MustRegister(checkDurationHistogram)
	prometheus.MustRegister(checkerResultsCounter)
	prometheus.MustRegister(gatewayRequestsCounter)
	prometheus.MustRegister(inflightChecksGauge)
}

// Handler /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun 记录一次集群检查的结果
func ObserveRun(cluster string, state models.RunState, status models.HealthStatus, elapsed time.Duration) {
	checkRunsCounter.WithLabelValues(cluster, string(state)).Inc()
	checkDurationHistogram.WithLabelValues(cluster).Observe(elapsed.Seconds())
	if state == models.RunSucceeded {
		clusterStatusGauge.WithLabelValues(cluster).Set(float64(status.Severity()))
	}
}

// ObserveChecker 记录单个检查项结果
func ObserveChecker(t models.AddonType, status models.HealthStatus) {
	checkerResultsCounter.WithLabelValues(string(t), string(status)).Inc()
}

// ObserveGateway 记录外部网关调用
func ObserveGateway(gateway string, status models.GatewayStatus) {
	gatewayRequestsCounter.WithLabelValues(gateway, string(status)).Inc()
}

// ForgetCluster 集群删除后移除其指标
func ForgetCluster(cluster string) {
	clusterStatusGauge.DeleteLabelValues(cluster)
}

// InflightInc 检查开始
func InflightInc() { inflightChecksGauge.Inc() }

// InflightDec 检查结束
func InflightDec() { inflightChecksGauge.Dec() }
