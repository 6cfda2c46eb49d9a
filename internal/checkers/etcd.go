package checkers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// DefaultEtcdDBSizeWarning etcd 数据库超过该大小判定为 warning
const DefaultEtcdDBSizeWarning int64 = 100 * 1024 * 1024

// ExecFunc 在 Pod 中执行命令
type ExecFunc func(ctx context.Context, clients *k8s.Clients, namespace, pod, container string, command []string) (string, string, error)

func defaultExec(ctx context.Context, clients *k8s.Clients, namespace, pod, container string, command []string) (string, string, error) {
	return clients.ExecInPod(ctx, namespace, pod, container, command)
}

// EtcdChecker 通过 etcdctl endpoint status 检查 leader 与数据库大小
type EtcdChecker struct {
	Exec            ExecFunc
	DBSizeWarnBytes int64
}

func NewEtcdChecker() *EtcdChecker {
	return &EtcdChecker{Exec: defaultExec, DBSizeWarnBytes: DefaultEtcdDBSizeWarning}
}

func (c *EtcdChecker) Type() models.AddonType { return models.AddonEtcdLeader }

// etcdctl endpoint status --write-out=json 的输出
type etcdEndpointStatus struct {
	Endpoint string `json:"Endpoint"`
	Status   struct {
		Header struct {
			MemberID uint64 `json:"member_id"`
		} `json:"header"`
		Version     string `json:"version"`
		DBSize      int64  `json:"dbSize"`
		DBSizeInUse int64  `json:"dbSizeInUse"`
		Leader      uint64 `json:"leader"`
		RaftIndex   uint64 `json:"raftIndex"`
		RaftTerm    uint64 `json:"raftTerm"`
	} `json:"Status"`
}

func (c *EtcdChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	namespace := t.Config("namespace", "kube-system")

	pods, err := clients.Kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: t.Config("label_selector", "component=etcd"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("list etcd pods: %w", err)
	}

	details := &models.EtcdDetails{PodCount: len(pods.Items)}
	if details.PodCount == 0 {
		details.Error = "no_etcd_pods"
		return Result{
			Status:         models.StatusCritical,
			Message:        "no etcd pods found in " + namespace,
			Details:        details,
			ResponseTimeMs: elapsedMs(start),
		}, nil
	}

	var target *corev1.Pod
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase == corev1.PodRunning {
			details.RunningPods++
			if target == nil {
				target = pod
			}
		}
		if podReady(pod) {
			details.ReadyPods++
		}
	}
	if target == nil {
		details.Error = "no_running_etcd_pod"
		return Result{
			Status:         models.StatusCritical,
			Message:        fmt.Sprintf("0/%d etcd pods running", details.PodCount),
			Details:        details,
			ResponseTimeMs: elapsedMs(start),
		}, nil
	}
	details.Pod = target.Name

	stdout, stderr, err := c.Exec(ctx, clients, namespace, target.Name, t.Config("container", "etcd"), etcdctlCommand(t))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		details.ExecError = strings.TrimSpace(err.Error() + " " + stderr)
		return podStatusFallback(details, start), nil
	}

	var statuses []etcdEndpointStatus
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &statuses); err != nil || len(statuses) == 0 {
		details.ExecError = "unparsable etcdctl output"
		return podStatusFallback(details, start), nil
	}

	st := statuses[0].Status
	details.Source = "etcdctl"
	details.MemberID = fmt.Sprintf("%x", st.Header.MemberID)
	details.LeaderID = fmt.Sprintf("%x", st.Leader)
	details.HasLeader = st.Leader != 0
	details.IsLeader = st.Leader != 0 && st.Leader == st.Header.MemberID
	details.Version = st.Version
	details.RaftTerm = st.RaftTerm
	details.RaftIndex = st.RaftIndex
	details.DBSizeBytes = st.DBSize
	details.DBInUseBytes = st.DBSizeInUse

	res := Result{Details: details, ResponseTimeMs: elapsedMs(start)}
	dbMB := float64(st.DBSize) / 1024 / 1024
	switch {
	case !details.HasLeader:
		res.Status = models.StatusCritical
		res.Message = "etcd has no leader"
	case st.DBSize > c.DBSizeWarnBytes:
		res.Status = models.StatusWarning
		res.Message = fmt.Sprintf("etcd db size %.1fMB exceeds %.0fMB", dbMB, float64(c.DBSizeWarnBytes)/1024/1024)
	case details.ReadyPods < details.PodCount:
		res.Status = models.StatusWarning
		res.Message = fmt.Sprintf("etcd leader %s, %d/%d pods ready", details.LeaderID, details.ReadyPods, details.PodCount)
	default:
		res.Status = models.StatusHealthy
		res.Message = fmt.Sprintf("etcd %s leader %s, db %.1fMB", st.Version, details.LeaderID, dbMB)
	}
	return res, nil
}

func etcdctlCommand(t *Target) []string {
	return []string{
		"etcdctl", "endpoint", "status",
		"--cacert=" + t.Config("cacert", "/etc/kubernetes/pki/etcd/ca.crt"),
		"--cert=" + t.Config("cert", "/etc/kubernetes/pki/etcd/server.crt"),
		"--key=" + t.Config("key", "/etc/kubernetes/pki/etcd/server.key"),
		"--write-out=json",
	}
}

// podStatusFallback 无法执行 etcdctl 时按 Pod 就绪情况判定
func podStatusFallback(d *models.EtcdDetails, start time.Time) Result {
	d.Source = "pod-status"
	res := Result{Details: d, ResponseTimeMs: elapsedMs(start)}
	if d.ReadyPods == d.PodCount {
		res.Status = models.StatusHealthy
		res.Message = fmt.Sprintf("%d/%d etcd pods ready (leader not verified)", d.ReadyPods, d.PodCount)
	} else {
		res.Status = models.StatusWarning
		res.Message = fmt.Sprintf("%d/%d etcd pods ready", d.ReadyPods, d.PodCount)
	}
	return res
}
