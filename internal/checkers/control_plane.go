package checkers

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

var defaultControlPlaneComponents = []string{"kube-scheduler", "kube-controller-manager"}

// ControlPlaneChecker API Server 延迟 + 静态 Pod 组件就绪情况，取最差
type ControlPlaneChecker struct {
	Livez         LivezFunc
	SlowThreshold time.Duration
}

func NewControlPlaneChecker() *ControlPlaneChecker {
	return &ControlPlaneChecker{Livez: defaultLivez, SlowThreshold: DefaultSlowAPIThreshold}
}

func (c *ControlPlaneChecker) Type() models.AddonType { return models.AddonControlPlane }

func (c *ControlPlaneChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	details := &models.ControlPlaneDetails{}

	// API Server
	livezStart := time.Now()
	code, perr := c.Livez(ctx, clients)
	latency := elapsedMs(livezStart)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	apiStatus, apiMsg := classifyLivez(code, perr, time.Duration(latency)*time.Millisecond, c.SlowThreshold)
	details.Components = append(details.Components, models.ComponentStatus{
		Name:      "kube-apiserver",
		Status:    apiStatus,
		LatencyMs: latency,
		Message:   apiMsg,
	})

	namespace := t.Config("namespace", "kube-system")
	components := defaultControlPlaneComponents
	if v := t.Config("components", ""); v != "" {
		components = splitCSV(v)
	}
	for _, name := range components {
		pods, err := clients.Kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "component=" + name,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			details.Components = append(details.Components, models.ComponentStatus{
				Name:    name,
				Status:  models.StatusCritical,
				Message: fmt.Sprintf("list pods failed: %v", err),
			})
			continue
		}
		details.Components = append(details.Components, componentFromPods(name, pods.Items))
	}

	statuses := make([]models.HealthStatus, 0, len(details.Components))
	var problems []string
	for _, comp := range details.Components {
		statuses = append(statuses, comp.Status)
		if comp.Status != models.StatusHealthy {
			problems = append(problems, fmt.Sprintf("%s: %s", comp.Name, comp.Message))
		}
	}
	overall := models.Worst(statuses...)
	msg := fmt.Sprintf("%d control plane components healthy", len(details.Components))
	if len(problems) > 0 {
		msg = strings.Join(problems, "; ")
	}
	return Result{Status: overall, Message: msg, Details: details, ResponseTimeMs: elapsedMs(start)}, nil
}

func componentFromPods(name string, pods []corev1.Pod) models.ComponentStatus {
	cs := models.ComponentStatus{Name: name, Total: len(pods)}
	for i := range pods {
		if podReady(&pods[i]) {
			cs.Ready++
		}
	}
	switch {
	case cs.Total == 0:
		cs.Status = models.StatusCritical
		cs.Message = "no pods found"
	case cs.Ready == 0:
		cs.Status = models.StatusCritical
		cs.Message = fmt.Sprintf("0/%d pods ready", cs.Total)
	case cs.Ready < cs.Total:
		cs.Status = models.StatusWarning
		cs.Message = fmt.Sprintf("%d/%d pods ready", cs.Ready, cs.Total)
	default:
		cs.Status = models.StatusHealthy
		cs.Message = fmt.Sprintf("%d/%d pods ready", cs.Ready, cs.Total)
	}
	return cs
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func podRestarts(pod *corev1.Pod) int32 {
	var n int32
	for _, cs := range pod.Status.ContainerStatuses {
		n += cs.RestartCount
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
