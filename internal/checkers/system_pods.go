package checkers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

const (
	workloadDaemonSet  = "daemonset"
	workloadDeployment = "deployment"

	restartWarningThreshold = 10
	maxListedPods           = 20
)

type systemComponent struct {
	selector string
	kind     string
}

// 常见系统组件的默认选择器，按插件名匹配
var knownSystemComponents = map[string]systemComponent{
	"cilium":     {selector: "k8s-app=cilium", kind: workloadDaemonSet},
	"calico":     {selector: "k8s-app=calico-node", kind: workloadDaemonSet},
	"coredns":    {selector: "k8s-app=kube-dns", kind: workloadDeployment},
	"kube-proxy": {selector: "k8s-app=kube-proxy", kind: workloadDaemonSet},
}

// SystemPodChecker 系统组件 Pod 就绪情况
type SystemPodChecker struct{}

func NewSystemPodChecker() *SystemPodChecker { return &SystemPodChecker{} }

func (c *SystemPodChecker) Type() models.AddonType { return models.AddonSystemPod }

func (c *SystemPodChecker) resolve(t *Target) (selector, kind string) {
	name := ""
	if t.Addon != nil {
		name = strings.ToLower(t.Addon.Name)
	}
	for key, comp := range knownSystemComponents {
		if strings.Contains(name, key) {
			selector, kind = comp.selector, comp.kind
			break
		}
	}
	if selector == "" {
		selector = "app=" + name
	}
	return t.Config("label_selector", selector), t.Config("kind", kind)
}

func (c *SystemPodChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	selector, kind := c.resolve(t)
	details := &models.SystemPodDetails{
		Namespace:     t.Config("namespace", "kube-system"),
		LabelSelector: selector,
	}

	pods, err := clients.Kube.CoreV1().Pods(details.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return Result{}, fmt.Errorf("list pods %q: %w", selector, err)
	}

	var dsOwner string
	for i := range pods.Items {
		pod := &pods.Items[i]
		details.TotalPods++
		if podReady(pod) {
			details.ReadyPods++
		} else if len(details.NotReady) < maxListedPods {
			details.NotReady = append(details.NotReady, pod.Name)
		}
		if n := podRestarts(pod); n >= restartWarningThreshold && len(details.HighRestarts) < maxListedPods {
			details.HighRestarts = append(details.HighRestarts, fmt.Sprintf("%s (%d)", pod.Name, n))
		}
		for _, ref := range pod.OwnerReferences {
			if ref.Kind == "DaemonSet" {
				dsOwner = ref.Name
			}
		}
	}
	if kind == "" {
		kind = workloadDeployment
		if dsOwner != "" {
			kind = workloadDaemonSet
		}
	}
	details.WorkloadKind = kind

	if kind == workloadDaemonSet {
		details.ExpectedPods = c.expectedDaemonPods(ctx, t, details.Namespace, dsOwner)
	} else {
		details.ExpectedPods = details.TotalPods
	}
	if details.ExpectedPods > 0 {
		details.ReadyPercent = math.Round(float64(details.ReadyPods)/float64(details.ExpectedPods)*1000) / 10
	}

	status, msg := classifySystemPods(details)
	return Result{Status: status, Message: msg, Details: details, ResponseTimeMs: elapsedMs(start)}, nil
}

// expectedDaemonPods DaemonSet 期望数，取不到时退化为节点数
func (c *SystemPodChecker) expectedDaemonPods(ctx context.Context, t *Target, namespace, owner string) int {
	if owner != "" {
		ds, err := t.Clients.Kube.AppsV1().DaemonSets(namespace).Get(ctx, owner, metav1.GetOptions{})
		if err == nil && ds.Status.DesiredNumberScheduled > 0 {
			return int(ds.Status.DesiredNumberScheduled)
		}
	}
	nodes, err := t.Clients.Kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0
	}
	schedulable := 0
	for i := range nodes.Items {
		if !nodes.Items[i].Spec.Unschedulable {
			schedulable++
		}
	}
	return schedulable
}

func classifySystemPods(d *models.SystemPodDetails) (models.HealthStatus, string) {
	switch d.WorkloadKind {
	case workloadDaemonSet:
		summary := fmt.Sprintf("%d/%d daemon pods ready", d.ReadyPods, d.ExpectedPods)
		switch {
		case d.TotalPods == 0 || d.ReadyPods == 0:
			return models.StatusCritical, summary
		case d.ReadyPods < d.ExpectedPods:
			return models.StatusWarning, fmt.Sprintf("%s (%.1f%%)", summary, d.ReadyPercent)
		}
		return withRestarts(d, summary)
	default:
		summary := fmt.Sprintf("%d/%d pods ready", d.ReadyPods, d.TotalPods)
		switch {
		case d.TotalPods == 0:
			return models.StatusCritical, "no pods match " + d.LabelSelector
		case d.ReadyPods == 0:
			return models.StatusCritical, summary
		case d.ReadyPods < d.TotalPods:
			return models.StatusWarning, summary
		}
		return withRestarts(d, summary)
	}
}

func withRestarts(d *models.SystemPodDetails, summary string) (models.HealthStatus, string) {
	if len(d.HighRestarts) > 0 {
		return models.StatusWarning, fmt.Sprintf("%s, %d pods restarting frequently", summary, len(d.HighRestarts))
	}
	return models.StatusHealthy, summary
}
