package checkers

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

const (
	maxNotReadyNodes = 20
	maxNodeIssues    = 50
)

var pressureConditions = []corev1.NodeConditionType{
	corev1.NodeDiskPressure,
	corev1.NodeMemoryPressure,
	corev1.NodePIDPressure,
}

// NodeChecker 节点 Ready 与压力状态
type NodeChecker struct{}

func NewNodeChecker() *NodeChecker { return &NodeChecker{} }

func (c *NodeChecker) Type() models.AddonType { return models.AddonNodeCheck }

func (c *NodeChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()

	opts := metav1.ListOptions{LabelSelector: t.Config("label_selector", "")}
	nodes, err := clients.Kube.CoreV1().Nodes().List(ctx, opts)
	if err != nil {
		return Result{}, fmt.Errorf("list nodes: %w", err)
	}

	details := summarizeNodes(nodes.Items)
	status, msg := classifyNodes(details)
	return Result{Status: status, Message: msg, Details: details, ResponseTimeMs: elapsedMs(start)}, nil
}

func summarizeNodes(nodes []corev1.Node) *models.NodeDetails {
	d := &models.NodeDetails{TotalNodes: len(nodes)}
	for i := range nodes {
		node := &nodes[i]
		ready := false
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady {
				ready = cond.Status == corev1.ConditionTrue
				continue
			}
			for _, p := range pressureConditions {
				if cond.Type == p && cond.Status == corev1.ConditionTrue && len(d.Issues) < maxNodeIssues {
					d.Issues = append(d.Issues, fmt.Sprintf("%s: %s", node.Name, p))
				}
			}
		}
		if ready {
			d.ReadyNodes++
		} else if len(d.NotReady) < maxNotReadyNodes {
			d.NotReady = append(d.NotReady, node.Name)
		}
	}
	return d
}

func classifyNodes(d *models.NodeDetails) (models.HealthStatus, string) {
	summary := fmt.Sprintf("%d/%d nodes ready", d.ReadyNodes, d.TotalNodes)
	switch {
	case d.TotalNodes == 0:
		return models.StatusCritical, "no nodes found"
	case d.ReadyNodes == 0:
		return models.StatusCritical, summary + ", all nodes NotReady"
	case d.ReadyNodes < d.TotalNodes:
		return models.StatusWarning, summary
	case len(d.Issues) > 0:
		return models.StatusWarning, fmt.Sprintf("%s, %d pressure conditions", summary, len(d.Issues))
	default:
		return models.StatusHealthy, summary
	}
}
