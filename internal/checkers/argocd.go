package checkers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	rolloutsv1alpha1 "github.com/argoproj/argo-rollouts/pkg/apis/rollouts/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

// ApplicationGVR ArgoCD Application 资源
var ApplicationGVR = schema.GroupVersionResource{Group: "argoproj.io", Version: "v1alpha1", Resource: "applications"}

const maxProblemApps = 10

// ArgoCDChecker 统计 ArgoCD 应用同步与健康状态，集群安装了 Argo Rollouts 时一并汇总
type ArgoCDChecker struct{}

func NewArgoCDChecker() *ArgoCDChecker { return &ArgoCDChecker{} }

func (c *ArgoCDChecker) Type() models.AddonType { return models.AddonArgoCD }

func (c *ArgoCDChecker) Check(ctx context.Context, t *Target) (Result, error) {
	clients, err := t.kube()
	if err != nil {
		return Result{}, err
	}
	if clients.Dynamic == nil {
		return Result{}, fmt.Errorf("dynamic client unavailable")
	}
	start := time.Now()
	details := &models.ArgoCDDetails{Namespace: t.Config("namespace", "argocd")}

	apps, err := clients.Dynamic.Resource(ApplicationGVR).Namespace(details.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("list argocd applications: %w", err)
	}
	for i := range apps.Items {
		tallyApplication(details, &apps.Items[i])
	}

	if clients.Rollouts != nil {
		details.Rollouts = summarizeRollouts(ctx, clients, t.Config("rollouts_namespace", metav1.NamespaceAll))
	}

	status, msg := classifyArgoCD(details)
	return Result{Status: status, Message: msg, Details: details, ResponseTimeMs: elapsedMs(start)}, nil
}

func tallyApplication(d *models.ArgoCDDetails, app *unstructured.Unstructured) {
	syncStatus, _, _ := unstructured.NestedString(app.Object, "status", "sync", "status")
	health, _, _ := unstructured.NestedString(app.Object, "status", "health", "status")
	d.TotalApps++

	problem := false
	switch syncStatus {
	case "Synced":
		d.Synced++
	case "OutOfSync":
		d.OutOfSync++
		problem = true
	}
	switch health {
	case "Healthy":
		d.Healthy++
	case "Degraded":
		d.Degraded++
		problem = true
	case "Progressing":
		d.Progressing++
	case "Missing":
		d.Missing++
		problem = true
	}
	if problem && len(d.ProblemApps) < maxProblemApps {
		d.ProblemApps = append(d.ProblemApps, models.ArgoProblemApp{
			Name:   app.GetName(),
			Sync:   orUnknown(syncStatus),
			Health: orUnknown(health),
		})
	}
}

func summarizeRollouts(ctx context.Context, clients *k8s.Clients, namespace string) *models.RolloutSummary {
	list, err := clients.Rollouts.ArgoprojV1alpha1().Rollouts(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil
	}
	s := &models.RolloutSummary{Total: len(list.Items)}
	for i := range list.Items {
		ro := &list.Items[i]
		switch ro.Status.Phase {
		case rolloutsv1alpha1.RolloutPhaseHealthy:
			s.Healthy++
		case rolloutsv1alpha1.RolloutPhaseProgressing:
			s.Progressing++
		case rolloutsv1alpha1.RolloutPhasePaused:
			s.Paused++
		case rolloutsv1alpha1.RolloutPhaseDegraded:
			s.Degraded++
			if len(s.Problems) < maxProblemApps {
				s.Problems = append(s.Problems, ro.Namespace+"/"+ro.Name)
			}
		}
	}
	sort.Strings(s.Problems)
	return s
}

func classifyArgoCD(d *models.ArgoCDDetails) (models.HealthStatus, string) {
	summary := fmt.Sprintf("%d apps: %d synced, %d healthy", d.TotalApps, d.Synced, d.Healthy)
	var notes []string
	if d.OutOfSync > 0 {
		notes = append(notes, fmt.Sprintf("%d out of sync", d.OutOfSync))
	}
	if d.Missing > 0 {
		notes = append(notes, fmt.Sprintf("%d missing", d.Missing))
	}
	if d.Degraded > 0 {
		notes = append(notes, fmt.Sprintf("%d degraded", d.Degraded))
	}
	rolloutsDegraded := d.Rollouts != nil && d.Rollouts.Degraded > 0
	if rolloutsDegraded {
		notes = append(notes, fmt.Sprintf("%d rollouts degraded", d.Rollouts.Degraded))
	}
	if len(notes) > 0 {
		summary += "; " + strings.Join(notes, ", ")
	}

	switch {
	case d.Degraded > 0:
		return models.StatusCritical, summary
	case d.OutOfSync > 0 || d.Missing > 0 || rolloutsDegraded:
		return models.StatusWarning, summary
	default:
		return models.StatusHealthy, summary
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
