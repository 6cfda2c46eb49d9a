package checkers

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

func newKubeTarget(addon *models.Addon, nodes []*corev1.Node, objs ...runtime.Object) *Target {
	for _, n := range nodes {
		objs = append(objs, n)
	}
	return &Target{
		Cluster: &models.Cluster{ID: 1, Name: "test-cluster", APIServer: "https://kubernetes.example.com:6443"},
		Addon:   addon,
		Clients: &k8s.Clients{Kube: fake.NewSimpleClientset(objs...)},
	}
}

func node(name string, ready bool) *corev1.Node {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: status}},
		},
	}
}

func pod(namespace, name string, labels map[string]string, running, ready bool) *corev1.Pod {
	phase := corev1.PodPending
	if running {
		phase = corev1.PodRunning
	}
	readyStatus := corev1.ConditionFalse
	if ready {
		readyStatus = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, Labels: labels},
		Status: corev1.PodStatus{
			Phase:      phase,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: readyStatus}},
		},
	}
}
