package k8s

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
)

func TestClientManagerCachesPerCluster(t *testing.T) {
	calls := 0
	mgr := NewClientManagerWithFactory(func(c *models.Cluster) (*Clients, error) {
		calls++
		return &Clients{Kube: fake.NewSimpleClientset()}, nil
	})

	cluster := &models.Cluster{ID: 1, Name: "prod", APIServer: "https://a", UpdatedAt: time.Unix(100, 0)}
	first, err := mgr.Get(cluster)
	require.NoError(t, err)
	second, err := mgr.Get(cluster)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	// 凭据更新后重建
	cluster.UpdatedAt = time.Unix(200, 0)
	third, err := mgr.Get(cluster)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, calls)

	mgr.Forget(1)
	_, err = mgr.Get(cluster)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestClientManagerFactoryError(t *testing.T) {
	mgr := NewClientManagerWithFactory(func(c *models.Cluster) (*Clients, error) {
		return nil, errors.New("bad kubeconfig")
	})
	_, err := mgr.Get(&models.Cluster{ID: 2, Name: "dev"})
	assert.ErrorContains(t, err, "bad kubeconfig")
}

func TestNewRESTConfigFromToken(t *testing.T) {
	ca := base64.StdEncoding.EncodeToString([]byte("-----BEGIN CERTIFICATE-----"))
	cfg, err := NewRESTConfig(&models.Cluster{Name: "dev", APIServer: "10.0.0.1:6443", Token: "t0k3n", CACert: ca})
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:6443", cfg.Host)
	assert.Equal(t, "t0k3n", cfg.BearerToken)
	assert.False(t, cfg.TLSClientConfig.Insecure)
	assert.Equal(t, []byte("-----BEGIN CERTIFICATE-----"), cfg.TLSClientConfig.CAData)
}

func TestNewRESTConfigWithoutCredentials(t *testing.T) {
	_, err := NewRESTConfig(&models.Cluster{Name: "empty"})
	assert.ErrorContains(t, err, "未配置访问凭据")

	_, err = NewRESTConfig(&models.Cluster{Name: "broken", Kubeconfig: "::not yaml::"})
	assert.Error(t, err)
}

func TestHasArgoRollouts(t *testing.T) {
	cs := fake.NewSimpleClientset()
	assert.False(t, hasArgoRollouts(cs))

	cs.Discovery().(*fakediscovery.FakeDiscovery).Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "argoproj.io/v1alpha1",
			APIResources: []metav1.APIResource{{Name: "applications"}, {Name: "rollouts"}},
		},
	}
	assert.True(t, hasArgoRollouts(cs))
}
