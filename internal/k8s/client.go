package k8s

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	rolloutsclientset "github.com/argoproj/argo-rollouts/pkg/client/clientset/versioned"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

const rolloutsGroupVersion = "argoproj.io/v1alpha1"

// Clients 单个集群使用的客户端集合
type Clients struct {
	Kube    kubernetes.Interface
	Dynamic dynamic.Interface
	// CRD 不存在时为 nil
	Rollouts rolloutsclientset.Interface
	Config   *rest.Config
}

// NewRESTConfig 按 kubeconfig 文本 / kubeconfig 路径 / token 的优先级构造 rest.Config
func NewRESTConfig(cluster *models.Cluster) (*rest.Config, error) {
	var (
		config *rest.Config
		err    error
	)
	switch {
	case cluster.Kubeconfig != "":
		config, err = clientcmd.RESTConfigFromKubeConfig([]byte(cluster.Kubeconfig))
		if err != nil {
			return nil, fmt.Errorf("解析kubeconfig失败: %w", err)
		}
	case cluster.KubeconfigPath != "":
		config, err = clientcmd.BuildConfigFromFlags("", cluster.KubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("读取kubeconfig文件失败: %w", err)
		}
	case cluster.APIServer != "" && cluster.Token != "":
		config = tokenConfig(cluster.APIServer, cluster.Token, cluster.CACert)
	default:
		return nil, fmt.Errorf("集群 %s 未配置访问凭据", cluster.Name)
	}

	// 单次请求的上限，实际超时由检查项的 context 控制
	config.Timeout = 30 * time.Second
	config.QPS = 20
	config.Burst = 40
	return config, nil
}

func tokenConfig(apiServer, token, caCert string) *rest.Config {
	if !strings.HasPrefix(apiServer, "http://") && !strings.HasPrefix(apiServer, "https://") {
		apiServer = "https://" + apiServer
	}
	config := &rest.Config{
		Host:        apiServer,
		BearerToken: token,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: true,
		},
	}
	if caCert != "" {
		caData, err := base64.StdEncoding.DecodeString(caCert)
		if err != nil {
			caData = []byte(caCert)
		}
		config.TLSClientConfig.CAData = caData
		config.TLSClientConfig.Insecure = false
	}
	return config
}

// NewClientsForCluster 默认的客户端工厂
func NewClientsForCluster(cluster *models.Cluster) (*Clients, error) {
	config, err := NewRESTConfig(cluster)
	if err != nil {
		return nil, err
	}
	return NewClients(config)
}

// NewClients 从 rest.Config 创建客户端集合
func NewClients(config *rest.Config) (*Clients, error) {
	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("创建kubernetes客户端失败: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("创建dynamic客户端失败: %w", err)
	}
	clients := &Clients{Kube: kube, Dynamic: dyn, Config: config}

	if hasArgoRollouts(kube) {
		roc, err := rolloutsclientset.NewForConfig(config)
		if err != nil {
			logger.Warn("创建 Argo Rollouts client 失败: %v", err)
		} else {
			clients.Rollouts = roc
		}
	}
	return clients, nil
}

// hasArgoRollouts 探测集群是否提供 argoproj.io 的 rollouts 资源
func hasArgoRollouts(kube kubernetes.Interface) bool {
	list, err := kube.Discovery().ServerResourcesForGroupVersion(rolloutsGroupVersion)
	if err != nil || list == nil {
		return false
	}
	for _, r := range list.APIResources {
		if r.Name == "rollouts" {
			return true
		}
	}
	return false
}

// Livez 请求 /livez，返回 HTTP 状态码；状态码为 0 表示请求未到达服务端
func (c *Clients) Livez(ctx context.Context) (int, error) {
	rc := c.Kube.Discovery().RESTClient()
	if rc == nil {
		return 0, fmt.Errorf("REST client 不可用")
	}
	var code int
	res := rc.Get().AbsPath("/livez").Do(ctx)
	res.StatusCode(&code)
	if err := res.Error(); err != nil {
		if s, ok := err.(apierrors.APIStatus); ok && code == 0 {
			code = int(s.Status().Code)
		}
		return code, err
	}
	return code, nil
}

// ServerVersion 返回 API Server 版本，失败时返回空字符串
func (c *Clients) ServerVersion() string {
	info, err := c.Kube.Discovery().ServerVersion()
	if err != nil || info == nil {
		return ""
	}
	return info.GitVersion
}

// ExecInPod 在容器中执行命令并返回标准输出与标准错误
func (c *Clients) ExecInPod(ctx context.Context, namespace, pod, container string, command []string) (string, string, error) {
	if c.Config == nil {
		return "", "", fmt.Errorf("缺少 rest.Config，无法执行命令")
	}
	req := c.Kube.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: container,
		Command:   command,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.Config, "POST", req.URL())
	if err != nil {
		return "", "", fmt.Errorf("创建执行器失败: %w", err)
	}
	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("执行命令失败: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
