package models

import (
	"time"
)

// Cluster 被监控的集群
type Cluster struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"uniqueIndex;not null;size:100"`
	APIServer   string `json:"api_server" gorm:"size:255"`
	Description string `json:"description" gorm:"size:255"`

	// 凭据三选一：kubeconfig 文本 / kubeconfig 路径 / token + CA
	KubeconfigPath string `json:"kubeconfig_path,omitempty" gorm:"size:255"`
	Kubeconfig     string `json:"-" gorm:"type:text"`
	Token          string `json:"-" gorm:"type:text"`
	CACert         string `json:"-" gorm:"type:text"`

	// 为空表示从未检查过
	Status        HealthStatus `json:"status" gorm:"size:20"`
	StatusMessage string       `json:"status_message" gorm:"size:512"`
	LastBatchID   string       `json:"last_batch_id" gorm:"size:36"`
	LastCheckAt   *time.Time   `json:"last_check_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Addons []Addon `json:"addons,omitempty" gorm:"foreignKey:ClusterID;constraint:OnDelete:CASCADE"`
}

// DisplayStatus 展示用状态，未检查的集群显示为 unknown
func (c *Cluster) DisplayStatus() HealthStatus {
	if c.Status == "" {
		return StatusUnknown
	}
	return c.Status
}

// HasCredentials 是否配置了任意一种访问凭据
func (c *Cluster) HasCredentials() bool {
	return c.Kubeconfig != "" || c.KubeconfigPath != "" || (c.APIServer != "" && c.Token != "")
}
