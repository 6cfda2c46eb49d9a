package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AddonType 检查项类型
type AddonType string

const (
	AddonAPIServer    AddonType = "api-server"
	AddonEtcdLeader   AddonType = "etcd-leader"
	AddonNodeCheck    AddonType = "node-check"
	AddonControlPlane AddonType = "control-plane"
	AddonSystemPod    AddonType = "system-pod"
	AddonNexus        AddonType = "nexus"
	AddonJenkins      AddonType = "jenkins"
	AddonArgoCD       AddonType = "argocd"
	AddonKeycloak     AddonType = "keycloak"
	AddonGeneric      AddonType = "generic"
)

// RegistrableAddonTypes 可以注册到集群上的检查项类型（api-server 为内置基线检查）
var RegistrableAddonTypes = []AddonType{
	AddonEtcdLeader, AddonNodeCheck, AddonControlPlane, AddonSystemPod,
	AddonNexus, AddonJenkins, AddonArgoCD, AddonKeycloak, AddonGeneric,
}

// Valid 是否为可注册类型
func (t AddonType) Valid() bool {
	for _, v := range RegistrableAddonTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Addon 集群上注册的检查项
type Addon struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	ClusterID   uint              `json:"cluster_id" gorm:"not null;uniqueIndex:idx_cluster_addon"`
	Name        string            `json:"name" gorm:"not null;size:100;uniqueIndex:idx_cluster_addon"`
	Type        AddonType         `json:"type" gorm:"not null;size:32"`
	Icon        string            `json:"icon" gorm:"size:16"`
	Description string            `json:"description" gorm:"size:255"`
	Config      map[string]string `json:"config" gorm:"serializer:json;type:text"`

	Status         HealthStatus `json:"status" gorm:"size:20"`
	Message        string       `json:"message" gorm:"size:1024"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Details        Details      `json:"details" gorm:"-"`
	DetailsJSON    string       `json:"-" gorm:"column:details;type:text"`
	LastCheck      *time.Time   `json:"last_check"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigValue 读取配置项，不存在时返回默认值
func (a *Addon) ConfigValue(key, def string) string {
	if a.Config == nil {
		return def
	}
	if v, ok := a.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// BeforeSave 将 Details 序列化到 details 列
func (a *Addon) BeforeSave(tx *gorm.DB) error {
	if a.Details == nil {
		return nil
	}
	data, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("序列化检查详情失败: %w", err)
	}
	a.DetailsJSON = string(data)
	return nil
}

// AfterFind 按类型解码 details 列
func (a *Addon) AfterFind(tx *gorm.DB) error {
	a.Details = DecodeDetails(a.Type, a.DetailsJSON)
	return nil
}

// DisplayStatus 展示用状态
func (a *Addon) DisplayStatus() HealthStatus {
	if a.Status == "" {
		return StatusUnknown
	}
	return a.Status
}
