package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Check      CheckConfig      `mapstructure:"check"`
	History    HistoryConfig    `mapstructure:"history"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Ollama     OllamaConfig     `mapstructure:"ollama"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置，driver 取值 mysql / sqlite / memory
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"` // 仅 sqlite 使用
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"`
}

// JWTConfig JWT配置，secret 为空时不校验令牌
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CheckConfig 健康检查引擎配置
type CheckConfig struct {
	// 单个检查项默认超时（插件可通过 config.timeout_seconds 覆盖）
	CheckerTimeout time.Duration `mapstructure:"checker_timeout"`
	// 单集群整体截止时间
	ClusterTimeout time.Duration `mapstructure:"cluster_timeout"`
	// 跨集群并发 worker 数
	Workers int `mapstructure:"workers"`
	// 单集群内并发检查项数
	MaxParallelCheckers int `mapstructure:"max_parallel_checkers"`
	// 每日定时检查时间（HH:MM）
	Schedule []string `mapstructure:"schedule"`
	Timezone string   `mapstructure:"timezone"`
}

// HistoryConfig 历史记录配置（仅内存存储生效）
type HistoryConfig struct {
	Retention int `mapstructure:"retention"`
}

// PrometheusConfig Prometheus 查询配置
type PrometheusConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OllamaConfig 本地 LLM 配置
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load 加载配置（纯环境变量模式）
func Load() *Config {
	cfg, err := load()
	if err != nil {
		log.Fatalf("配置解析失败: %v", err)
	}
	log.Printf("配置: server=%+v database.driver=%s check=%+v", cfg.Server, cfg.Database.Driver, cfg.Check)
	return cfg
}

func load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 先加载 .env 到系统环境变量
	if err := godotenv.Load(); err != nil {
		log.Printf("未找到 .env 文件，使用系统环境变量: %v", err)
	}

	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	// CHECK_SCHEDULE=09:00,13:00,18:00
	cfg.Check.Schedule = splitList(strings.Join(cfg.Check.Schedule, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置的取值范围
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Check.Workers < 1 {
		return fmt.Errorf("check.workers 必须大于 0")
	}
	if c.Check.MaxParallelCheckers < 1 {
		return fmt.Errorf("check.max_parallel_checkers 必须大于 0")
	}
	if c.Check.CheckerTimeout <= 0 || c.Check.ClusterTimeout <= 0 {
		return fmt.Errorf("检查超时时间必须大于 0")
	}
	if _, err := time.LoadLocation(c.Check.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %q: %w", c.Check.Timezone, err)
	}
	return nil
}

func bindEnv(v *viper.Viper) {
	// 服务器
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")

	// 数据库
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.dsn", "DB_DSN")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.username", "DB_USERNAME")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.database", "DB_DATABASE")
	_ = v.BindEnv("database.charset", "DB_CHARSET")

	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	// 检查引擎
	_ = v.BindEnv("check.checker_timeout", "CHECK_CHECKER_TIMEOUT")
	_ = v.BindEnv("check.cluster_timeout", "CHECK_CLUSTER_TIMEOUT")
	_ = v.BindEnv("check.workers", "CHECK_WORKERS")
	_ = v.BindEnv("check.max_parallel_checkers", "CHECK_MAX_PARALLEL_CHECKERS")
	_ = v.BindEnv("check.schedule", "CHECK_SCHEDULE")
	_ = v.BindEnv("check.timezone", "CHECK_TIMEZONE")
	_ = v.BindEnv("history.retention", "HISTORY_RETENTION")

	// 外部服务
	_ = v.BindEnv("prometheus.url", "PROMETHEUS_URL")
	_ = v.BindEnv("prometheus.timeout", "PROMETHEUS_TIMEOUT")
	_ = v.BindEnv("ollama.url", "OLLAMA_URL")
	_ = v.BindEnv("ollama.model", "OLLAMA_MODEL")
	_ = v.BindEnv("ollama.timeout", "OLLAMA_TIMEOUT")
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/daily-monitor.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "daily_monitor")
	v.SetDefault("database.charset", "utf8mb4")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("check.checker_timeout", 10*time.Second)
	v.SetDefault("check.cluster_timeout", 60*time.Second)
	v.SetDefault("check.workers", 4)
	v.SetDefault("check.max_parallel_checkers", 8)
	v.SetDefault("check.schedule", []string{"09:00", "13:00", "18:00"})
	v.SetDefault("check.timezone", "Asia/Seoul")
	v.SetDefault("history.retention", 1000)

	v.SetDefault("prometheus.url", "http://prometheus.monitoring.svc:9090")
	v.SetDefault("prometheus.timeout", 10*time.Second)
	v.SetDefault("ollama.url", "http://ollama.monitoring.svc:11434")
	v.SetDefault("ollama.model", "llama3")
	v.SetDefault("ollama.timeout", 120*time.Second)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
