// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "configs/pipeline.yaml"

// Config 流水线配置，进程启动时构造一次并显式传递给各组件
type Config struct {
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Model      ModelConfig      `mapstructure:"model"`
	Sink       SinkConfig       `mapstructure:"sink"`
	API        APIConfig        `mapstructure:"api"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// PipelineConfig 单次 run 的批量、重试与判定参数
type PipelineConfig struct {
	MaxFilesPerRun    int           `mapstructure:"max_files_per_run" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gt=0"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	TokenCeiling      int           `mapstructure:"token_ceiling" validate:"gt=0"`
	TruncationRatio   float64       `mapstructure:"truncation_ratio" validate:"gt=0,lt=1"`
	ErrorHistoryLimit int           `mapstructure:"error_history_limit" validate:"gt=0"`
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=1"`
	RelatedFiles      int           `mapstructure:"related_files" validate:"gte=0"`
	ReprocessOnChange bool          `mapstructure:"reprocess_on_change"`
	Language          string        `mapstructure:"language" validate:"oneof=java"`
	// RunHistoryLimit / RunHistoryMaxAge 账本中 run 历史的保留策略，0 表示不限
	RunHistoryLimit  int           `mapstructure:"run_history_limit" validate:"gte=0"`
	RunHistoryMaxAge time.Duration `mapstructure:"run_history_max_age" validate:"gte=0"`
	// RedactMode 写入账本的错误消息中凭据的处理方式：redact | hash
	RedactMode string `mapstructure:"redact_mode" validate:"oneof=redact hash"`
}

// QuotaConfig 滑动窗口配额与凭据池
type QuotaConfig struct {
	Window            time.Duration `mapstructure:"window" validate:"gt=0"`
	RequestsPerWindow int           `mapstructure:"requests_per_window" validate:"gt=0"`
	MaxWait           time.Duration `mapstructure:"max_wait" validate:"gt=0"`
	TokensPerMinute   int           `mapstructure:"tokens_per_minute" validate:"gte=0"`
	Backend           string        `mapstructure:"backend" validate:"oneof=memory redis"`
	Redis             RedisConfig   `mapstructure:"redis"`
}

// RedisConfig 多 worker 共享窗口时使用
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend" validate:"oneof=file badger postgres memory"`
	Path    string `mapstructure:"path"`       // file 后端的 JSON 文档路径
	Dir     string `mapstructure:"badger_dir"` // badger 数据目录
	DSN     string `mapstructure:"dsn"`        // postgres 连接串
	Name    string `mapstructure:"name"`       // postgres/badger 中的文档键
}

// ScanConfig 候选文件发现
type ScanConfig struct {
	Root         string        `mapstructure:"root"`
	Mode         string        `mapstructure:"mode" validate:"oneof=all changed large package manual"`
	MinLines     int           `mapstructure:"min_lines"`
	ChangedHours int           `mapstructure:"changed_hours"`
	Packages     []string      `mapstructure:"packages"`
	Files        []string      `mapstructure:"files"`
	ExcludeDirs  []string      `mapstructure:"exclude_dirs"`
	Extensions   []string      `mapstructure:"extensions"`
	Watch        bool          `mapstructure:"watch"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// ModelConfig 推理 provider 配置
type ModelConfig struct {
	Primary   string                    `mapstructure:"primary" validate:"required"`
	Fallback  string                    `mapstructure:"fallback"`
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"required,dive"`
}

// ProviderConfig 单个 provider；Type 为 openai | rest | eino
type ProviderConfig struct {
	Type        string        `mapstructure:"type" validate:"oneof=openai rest eino"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model" validate:"required"`
	APIKeys     []string      `mapstructure:"api_keys"`
	SecretRefs  []string      `mapstructure:"secret_refs"` // 通过 secrets.Store 解析的凭据键
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// SinkConfig 产物交付
type SinkConfig struct {
	Report ReportSinkConfig `mapstructure:"report"`
	GitHub GitHubSinkConfig `mapstructure:"github"`
}

// ReportSinkConfig 本地报告目录
type ReportSinkConfig struct {
	Enable bool   `mapstructure:"enable"`
	Dir    string `mapstructure:"dir"`
}

// GitHubSinkConfig 通过 REST API 创建分支与 PR
type GitHubSinkConfig struct {
	Enable     bool   `mapstructure:"enable"`
	APIURL     string `mapstructure:"api_url"`
	Token      string `mapstructure:"token"`
	Owner      string `mapstructure:"owner"`
	Repo       string `mapstructure:"repo"`
	BaseBranch string `mapstructure:"base_branch"`
	Draft      bool   `mapstructure:"draft"`
	// Feedback 已开 PR 的评审跟进（worker --monitor）
	Feedback FeedbackConfig `mapstructure:"feedback"`
}

// FeedbackConfig PR 评审意见轮询
type FeedbackConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" validate:"gte=0"`
	Interval      time.Duration `mapstructure:"interval"`
}

// APIConfig 状态 API
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Token 非空时写操作需要 Bearer 认证
	Token     string  `mapstructure:"token"`
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"` // 每秒请求数，0 不限
}

// SecretsConfig 凭据来源：env | vault
type SecretsConfig struct {
	Provider string      `mapstructure:"provider" validate:"omitempty,oneof=env vault memory"`
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig HashiCorp Vault
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控
type MonitoringConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

var validate = validator.New()

// setDefaults 写入与旧版流水线一致的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.max_files_per_run", 10)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.backoff_base", "30s")
	v.SetDefault("pipeline.token_ceiling", 6000)
	v.SetDefault("pipeline.truncation_ratio", 0.5)
	v.SetDefault("pipeline.error_history_limit", 10)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.related_files", 3)
	v.SetDefault("pipeline.reprocess_on_change", true)
	v.SetDefault("pipeline.language", "java")
	v.SetDefault("pipeline.run_history_limit", 100)
	v.SetDefault("pipeline.run_history_max_age", "0s")
	v.SetDefault("pipeline.redact_mode", "redact")

	v.SetDefault("quota.window", "60s")
	v.SetDefault("quota.requests_per_window", 15)
	v.SetDefault("quota.max_wait", "2m")
	v.SetDefault("quota.backend", "memory")
	v.SetDefault("quota.redis.key", "refactor:quota")

	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "refactoring_reports/pipeline_state.json")
	v.SetDefault("ledger.badger_dir", "refactoring_reports/ledger")
	v.SetDefault("ledger.name", "default")

	v.SetDefault("scan.root", ".")
	v.SetDefault("scan.mode", "all")
	v.SetDefault("scan.min_lines", 200)
	v.SetDefault("scan.changed_hours", 24)
	v.SetDefault("scan.exclude_dirs", []string{"target", "build", "test", "generated", ".git", "node_modules"})
	v.SetDefault("scan.extensions", []string{".java"})
	v.SetDefault("scan.debounce", "2s")

	v.SetDefault("sink.report.enable", true)
	v.SetDefault("sink.report.dir", "refactoring_reports")
	v.SetDefault("sink.github.api_url", "https://api.github.com")
	v.SetDefault("sink.github.base_branch", "main")
	v.SetDefault("sink.github.draft", true)
	v.SetDefault("sink.github.feedback.max_iterations", 3)
	v.SetDefault("sink.github.feedback.interval", "1h")

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.rate_limit", 20)
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.tracing.service_name", "refactor-pipeline")
}

// LoadConfig 从指定文件加载配置；文件不存在时仅使用默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); statErr == nil || configPath != DefaultConfigPath {
				return nil, fmt.Errorf("无法读取配置文件: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	replaceEnvVars(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验字段取值
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if _, ok := c.Model.Providers[c.Model.Primary]; !ok {
		return fmt.Errorf("配置校验失败: model.primary %q 未在 providers 中定义", c.Model.Primary)
	}
	if c.Model.Fallback != "" {
		if _, ok := c.Model.Providers[c.Model.Fallback]; !ok {
			return fmt.Errorf("配置校验失败: model.fallback %q 未在 providers 中定义", c.Model.Fallback)
		}
	}
	if c.Ledger.Backend == "postgres" && c.Ledger.DSN == "" {
		return fmt.Errorf("配置校验失败: ledger.backend=postgres 时 ledger.dsn 必填")
	}
	if c.Quota.Backend == "redis" && c.Quota.Redis.Addr == "" {
		return fmt.Errorf("配置校验失败: quota.backend=redis 时 quota.redis.addr 必填")
	}
	return nil
}

// replaceEnvVars 展开 ${VAR} 形式的凭据
func replaceEnvVars(config *Config) {
	for name, p := range config.Model.Providers {
		for i, key := range p.APIKeys {
			p.APIKeys[i] = expandEnv(key)
		}
		config.Model.Providers[name] = p
	}
	config.Sink.GitHub.Token = expandEnv(config.Sink.GitHub.Token)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
	config.Ledger.DSN = expandEnv(config.Ledger.DSN)
	config.Quota.Redis.Password = expandEnv(config.Quota.Redis.Password)
	config.API.Token = expandEnv(config.API.Token)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}"))
}
