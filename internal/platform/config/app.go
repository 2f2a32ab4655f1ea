package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel     string             `json:"log_level"`
	LogFormat    string             `json:"log_format"`
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Auth         AuthConfig         `json:"auth"`
	Builder      BuilderConfig      `json:"builder"`
	Integrations IntegrationsConfig `json:"integrations"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

type ServerConfig struct {
	Host                string   `json:"host"`
	Port                int      `json:"port"`
	ReadTimeoutSeconds  int      `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds"`
	AllowedOrigins      []string `json:"allowed_origins"`
}

// DatabaseConfig 为空 URL 时已保存策略只保存在内存
type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 为空 URL 时不缓存草稿
type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// BuilderConfig 构建器会话
type BuilderConfig struct {
	SessionTTLSeconds      int `json:"session_ttl_seconds"`
	JanitorIntervalSeconds int `json:"janitor_interval_seconds"`
	DraftTTLSeconds        int `json:"draft_ttl_seconds"`
}

// ProviderConfig 单个上游 DeFi API
type ProviderConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type IntegrationsConfig struct {
	TimeoutSeconds     int            `json:"timeout_seconds"`
	BreakerMaxFailures int            `json:"breaker_max_failures"`
	BreakerOpenSeconds int            `json:"breaker_open_seconds"`
	LedgerURL          string         `json:"ledger_url"` // Tatum 虚拟账户余额接口
	Tatum              ProviderConfig `json:"tatum"`
	Dodoex             ProviderConfig `json:"dodoex"`
	Aave               ProviderConfig `json:"aave"`
}

type RuntimeConfig struct {
	ShutdownTimeoutSeconds  int `json:"shutdown_timeout_seconds"`
	PingTimeoutSeconds      int `json:"ping_timeout_seconds"`
	MigrationTimeoutSeconds int `json:"migration_timeout_seconds"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 0, // SSE 事件流不设写超时
			AllowedOrigins:      []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:           10,
			MaxIdleConns:           2,
			ConnMaxLifetimeSeconds: 300,
		},
		Builder: BuilderConfig{
			SessionTTLSeconds:      3600,
			JanitorIntervalSeconds: 60,
			DraftTTLSeconds:        86400,
		},
		Integrations: IntegrationsConfig{
			TimeoutSeconds:     10,
			BreakerMaxFailures: 5,
			BreakerOpenSeconds: 60,
			LedgerURL:          "https://api.tatum.io/v3/ledger/account",
			Tatum:              ProviderConfig{URL: "https://api.tatum.io/v3/wallet"},
			Dodoex:             ProviderConfig{URL: "https://api.dodoex.io/v1/pool"},
			Aave:               ProviderConfig{URL: "https://api.aave.com/v2/leveraged"},
		},
		Runtime: RuntimeConfig{
			ShutdownTimeoutSeconds:  15,
			PingTimeoutSeconds:      5,
			MigrationTimeoutSeconds: 30,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	// .env 非必需
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyList("CORS_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyInt("BUILDER_SESSION_TTL", &c.Builder.SessionTTLSeconds)
	applyInt("BUILDER_JANITOR_INTERVAL", &c.Builder.JanitorIntervalSeconds)
	applyInt("BUILDER_DRAFT_TTL", &c.Builder.DraftTTLSeconds)

	applyInt("INTEGRATION_TIMEOUT", &c.Integrations.TimeoutSeconds)
	applyInt("INTEGRATION_BREAKER_MAX_FAILURES", &c.Integrations.BreakerMaxFailures)
	applyInt("INTEGRATION_BREAKER_OPEN_SECONDS", &c.Integrations.BreakerOpenSeconds)
	applyString("TATUM_LEDGER_URL", &c.Integrations.LedgerURL)
	applyString("TATUM_API_URL", &c.Integrations.Tatum.URL)
	applyString("TATUM_API_KEY", &c.Integrations.Tatum.APIKey)
	applyString("DODOEX_API_URL", &c.Integrations.Dodoex.URL)
	applyString("DODOEX_API_KEY", &c.Integrations.Dodoex.APIKey)
	applyString("AAVE_API_URL", &c.Integrations.Aave.URL)
	applyString("AAVE_API_KEY", &c.Integrations.Aave.APIKey)

	applyInt("SHUTDOWN_TIMEOUT", &c.Runtime.ShutdownTimeoutSeconds)
}

func (c *AppConfig) normalize() {
	if c.Builder.SessionTTLSeconds <= 0 {
		c.Builder.SessionTTLSeconds = 3600
	}
	if c.Builder.JanitorIntervalSeconds <= 0 {
		c.Builder.JanitorIntervalSeconds = 60
	}
	if c.Integrations.TimeoutSeconds <= 0 {
		c.Integrations.TimeoutSeconds = 10
	}
	if c.Integrations.BreakerMaxFailures <= 0 {
		c.Integrations.BreakerMaxFailures = 5
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// applyList 逗号分隔的列表
func applyList(key string, target *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*target = out
}
