package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath      = "CONFIG_PATH"
	EnvDBConnection    = "DB_CONNECTION"
	EnvRedisURL        = "REDIS_URL"
	EnvWeChatAppID     = "WECHAT_APP_ID"
	EnvWeChatAppSecret = "WECHAT_APP_SECRET"
	EnvSessionSecure   = "SESSION_SECURE"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// LoadDatabaseMaxConns reads the database pool bound from the config file.
// A bound of 1 serializes every query on one physical connection.
func LoadDatabaseMaxConns(configPath string) int {
	// fileConfig maps the YAML fields needed for pool sizing.
	type fileConfig struct {
		Database struct {
			MaxConns int `yaml:"max-conns"`
		} `yaml:"database"`
	}

	result := defaultDatabaseMaxConns
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil && cfg.Database.MaxConns > 0 {
			result = cfg.Database.MaxConns
		}
	}
	return result
}

const defaultDatabaseMaxConns = 4

// LoadRedisURL reads the Redis URL from env or the YAML config file.
func LoadRedisURL(configPath string) (string, error) {
	if url := strings.TrimSpace(os.Getenv(EnvRedisURL)); url != "" {
		return url, nil
	}

	// fileConfig maps the YAML fields needed for Redis resolution.
	type fileConfig struct {
		RedisURL string `yaml:"redis-url"`
		Redis    struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		return url, nil
	}
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		return url, nil
	}
	return "", errors.New("missing redis url (set `redis-url` or `redis.url` in config file)")
}

// WeChatConfig holds the mini-program credentials for the federated login path.
type WeChatConfig struct {
	AppID     string `yaml:"app-id"`
	AppSecret string `yaml:"app-secret"`
}

// LoadWeChatConfig loads WeChat settings from the YAML config file with env overrides.
func LoadWeChatConfig(configPath string) (WeChatConfig, error) {
	// fileConfig maps the YAML fields needed for WeChat settings.
	type fileConfig struct {
		WeChat WeChatConfig `yaml:"wechat"`
	}

	var result WeChatConfig
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.WeChat
		}
	}

	if appID := strings.TrimSpace(os.Getenv(EnvWeChatAppID)); appID != "" {
		result.AppID = appID
	}
	if secret := strings.TrimSpace(os.Getenv(EnvWeChatAppSecret)); secret != "" {
		result.AppSecret = secret
	}
	return result, nil
}

// SessionConfig holds session cookie and sweeper settings.
type SessionConfig struct {
	CookieSecure  bool          `yaml:"cookie-secure"`
	SweepInterval time.Duration `yaml:"sweep-interval"`
}

// defaultSweepInterval is used when the config omits the sweeper interval.
const defaultSweepInterval = time.Hour

// LoadSessionConfig loads session settings from the YAML config file.
func LoadSessionConfig(configPath string) (SessionConfig, error) {
	// fileConfig maps the YAML fields needed for session settings.
	type fileConfig struct {
		Session SessionConfig `yaml:"session"`
	}

	result := SessionConfig{SweepInterval: defaultSweepInterval}
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Session
		}
	}

	if secure := strings.TrimSpace(os.Getenv(EnvSessionSecure)); secure != "" {
		parsed, errParse := strconv.ParseBool(secure)
		if errParse != nil {
			return SessionConfig{}, fmt.Errorf("parse %s: %w", EnvSessionSecure, errParse)
		}
		result.CookieSecure = parsed
	}
	if result.SweepInterval <= 0 {
		result.SweepInterval = defaultSweepInterval
	}
	return result, nil
}
