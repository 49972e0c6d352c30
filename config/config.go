// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Host               string  `yaml:"host"`
	Port               string  `yaml:"port"`
	DBDriver           string  `yaml:"db_driver"`
	DatabaseURL        string  `yaml:"database_url"`
	AutoMigrate        bool    `yaml:"auto_migrate"`
	MigrationsDir      string  `yaml:"migrations_dir"`
	KeyProtector       string  `yaml:"key_protector"`
	KeyPassphrase      string  `yaml:"-"`
	KMSKeyName         string  `yaml:"kms_key_name"`
	RSAKeyBits         int     `yaml:"rsa_key_bits"`
	OpenConcurrency    int     `yaml:"open_concurrency"`
	GoogleCloudProject string  `yaml:"google_cloud_project"`
	LogLevel           string  `yaml:"log_level"`
	OtelEnabled        bool    `yaml:"otel_enabled"`
	OtelEndpoint       string  `yaml:"otel_endpoint"`
	OtelInsecure       bool    `yaml:"otel_insecure"`
	OtelServiceName    string  `yaml:"otel_service_name"`
	OtelSamplingRate   float64 `yaml:"otel_sampling_rate"`
}

// Default はデフォルト値の設定を返す。
func Default() *Config {
	return &Config{
		Host:             "127.0.0.1",
		Port:             "8080",
		DBDriver:         "sqlite",
		DatabaseURL:      "message-crypto.db",
		AutoMigrate:      true,
		MigrationsDir:    "./migrations",
		KeyProtector:     "passphrase",
		RSAKeyBits:       2048,
		OpenConcurrency:  8,
		LogLevel:         "INFO",
		OtelEndpoint:     "localhost:4317",
		OtelServiceName:  "message-crypto-service",
		OtelSamplingRate: 1.0,
	}
}

// Load は環境変数から設定を読み込む。
// CONFIG_FILE が指定されている場合はYAMLを先に読み込み、環境変数で上書きする。
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnv("PORT", c.Port)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.AutoMigrate = getEnvBool("AUTO_MIGRATE", c.AutoMigrate)
	c.MigrationsDir = getEnv("MIGRATIONS_DIR", c.MigrationsDir)
	c.KeyProtector = getEnv("KEY_PROTECTOR", c.KeyProtector)
	c.KeyPassphrase = getEnv("KEY_PASSPHRASE", c.KeyPassphrase)
	c.KMSKeyName = getEnv("KMS_KEY_NAME", c.KMSKeyName)
	c.RSAKeyBits = getEnvInt("RSA_KEY_BITS", c.RSAKeyBits)
	c.OpenConcurrency = getEnvInt("OPEN_CONCURRENCY", c.OpenConcurrency)
	c.GoogleCloudProject = getEnv("GOOGLE_CLOUD_PROJECT", c.GoogleCloudProject)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.OtelEnabled = getEnvBool("OTEL_ENABLED", c.OtelEnabled)
	c.OtelEndpoint = getEnv("OTEL_ENDPOINT", c.OtelEndpoint)
	c.OtelInsecure = getEnvBool("OTEL_INSECURE", c.OtelInsecure)
	c.OtelServiceName = getEnv("OTEL_SERVICE_NAME", c.OtelServiceName)
	c.OtelSamplingRate = getEnvFloat("OTEL_SAMPLING_RATE", c.OtelSamplingRate)
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or mysql)", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.RSAKeyBits < 2048 {
		return fmt.Errorf("RSA_KEY_BITS must be at least 2048, got %d", c.RSAKeyBits)
	}
	if c.OpenConcurrency < 1 {
		return fmt.Errorf("OPEN_CONCURRENCY must be positive, got %d", c.OpenConcurrency)
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be within [0, 1], got %v", c.OtelSamplingRate)
	}
	return nil
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
