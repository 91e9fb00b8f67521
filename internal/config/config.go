package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"erpsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NetSuite   NetSuiteConfig   `yaml:"netsuite"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Notify     NotifyConfig     `yaml:"notify"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NetSuiteConfig describes one ERP environment. The client is built once per
// process from this section and injected; nothing resolves it ambiently.
type NetSuiteConfig struct {
	BaseURL        string            `yaml:"base_url"`
	AccountID      string            `yaml:"account_id"`
	ClientID       string            `yaml:"client_id"`
	ClientSecret   string            `yaml:"client_secret"`
	TokenURL       string            `yaml:"token_url"`
	Scripts        map[string]string `yaml:"scripts"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	RequestsPerSec float64           `yaml:"requests_per_sec"`
}

type SyncConfig struct {
	Modules          []string `yaml:"modules"`
	StalenessHours   int      `yaml:"staleness_hours"`
	PageSize         int      `yaml:"page_size"`
	MaxAttempts      int      `yaml:"max_attempts"`
	RetryDelaysSec   []int    `yaml:"retry_delays_sec"`
	CacheTTLSeconds  int      `yaml:"cache_ttl_seconds"`
	RecoveryAgeHours int      `yaml:"recovery_age_hours"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	TelegramChat  int64  `yaml:"telegram_chat"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен, но подхватываем если есть
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.NetSuite.BaseURL == "" {
		return errors.New("netsuite base_url is required")
	}
	if c.NetSuite.ClientID == "" || c.NetSuite.ClientSecret == "" {
		return errors.New("netsuite client credentials are required")
	}

	for _, module := range c.Sync.Modules {
		if !models.IsSupportedModule(module) {
			return fmt.Errorf("unsupported sync module: %s", module)
		}
		if _, ok := c.NetSuite.Scripts[module]; !ok {
			return fmt.Errorf("no netsuite script mapping for module: %s", module)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if len(c.Sync.Modules) == 0 {
		c.Sync.Modules = []string{models.ModuleCustomer, models.ModuleVendor}
	}
	if c.Sync.StalenessHours == 0 {
		c.Sync.StalenessHours = models.DefaultStalenessHours
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = models.DefaultPageSize
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.MaxJobAttempts
	}
	if len(c.Sync.RetryDelaysSec) == 0 {
		c.Sync.RetryDelaysSec = []int{1, 10, 60}
	}
	if c.Sync.CacheTTLSeconds == 0 {
		c.Sync.CacheTTLSeconds = models.DefaultCacheTTL
	}
	if c.Sync.RecoveryAgeHours == 0 {
		c.Sync.RecoveryAgeHours = 1
	}

	if c.NetSuite.TimeoutSeconds == 0 {
		c.NetSuite.TimeoutSeconds = models.DefaultFetchTimeoutSeconds
	}
	if c.NetSuite.RequestsPerSec == 0 {
		c.NetSuite.RequestsPerSec = 5
	}
}

// Staleness returns the configured staleness threshold as a duration.
func (c *SyncConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

// CacheTTL returns the configured cache entry TTL as a duration.
func (c *SyncConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// RetryDelays returns the per-attempt redelivery delays.
func (c *SyncConfig) RetryDelays() []time.Duration {
	delays := make([]time.Duration, len(c.RetryDelaysSec))
	for i, s := range c.RetryDelaysSec {
		delays[i] = time.Duration(s) * time.Second
	}
	return delays
}
