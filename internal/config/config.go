package config

import (
	"time"

	"keyword-enricher/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Logger    logger.Config   `mapstructure:"logger"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MaxConcurrent bounds enrichment batches running at once
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type EngineConfig struct {
	// Providers is the default priority order
	Providers        []string      `mapstructure:"providers"`
	Location         int           `mapstructure:"location"`
	MaxKeywords      int           `mapstructure:"max_keywords"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheConcurrency int           `mapstructure:"cache_concurrency"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	MaxAgeDays    float64       `mapstructure:"max_age_days"`
	MemorySize    int           `mapstructure:"memory_size"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	Redis         RedisConfig   `mapstructure:"redis"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type QuotaConfig struct {
	WarningThreshold float64 `mapstructure:"warning_threshold"`
	RolloverSchedule string  `mapstructure:"rollover_schedule"`
}

type ProvidersConfig struct {
	AdsMetrics ProviderConfig `mapstructure:"ads_metrics"`
	Difficulty ProviderConfig `mapstructure:"difficulty"`
	SERP       ProviderConfig `mapstructure:"serp"`
}

// ProviderConfig holds the settings shared by every adapter. Fields a vendor does
// not use are ignored.
type ProviderConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is one URL or a comma-separated pool
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Login        string        `mapstructure:"login"`
	Password     string        `mapstructure:"password"`
	LanguageCode string        `mapstructure:"language_code"`
	Engine       string        `mapstructure:"engine"`
	BatchSize    int           `mapstructure:"batch_size"`
	Interval     time.Duration `mapstructure:"interval"`
	CostPerUnit  float64       `mapstructure:"cost_per_unit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Quota        ProviderQuota `mapstructure:"quota"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type ProviderQuota struct {
	// Model is "window", "balance" or "none"
	Model           string  `mapstructure:"model"`
	Unit            string  `mapstructure:"unit"`
	UnitsLimit      int64   `mapstructure:"units_limit"`
	StartingBalance float64 `mapstructure:"starting_balance"`
	// CostPerKeywordEstimate only drives the remaining-keywords estimate
	CostPerKeywordEstimate float64 `mapstructure:"cost_per_keyword_estimate"`
	// RequestBatch is the keywords covered by one billed request; 0 uses batch_size
	RequestBatch int `mapstructure:"request_batch"`
}

// Provider returns the settings of a provider by name
func (p ProvidersConfig) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "ads_metrics":
		return p.AdsMetrics, true
	case "difficulty":
		return p.Difficulty, true
	case "serp":
		return p.SERP, true
	}
	return ProviderConfig{}, false
}

type Manager interface {
	Load(configPath string) (*Config, error)
	Reload() error
	GetConfig() *Config
}
