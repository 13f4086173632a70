package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"keyword-enricher/pkg/keyword"
)

type manager struct {
	mu     sync.RWMutex
	config *Config
	viper  *viper.Viper
	path   string
}

func NewManager() Manager {
	return &manager{
		viper: viper.New(),
	}
}

// Load reads configPath when given, then applies KWENRICH_* environment overrides
// on top of the defaults
func (m *manager) Load(configPath string) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = configPath
	m.setupViper(configPath)

	config, err := m.read()
	if err != nil {
		return nil, err
	}
	m.config = config
	return config, nil
}

func (m *manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return fmt.Errorf("config not loaded")
	}

	config, err := m.read()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	m.config = config
	return nil
}

func (m *manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// caller holds mu
func (m *manager) read() (*Config, error) {
	if m.path != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := m.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (m *manager) setupViper(configPath string) {
	if configPath != "" {
		m.viper.SetConfigFile(configPath)
	}

	m.viper.SetEnvPrefix("KWENRICH")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	setDefaults(m.viper)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent", 4)
	v.SetDefault("server.acquire_timeout", "5s")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "6m")

	v.SetDefault("engine.providers", []string{"ads_metrics", "difficulty", "serp"})
	v.SetDefault("engine.location", 2840)
	v.SetDefault("engine.max_keywords", 1000)
	v.SetDefault("engine.timeout", "5m")
	v.SetDefault("engine.cache_concurrency", 16)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.max_age_days", 30)
	v.SetDefault("cache.memory_size", 50000)
	v.SetDefault("cache.sqlite_path", "data/keyword-cache.db")
	v.SetDefault("cache.postgres_dsn", "")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis_ttl", "0s")
	v.SetDefault("cache.purge_schedule", "@daily")

	v.SetDefault("quota.warning_threshold", 0.8)
	v.SetDefault("quota.rollover_schedule", "@hourly")

	// free tier: fail fast, recover fast
	setProviderDefaults(v, "ads_metrics", providerDefaults{
		batchSize: 20, interval: "1s", timeout: "30s",
		failureThreshold: 3, openTimeout: "30s",
		model: "window", unit: "keyword", unitsLimit: 100000,
	})
	setProviderDefaults(v, "difficulty", providerDefaults{
		batchSize: 100, interval: "2s", timeout: "60s", costPerUnit: 0.0001,
		failureThreshold: 5, openTimeout: "2m",
		model: "balance", unit: "keyword", startingBalance: 50, costPerKeywordEstimate: 0.0003,
	})
	setProviderDefaults(v, "serp", providerDefaults{
		batchSize: 10, interval: "500ms", timeout: "30s", costPerUnit: 0.01,
		failureThreshold: 5, openTimeout: "2m",
		model: "window", unit: "request", unitsLimit: 5000,
	})
	v.SetDefault("providers.ads_metrics.enabled", true)
	v.SetDefault("providers.difficulty.language_code", "en")
	v.SetDefault("providers.serp.engine", "google")
	v.SetDefault("providers.serp.quota.request_batch", 1)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.time_format", "")
}

type providerDefaults struct {
	batchSize              int
	interval               string
	timeout                string
	costPerUnit            float64
	failureThreshold       int
	openTimeout            string
	model                  string
	unit                   string
	unitsLimit             int64
	startingBalance        float64
	costPerKeywordEstimate float64
}

func setProviderDefaults(v *viper.Viper, name string, d providerDefaults) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"enabled", false)
	v.SetDefault(prefix+"endpoint", "")
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"login", "")
	v.SetDefault(prefix+"password", "")
	v.SetDefault(prefix+"language_code", "")
	v.SetDefault(prefix+"engine", "")
	v.SetDefault(prefix+"batch_size", d.batchSize)
	v.SetDefault(prefix+"interval", d.interval)
	v.SetDefault(prefix+"cost_per_unit", d.costPerUnit)
	v.SetDefault(prefix+"timeout", d.timeout)

	v.SetDefault(prefix+"breaker.failure_threshold", d.failureThreshold)
	v.SetDefault(prefix+"breaker.success_threshold", 2)
	v.SetDefault(prefix+"breaker.open_timeout", d.openTimeout)
	v.SetDefault(prefix+"breaker.request_timeout", d.timeout)

	v.SetDefault(prefix+"retry.max_retries", 3)
	v.SetDefault(prefix+"retry.initial_delay", "500ms")
	v.SetDefault(prefix+"retry.max_delay", "30s")
	v.SetDefault(prefix+"retry.multiplier", 2.0)

	v.SetDefault(prefix+"quota.model", d.model)
	v.SetDefault(prefix+"quota.unit", d.unit)
	v.SetDefault(prefix+"quota.units_limit", d.unitsLimit)
	v.SetDefault(prefix+"quota.starting_balance", d.startingBalance)
	v.SetDefault(prefix+"quota.cost_per_keyword_estimate", d.costPerKeywordEstimate)
	v.SetDefault(prefix+"quota.request_batch", 0)
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be positive")
	}

	if len(config.Engine.Providers) == 0 {
		return fmt.Errorf("engine.providers cannot be empty")
	}
	seen := make(map[string]bool)
	for _, name := range config.Engine.Providers {
		if _, ok := keyword.ParseProvider(name); !ok {
			return fmt.Errorf("unknown provider %q in engine.providers", name)
		}
		if seen[name] {
			return fmt.Errorf("provider %q listed twice in engine.providers", name)
		}
		seen[name] = true
	}
	if config.Engine.MaxKeywords <= 0 {
		return fmt.Errorf("engine.max_keywords must be positive")
	}
	if config.Engine.Location <= 0 {
		return fmt.Errorf("engine.location must be positive")
	}

	switch config.Cache.Backend {
	case "memory":
	case "sqlite":
		if config.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path cannot be empty")
		}
	case "redis":
		if config.Cache.Redis.Address == "" {
			return fmt.Errorf("cache.redis.address cannot be empty")
		}
	case "postgres":
		if config.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn cannot be empty")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", config.Cache.Backend)
	}
	if config.Cache.MaxAgeDays <= 0 {
		return fmt.Errorf("cache.max_age_days must be positive")
	}

	if config.Quota.WarningThreshold <= 0 || config.Quota.WarningThreshold > 1 {
		return fmt.Errorf("quota.warning_threshold must be in (0, 1]")
	}

	enabled := 0
	for _, name := range []string{"ads_metrics", "difficulty", "serp"} {
		p, _ := config.Providers.Provider(name)
		if !p.Enabled {
			continue
		}
		enabled++
		if err := validateProvider(name, p); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	return nil
}

func validateProvider(name string, p ProviderConfig) error {
	if p.Endpoint == "" {
		return fmt.Errorf("providers.%s.endpoint cannot be empty", name)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("providers.%s.batch_size must be positive", name)
	}
	if p.CostPerUnit < 0 {
		return fmt.Errorf("providers.%s.cost_per_unit cannot be negative", name)
	}
	switch p.Quota.Model {
	case "none", "":
	case "window":
		if p.Quota.UnitsLimit < 0 {
			return fmt.Errorf("providers.%s.quota.units_limit cannot be negative", name)
		}
	case "balance":
		if p.Quota.StartingBalance < 0 {
			return fmt.Errorf("providers.%s.quota.starting_balance cannot be negative", name)
		}
	default:
		return fmt.Errorf("providers.%s.quota.model %q is not one of window, balance, none", name, p.Quota.Model)
	}
	switch p.Quota.Unit {
	case "", "keyword", "request":
	default:
		return fmt.Errorf("providers.%s.quota.unit %q is not one of keyword, request", name, p.Quota.Unit)
	}
	return nil
}
