package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("KWENRICH_PROVIDERS_ADS_METRICS_ENDPOINT", "https://a.example/v1/metrics,https://b.example/v1/metrics")
	t.Setenv("KWENRICH_CACHE_BACKEND", "memory")

	cfg, err := NewManager().Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"ads_metrics", "difficulty", "serp"}, cfg.Engine.Providers)
	assert.Equal(t, 2840, cfg.Engine.Location)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30.0, cfg.Cache.MaxAgeDays)

	ads := cfg.Providers.AdsMetrics
	assert.True(t, ads.Enabled)
	assert.Equal(t, 20, ads.BatchSize)
	assert.Equal(t, time.Second, ads.Interval)
	assert.Equal(t, 3, ads.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, ads.Breaker.OpenTimeout)
	assert.Equal(t, "window", ads.Quota.Model)

	assert.False(t, cfg.Providers.Difficulty.Enabled)
	assert.Equal(t, "balance", cfg.Providers.Difficulty.Quota.Model)
	assert.Equal(t, 1, cfg.Providers.SERP.Quota.RequestBatch)
	assert.Equal(t, "request", cfg.Providers.SERP.Quota.Unit)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  providers: [difficulty, ads_metrics]
  timeout: 90s
cache:
  backend: redis
  max_age_days: 7
  redis:
    address: cache:6379
providers:
  ads_metrics:
    enabled: false
  difficulty:
    enabled: true
    endpoint: https://api.example.com/v3/keywords
    login: user
    password: secret
    retry:
      max_retries: 1
      initial_delay: 250ms
    quota:
      starting_balance: 12.5
`)

	cfg, err := NewManager().Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"difficulty", "ads_metrics"}, cfg.Engine.Providers)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Address)
	assert.Equal(t, 7.0, cfg.Cache.MaxAgeDays)

	d := cfg.Providers.Difficulty
	assert.True(t, d.Enabled)
	assert.Equal(t, "user", d.Login)
	assert.Equal(t, 1, d.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, d.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, d.Retry.MaxDelay)
	assert.Equal(t, 12.5, d.Quota.StartingBalance)
	assert.Equal(t, 100, d.BatchSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
cache:
  backend: memory
providers:
  ads_metrics:
    endpoint: https://file.example/metrics
`)
	t.Setenv("KWENRICH_PROVIDERS_ADS_METRICS_ENDPOINT", "https://env.example/metrics")
	t.Setenv("KWENRICH_SERVER_PORT", "7000")

	cfg, err := NewManager().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/metrics", cfg.Providers.AdsMetrics.Endpoint)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "enabled provider without endpoint",
			body: "cache:\n  backend: memory\n",
			want: "providers.ads_metrics.endpoint",
		},
		{
			name: "unknown provider",
			body: "engine:\n  providers: [ads_metrics, bing]\ncache:\n  backend: memory\nproviders:\n  ads_metrics:\n    endpoint: http://x\n",
			want: "unknown provider",
		},
		{
			name: "unknown backend",
			body: "cache:\n  backend: mongo\nproviders:\n  ads_metrics:\n    endpoint: http://x\n",
			want: "unknown cache backend",
		},
		{
			name: "no provider enabled",
			body: "cache:\n  backend: memory\nproviders:\n  ads_metrics:\n    enabled: false\n",
			want: "at least one provider",
		},
		{
			name: "bad quota model",
			body: "cache:\n  backend: memory\nproviders:\n  ads_metrics:\n    endpoint: http://x\n    quota:\n      model: credits\n",
			want: "quota.model",
		},
		{
			name: "bad threshold",
			body: "cache:\n  backend: memory\nquota:\n  warning_threshold: 1.5\nproviders:\n  ads_metrics:\n    endpoint: http://x\n",
			want: "warning_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager().Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReload(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: memory\nproviders:\n  ads_metrics:\n    endpoint: http://x\n")
	m := NewManager()

	assert.Error(t, m.Reload(), "reload before load")

	_, err := m.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, m.GetConfig().Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\ncache:\n  backend: memory\nproviders:\n  ads_metrics:\n    endpoint: http://x\n"), 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 8181, m.GetConfig().Server.Port)
}

func TestProvidersConfig_Provider(t *testing.T) {
	p := ProvidersConfig{SERP: ProviderConfig{Engine: "google"}}
	got, ok := p.Provider("serp")
	assert.True(t, ok)
	assert.Equal(t, "google", got.Engine)

	_, ok = p.Provider("bing")
	assert.False(t, ok)
}
