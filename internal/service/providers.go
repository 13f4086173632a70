package service

import (
	"keyword-enricher/internal/config"
	"keyword-enricher/pkg/api"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/quota"
)

func buildProvider(name keyword.Provider, pc config.ProviderConfig) api.MetricsProvider {
	conn := api.DefaultConnectionConfig()
	if pc.Timeout > 0 {
		conn.RequestTimeout = pc.Timeout
	}

	switch name {
	case keyword.ProviderDifficulty:
		return api.NewDifficultyClient(api.DifficultyConfig{
			Endpoint:     pc.Endpoint,
			Login:        pc.Login,
			Password:     pc.Password,
			LanguageCode: pc.LanguageCode,
			BatchSize:    pc.BatchSize,
			CostPerUnit:  pc.CostPerUnit,
			Connection:   conn,
		})
	case keyword.ProviderSERP:
		return api.NewSERPClient(api.SERPConfig{
			Endpoint:    pc.Endpoint,
			APIKey:      pc.APIKey,
			Engine:      pc.Engine,
			BatchSize:   pc.BatchSize,
			CostPerUnit: pc.CostPerUnit,
			Connection:  conn,
		})
	default:
		return api.NewAdsMetricsClient(api.AdsMetricsConfig{
			Endpoints:   pc.Endpoint,
			APIKey:      pc.APIKey,
			BatchSize:   pc.BatchSize,
			CostPerUnit: pc.CostPerUnit,
			Connection:  conn,
		})
	}
}

// breakerConfig starts from the preset matching the provider's billing and
// applies the configured overrides
func breakerConfig(name keyword.Provider, pc config.ProviderConfig) api.BreakerConfig {
	bc := api.PaidBreakerConfig(string(name))
	if name == keyword.ProviderAdsMetrics {
		bc = api.FreeTierBreakerConfig(string(name))
	}
	if pc.Breaker.FailureThreshold > 0 {
		bc.FailureThreshold = pc.Breaker.FailureThreshold
	}
	if pc.Breaker.SuccessThreshold > 0 {
		bc.SuccessThreshold = pc.Breaker.SuccessThreshold
	}
	if pc.Breaker.OpenTimeout > 0 {
		bc.OpenTimeout = pc.Breaker.OpenTimeout
	}
	if pc.Breaker.RequestTimeout > 0 {
		bc.RequestTimeout = pc.Breaker.RequestTimeout
	}
	return bc
}

func retryConfig(pc config.ProviderConfig) api.RetryConfig {
	rc := api.DefaultRetryConfig()
	if pc.Retry.MaxRetries > 0 {
		rc.MaxRetries = pc.Retry.MaxRetries
	}
	if pc.Retry.InitialDelay > 0 {
		rc.InitialDelay = pc.Retry.InitialDelay
	}
	if pc.Retry.MaxDelay > 0 {
		rc.MaxDelay = pc.Retry.MaxDelay
	}
	if pc.Retry.Multiplier > 0 {
		rc.Multiplier = pc.Retry.Multiplier
	}
	return rc
}

// quotaPolicy returns false for providers configured without quota accounting.
// The price per unit comes from the adapter that will be billed.
func quotaPolicy(provider api.MetricsProvider, pc config.ProviderConfig) (quota.Policy, bool) {
	if pc.Quota.Model == "" || pc.Quota.Model == "none" {
		return quota.Policy{}, false
	}
	batch := pc.Quota.RequestBatch
	if batch <= 0 {
		batch = pc.BatchSize
	}
	return quota.Policy{
		Provider:               provider.Name(),
		Model:                  quota.Model(pc.Quota.Model),
		Unit:                   quota.Unit(pc.Quota.Unit),
		BatchSize:              batch,
		UnitsLimit:             pc.Quota.UnitsLimit,
		StartingBalance:        pc.Quota.StartingBalance,
		CostPerUnit:            provider.CostPerUnit(),
		CostPerKeywordEstimate: pc.Quota.CostPerKeywordEstimate,
	}, true
}
