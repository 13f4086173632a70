package api

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

// AdsMetricsConfig configures the ads metrics adapter
type AdsMetricsConfig struct {
	// Endpoints is one URL or a comma-separated pool
	Endpoints   string
	APIKey      string
	BatchSize   int
	CostPerUnit float64
	Connection  ConnectionConfig
}

// AdsMetricsClient is the primary volume provider. It supplies volume, CPC,
// competition and the monthly series in comma-joined GET batches.
type AdsMetricsClient struct {
	config AdsMetricsConfig
	pool   *URLPool
	client *fasthttp.Client
	parser *AdsMetricsParser
	log    *logger.Logger
	now    func() time.Time
}

func NewAdsMetricsClient(config AdsMetricsConfig) *AdsMetricsClient {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.Connection.RequestTimeout <= 0 {
		config.Connection = DefaultConnectionConfig()
	}
	pool := NewURLPool(config.Endpoints)
	return &AdsMetricsClient{
		config: config,
		pool:   pool,
		client: NewFastHTTPClient(config.Connection),
		parser: NewAdsMetricsParser(),
		log: logger.GetLogger().WithFields(map[string]interface{}{
			"component": "ads_metrics_client",
			"endpoints": pool.Size(),
		}),
		now: time.Now,
	}
}

func (c *AdsMetricsClient) Name() keyword.Provider { return keyword.ProviderAdsMetrics }

func (c *AdsMetricsClient) CostPerUnit() float64 { return c.config.CostPerUnit }

func (c *AdsMetricsClient) BatchSize() int { return c.config.BatchSize }

func (c *AdsMetricsClient) Fields() keyword.Field {
	return keyword.FieldSearchVolume | keyword.FieldCPC | keyword.FieldCompetition | keyword.FieldMonthlySeries
}

// Endpoints reports the health of the endpoint pool
func (c *AdsMetricsClient) Endpoints() []EndpointHealth {
	return c.pool.Health()
}

func (c *AdsMetricsClient) FetchMetrics(ctx context.Context, keywords []string, location int) ([]Result, error) {
	return fetchInBatches(ctx, keywords, c.config.BatchSize, func(ctx context.Context, batch []string) ([]Result, error) {
		return c.fetchBatch(ctx, batch, location)
	})
}

func (c *AdsMetricsClient) fetchBatch(ctx context.Context, batch []string, location int) ([]Result, error) {
	baseURL := c.pool.Next()
	if baseURL == "" {
		return nil, NewProviderError(c.Name(), KindAuth, 0, "no endpoints configured")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.buildURL(baseURL, batch, location))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := c.now()
	if err := doRequest(ctx, c.Name(), c.client, c.config.Connection.RequestTimeout, req, resp); err != nil {
		c.recordEndpoint(baseURL, err)
		c.log.WithError(err).WithField("endpoint", logger.MaskURL(baseURL)).Warn("Ads metrics request failed")
		return nil, err
	}
	if err := statusError(c.Name(), resp); err != nil {
		c.recordEndpoint(baseURL, err)
		return nil, err
	}
	c.pool.RecordSuccess(baseURL)

	records, err := c.parser.ParseResponse(resp.Body(), location, c.now())
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		rec.CostUnits = c.config.CostPerUnit
	}

	c.log.WithFields(map[string]interface{}{
		"keywords":    len(batch),
		"matched":     len(records),
		"duration_ms": c.now().Sub(start).Milliseconds(),
	}).Debug("Ads metrics batch completed")

	return matchResults(c.Name(), batch, records), nil
}

// buildURL accepts either a base URL or a template already ending in "?keyword="
func (c *AdsMetricsClient) buildURL(baseURL string, batch []string, location int) string {
	param := url.QueryEscape(strings.Join(batch, ","))
	loc := "&location=" + strconv.Itoa(location)
	if location <= 0 {
		loc = ""
	}
	if strings.Contains(baseURL, "?keyword=") {
		return baseURL + param + loc
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "keyword=" + param + loc
}

// recordEndpoint only penalizes an endpoint for failures of the endpoint itself
func (c *AdsMetricsClient) recordEndpoint(baseURL string, err error) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == KindTransient {
		c.pool.RecordFailure(baseURL)
		return
	}
	c.pool.RecordSuccess(baseURL)
}
