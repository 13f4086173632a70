package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

// SERPConfig configures the SERP adapter
type SERPConfig struct {
	Endpoint    string
	APIKey      string
	Engine      string
	BatchSize   int
	CostPerUnit float64
	Connection  ConnectionConfig
}

// SERPClient reads one results page per keyword and derives organic CTR and intent
type SERPClient struct {
	config SERPConfig
	pool   *URLPool
	client *fasthttp.Client
	parser *SERPParser
	log    *logger.Logger
	now    func() time.Time
}

func NewSERPClient(config SERPConfig) *SERPClient {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.Connection.RequestTimeout <= 0 {
		config.Connection = DefaultConnectionConfig()
	}
	return &SERPClient{
		config: config,
		pool:   NewURLPool(config.Endpoint),
		client: NewFastHTTPClient(config.Connection),
		parser: NewSERPParser(),
		log:    logger.GetLogger().WithField("component", "serp_client"),
		now:    time.Now,
	}
}

func (c *SERPClient) Name() keyword.Provider { return keyword.ProviderSERP }

func (c *SERPClient) CostPerUnit() float64 { return c.config.CostPerUnit }

func (c *SERPClient) BatchSize() int { return c.config.BatchSize }

func (c *SERPClient) Fields() keyword.Field {
	return keyword.FieldOrganicCTR | keyword.FieldIntent
}

// FetchMetrics issues one request per keyword
func (c *SERPClient) FetchMetrics(ctx context.Context, keywords []string, location int) ([]Result, error) {
	return fetchInBatches(ctx, keywords, 1, func(ctx context.Context, batch []string) ([]Result, error) {
		rec, err := c.fetchOne(ctx, batch[0], location)
		if err != nil {
			return nil, err
		}
		return []Result{{Keyword: batch[0], Record: rec}}, nil
	})
}

func (c *SERPClient) fetchOne(ctx context.Context, kw string, location int) (*keyword.Record, error) {
	endpoint := c.pool.Next()
	if endpoint == "" {
		return nil, NewProviderError(c.Name(), KindAuth, 0, "no endpoint configured")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.buildURL(endpoint, kw, location))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := doRequest(ctx, c.Name(), c.client, c.config.Connection.RequestTimeout, req, resp); err != nil {
		c.pool.RecordFailure(endpoint)
		return nil, err
	}
	if err := statusError(c.Name(), resp); err != nil {
		c.log.WithField("status", resp.StatusCode()).Debug("SERP request rejected")
		return nil, err
	}
	c.pool.RecordSuccess(endpoint)

	rec, err := c.parser.ParseResponse(resp.Body(), kw, location, c.now())
	if err != nil {
		return nil, err
	}
	rec.Keyword = kw
	rec.CostUnits = c.config.CostPerUnit
	return rec, nil
}

func (c *SERPClient) buildURL(endpoint, kw string, location int) string {
	params := url.Values{}
	params.Set("q", kw)
	if location > 0 {
		params.Set("location", strconv.Itoa(location))
	}
	if c.config.Engine != "" {
		params.Set("engine", c.config.Engine)
	}
	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + params.Encode()
}
