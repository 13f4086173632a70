package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

// DifficultyConfig configures the difficulty/intent adapter
type DifficultyConfig struct {
	Endpoint     string
	Login        string
	Password     string
	LanguageCode string
	BatchSize    int
	CostPerUnit  float64
	Connection   ConnectionConfig
}

// DifficultyClient is the paid difficulty and intent provider. It also returns
// volume and CPC, so it can stand in for the primary provider.
type DifficultyClient struct {
	config DifficultyConfig
	pool   *URLPool
	client *fasthttp.Client
	parser *DifficultyParser
	log    *logger.Logger
	now    func() time.Time
}

type difficultyTaskRequest struct {
	Keywords     []string `json:"keywords"`
	LocationCode int      `json:"location_code,omitempty"`
	LanguageCode string   `json:"language_code,omitempty"`
}

func NewDifficultyClient(config DifficultyConfig) *DifficultyClient {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Connection.RequestTimeout <= 0 {
		config.Connection = DefaultConnectionConfig()
		config.Connection.RequestTimeout = 60 * time.Second
	}
	return &DifficultyClient{
		config: config,
		pool:   NewURLPool(config.Endpoint),
		client: NewFastHTTPClient(config.Connection),
		parser: NewDifficultyParser(),
		log:    logger.GetLogger().WithField("component", "difficulty_client"),
		now:    time.Now,
	}
}

func (c *DifficultyClient) Name() keyword.Provider { return keyword.ProviderDifficulty }

func (c *DifficultyClient) CostPerUnit() float64 { return c.config.CostPerUnit }

func (c *DifficultyClient) BatchSize() int { return c.config.BatchSize }

func (c *DifficultyClient) Fields() keyword.Field {
	return keyword.FieldDifficulty | keyword.FieldIntent | keyword.FieldSearchVolume |
		keyword.FieldCPC | keyword.FieldCompetition | keyword.FieldMonthlySeries
}

func (c *DifficultyClient) FetchMetrics(ctx context.Context, keywords []string, location int) ([]Result, error) {
	return fetchInBatches(ctx, keywords, c.config.BatchSize, func(ctx context.Context, batch []string) ([]Result, error) {
		return c.fetchBatch(ctx, batch, location)
	})
}

func (c *DifficultyClient) fetchBatch(ctx context.Context, batch []string, location int) ([]Result, error) {
	endpoint := c.pool.Next()
	if endpoint == "" {
		return nil, NewProviderError(c.Name(), KindAuth, 0, "no endpoint configured")
	}

	payload, err := json.Marshal([]difficultyTaskRequest{{
		Keywords:     batch,
		LocationCode: location,
		LanguageCode: c.config.LanguageCode,
	}})
	if err != nil {
		return nil, malformed(c.Name(), err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Login != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(c.config.Login + ":" + c.config.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	}
	req.SetBody(payload)

	if err := doRequest(ctx, c.Name(), c.client, c.config.Connection.RequestTimeout, req, resp); err != nil {
		c.pool.RecordFailure(endpoint)
		return nil, err
	}
	if err := statusError(c.Name(), resp); err != nil {
		return nil, err
	}
	c.pool.RecordSuccess(endpoint)

	records, cost, err := c.parser.ParseResponse(resp.Body(), location, c.now())
	if err != nil {
		c.log.WithError(err).WithField("keywords", len(batch)).Warn("Difficulty task failed")
		return nil, err
	}

	c.log.WithFields(map[string]interface{}{
		"keywords": len(batch),
		"matched":  len(records),
		"cost":     cost,
	}).Debug("Difficulty batch completed")

	return matchResults(c.Name(), batch, records), nil
}
