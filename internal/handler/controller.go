package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"keyword-enricher/internal/service"
	"keyword-enricher/pkg/enrichment"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
	"keyword-enricher/pkg/monitor"
	"keyword-enricher/pkg/quota"
)

// Backend is what the controller needs from the service layer
type Backend interface {
	Enrich(ctx context.Context, keywords []string, opts enrichment.Options) (*enrichment.BatchResult, error)
	Estimate(ctx context.Context, keywordCount int, providers []keyword.Provider) (quota.Availability, error)
	Providers(ctx context.Context) ([]service.ProviderStatus, error)
	ResetBreaker(name string) error
	SetBalance(ctx context.Context, name string, balance float64) error
	Health(ctx context.Context) error
	Registry() *prometheus.Registry
}

type Controller struct {
	backend Backend
	log     *logger.Logger
}

type ControllerConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// BodyLimit caps request bodies in bytes
	BodyLimit int
}

type EnrichRequest struct {
	Keywords       []string `json:"keywords"`
	Providers      []string `json:"providers"`
	LocationCode   int      `json:"location_code"`
	ForceRefresh   bool     `json:"force_refresh"`
	VolumeOnly     bool     `json:"volume_only"`
	MaxKeywords    int      `json:"max_keywords"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
}

type EnrichResponse struct {
	ID        string                             `json:"id"`
	Location  int                                `json:"location_code"`
	Providers []keyword.Provider                 `json:"providers"`
	Records   []*keyword.Record                  `json:"records"`
	Stats     enrichment.Stats                   `json:"stats"`
	Warnings  []string                           `json:"warnings"`
	Preflight map[keyword.Provider]quota.Verdict `json:"preflight,omitempty"`
}

type EstimateRequest struct {
	KeywordCount int      `json:"keyword_count"`
	Providers    []string `json:"providers"`
}

type BalanceRequest struct {
	Balance float64 `json:"balance"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewController(backend Backend) *Controller {
	return &Controller{
		backend: backend,
		log:     logger.GetLogger().WithField("component", "http_controller"),
	}
}

// NewApp builds the fiber application with every route mounted
func NewApp(backend Backend, config ControllerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "keyword-enricher",
		DisableStartupMessage: true,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		BodyLimit:             config.BodyLimit,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "internal server error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(errorResponse{Error: message})
		},
	})
	app.Use(recover.New())
	app.Use(requestid.New())

	NewController(backend).Register(app)
	return app
}

// Register mounts the routes on app
func (ctl *Controller) Register(app *fiber.App) {
	metrics := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(ctl.backend.Registry(), promhttp.HandlerOpts{}),
	)

	app.Get("/healthz", ctl.Health)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	v1 := app.Group("/api/v1")
	v1.Post("/enrich", ctl.Enrich)
	v1.Post("/quota/estimate", ctl.Estimate)
	v1.Get("/providers", ctl.Providers)
	v1.Post("/providers/:name/reset", ctl.ResetBreaker)
	v1.Put("/providers/:name/balance", ctl.SetBalance)
}

func (ctl *Controller) Enrich(c *fiber.Ctx) error {
	var req EnrichRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Keywords) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "keywords is required")
	}
	providers, err := parseProviders(req.Providers)
	if err != nil {
		return err
	}

	result, err := ctl.backend.Enrich(c.UserContext(), req.Keywords, enrichment.Options{
		Providers:    providers,
		Location:     req.LocationCode,
		ForceRefresh: req.ForceRefresh,
		VolumeOnly:   req.VolumeOnly,
		MaxKeywords:  req.MaxKeywords,
		Timeout:      time.Duration(req.TimeoutSeconds * float64(time.Second)),
	})
	if err != nil {
		return ctl.translate(err)
	}

	ctl.log.WithFields(map[string]interface{}{
		"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
		"batch_id":   result.ID,
		"keywords":   len(result.Keywords),
	}).Debug("Enrich request served")

	return c.JSON(EnrichResponse{
		ID:        result.ID,
		Location:  result.Location,
		Providers: result.Providers,
		Records:   result.Ordered(),
		Stats:     result.Stats,
		Warnings:  result.Warnings,
		Preflight: result.Preflight,
	})
}

func (ctl *Controller) Estimate(c *fiber.Ctx) error {
	var req EstimateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.KeywordCount < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "keyword_count must not be negative")
	}
	providers, err := parseProviders(req.Providers)
	if err != nil {
		return err
	}

	avail, err := ctl.backend.Estimate(c.UserContext(), req.KeywordCount, providers)
	if err != nil {
		return ctl.translate(err)
	}
	return c.JSON(avail)
}

func (ctl *Controller) Providers(c *fiber.Ctx) error {
	statuses, err := ctl.backend.Providers(c.UserContext())
	if err != nil {
		return ctl.translate(err)
	}
	return c.JSON(fiber.Map{"providers": statuses})
}

func (ctl *Controller) ResetBreaker(c *fiber.Ctx) error {
	if err := ctl.backend.ResetBreaker(c.Params("name")); err != nil {
		return ctl.translate(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ctl *Controller) SetBalance(c *fiber.Ctx) error {
	var req BalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Balance < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "balance must not be negative")
	}
	if err := ctl.backend.SetBalance(c.UserContext(), c.Params("name"), req.Balance); err != nil {
		return ctl.translate(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ctl *Controller) Health(c *fiber.Ctx) error {
	status := StatusResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := ctl.backend.Health(c.UserContext()); err != nil {
		ctl.log.WithError(err).Warn("Health check failed")
		status.Status = "unavailable"
		status.Error = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

func parseProviders(names []string) ([]keyword.Provider, error) {
	providers := make([]keyword.Provider, 0, len(names))
	for _, name := range names {
		p, ok := keyword.ParseProvider(name)
		if !ok {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown provider "+name)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// translate maps domain errors onto HTTP errors
func (ctl *Controller) translate(err error) error {
	switch {
	case errors.Is(err, enrichment.ErrInvalidOptions),
		errors.Is(err, enrichment.ErrUnknownProvider):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownProvider),
		errors.Is(err, quota.ErrUnknownProvider):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrBusy):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	}
	ctl.log.WithError(err).Error("Request failed")
	return err
}
