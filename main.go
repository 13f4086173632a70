package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"keyword-enricher/internal/config"
	"keyword-enricher/internal/service"
	"keyword-enricher/pkg/enrichment"
	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns environment variable as int or default
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns environment variable as bool or default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "keyword-enricher: panic recovered: %v\n", r)
			os.Exit(1)
		}
	}()

	_ = godotenv.Load()

	var (
		keywords     = flag.String("keywords", getEnvOrDefault("KEYWORDS", ""), "Comma-separated keywords (env: KEYWORDS)")
		location     = flag.Int("location", getEnvIntOrDefault("LOCATION_CODE", 0), "Location code, 0 uses the configured default (env: LOCATION_CODE)")
		providers    = flag.String("providers", getEnvOrDefault("PROVIDERS", ""), "Comma-separated provider priority (env: PROVIDERS)")
		configPath   = flag.String("config", getEnvOrDefault("KWENRICH_CONFIG", ""), "Configuration file path (env: KWENRICH_CONFIG)")
		forceRefresh = flag.Bool("force-refresh", getEnvBoolOrDefault("FORCE_REFRESH", false), "Skip cache reads (env: FORCE_REFRESH)")
		volumeOnly   = flag.Bool("volume-only", getEnvBoolOrDefault("VOLUME_ONLY", false), "Only fall back for keywords lacking volume (env: VOLUME_ONLY)")
		estimate     = flag.Bool("estimate", false, "Print the quota pre-flight instead of enriching")
		timeout      = flag.Duration("timeout", 0, "Overall deadline, 0 uses the configured default")
		debug        = flag.Bool("debug", getEnvBoolOrDefault("DEBUG", false), "Enable debug logging (env: DEBUG)")
	)
	flag.Parse()

	list := splitList(*keywords)
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: no keywords given. Use -keywords or the KEYWORDS environment variable.")
		flag.Usage()
		os.Exit(2)
	}

	order := make([]keyword.Provider, 0)
	for _, name := range splitList(*providers) {
		p, ok := keyword.ParseProvider(name)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: unknown provider %q\n", name)
			os.Exit(2)
		}
		order = append(order, p)
	}

	cfg, err := config.NewManager().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logger.Level = "debug"
	}
	os.Exit(run(cfg, list, order, enrichment.Options{
		Providers:    order,
		Location:     *location,
		ForceRefresh: *forceRefresh,
		VolumeOnly:   *volumeOnly,
		Timeout:      *timeout,
	}, *estimate))
}

func run(cfg *config.Config, list []string, order []keyword.Provider, opts enrichment.Options, estimate bool) int {
	// stdout carries the JSON result
	cfg.Logger.Output = "stderr"
	log := logger.Init(cfg.Logger).WithField("component", "main")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to build service")
		return 1
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to close stores cleanly")
		}
	}()

	var out interface{}
	if estimate {
		out, err = svc.Estimate(ctx, len(keyword.Dedupe(list)), order)
	} else {
		var result *enrichment.BatchResult
		result, err = svc.Enrich(ctx, list, opts)
		if result != nil {
			log.WithFields(map[string]interface{}{
				"batch_id":   result.ID,
				"keywords":   len(result.Keywords),
				"cache_hits": result.Stats.CacheHits,
				"failed":     result.Stats.Failed,
				"cost":       result.Stats.ActualCost,
			}).Info("Enrichment completed")
			out = map[string]interface{}{
				"id":            result.ID,
				"location_code": result.Location,
				"records":       result.Ordered(),
				"stats":         result.Stats,
				"warnings":      result.Warnings,
			}
		}
	}
	if err != nil {
		log.WithError(err).Error("Request failed")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.WithError(err).Error("Failed to write result")
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
