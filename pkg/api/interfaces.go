package api

import (
	"context"
	"fmt"

	"keyword-enricher/pkg/keyword"
)

// Result is one keyword's outcome from a provider call. Exactly one of Record and Err is set.
type Result struct {
	Keyword string
	Record  *keyword.Record
	Err     error
}

// MetricsProvider is a provider adapter. FetchMetrics returns one Result per input
// keyword and only returns an error when nothing could be obtained for the batch.
type MetricsProvider interface {
	Name() keyword.Provider
	FetchMetrics(ctx context.Context, keywords []string, location int) ([]Result, error)
	CostPerUnit() float64
	BatchSize() int
	// Fields reports the record fields the provider can supply
	Fields() keyword.Field
}

// Chunk splits keywords into slices of at most size elements. A non-positive
// size keeps them in one slice.
func Chunk(keywords []string, size int) [][]string {
	if size <= 0 {
		size = len(keywords)
	}
	if len(keywords) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(keywords)+size-1)/size)
	for start := 0; start < len(keywords); start += size {
		end := start + size
		if end > len(keywords) {
			end = len(keywords)
		}
		out = append(out, keywords[start:end])
	}
	return out
}

// fetchInBatches calls fetch once per batch. A failed batch marks its keywords with the
// batch error without losing the results of sibling batches; the returned error is
// non-nil only when every batch failed.
func fetchInBatches(ctx context.Context, keywords []string, size int, fetch func(ctx context.Context, batch []string) ([]Result, error)) ([]Result, error) {
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	results := make([]Result, 0, len(keywords))
	var lastErr error
	succeeded := 0

	for _, batch := range Chunk(keywords, size) {
		// once the provider is exhausted the remaining batches share the same error
		if lastErr != nil && (ctx.Err() != nil || defaultClassifier.ShouldStopProvider(lastErr)) {
			for _, kw := range batch {
				results = append(results, Result{Keyword: kw, Err: lastErr})
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			for _, kw := range batch {
				results = append(results, Result{Keyword: kw, Err: err})
			}
			continue
		}
		batchResults, err := fetch(ctx, batch)
		if err != nil {
			lastErr = err
			for _, kw := range batch {
				results = append(results, Result{Keyword: kw, Err: err})
			}
			continue
		}
		succeeded++
		results = append(results, batchResults...)
	}

	if succeeded == 0 {
		return results, lastErr
	}
	return results, nil
}

// matchResults lines up parsed records with the requested keywords. Requested
// keywords absent from the response get a per-keyword error.
func matchResults(provider keyword.Provider, requested []string, records map[string]*keyword.Record) []Result {
	results := make([]Result, 0, len(requested))
	for _, kw := range requested {
		if rec, ok := records[keyword.Normalize(kw)]; ok {
			rec.Keyword = kw
			results = append(results, Result{Keyword: kw, Record: rec})
			continue
		}
		results = append(results, Result{
			Keyword: kw,
			Err:     fmt.Errorf("%s: %w for keyword %q", provider, ErrNoData, kw),
		})
	}
	return results
}
