package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"keyword-enricher/pkg/keyword"
)

func TestAdsMetricsClient_FetchMetrics(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("location"); got != "2840" {
			t.Errorf("Expected location 2840, got %q", got)
		}
		var data []string
		for _, kw := range strings.Split(r.URL.Query().Get("keyword"), ",") {
			if kw == "missing" {
				continue
			}
			data = append(data, fmt.Sprintf(`{"keyword":%q,"metrics":{"avg_monthly_searches":10,"competition":"MEDIUM"}}`, kw))
		}
		fmt.Fprintf(w, `{"status":"success","data":[%s]}`, strings.Join(data, ","))
	}))
	defer server.Close()

	client := NewAdsMetricsClient(AdsMetricsConfig{
		Endpoints:   server.URL,
		APIKey:      "secret-key",
		BatchSize:   2,
		CostPerUnit: 0.5,
	})

	results, err := client.FetchMetrics(context.Background(), []string{"alpha", "missing", "gamma"}, 2840)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if atomic.LoadInt32(&requests) != 2 {
		t.Errorf("Expected 2 batched requests, got %d", requests)
	}
	if len(results) != 3 {
		t.Fatalf("Expected one result per keyword, got %d", len(results))
	}
	if results[0].Record == nil || *results[0].Record.SearchVolume != 10 {
		t.Errorf("Expected alpha record, got %+v", results[0])
	}
	if results[1].Err == nil || results[1].Record != nil {
		t.Errorf("Expected per-keyword error for unmatched keyword, got %+v", results[1])
	}
	if results[2].Record == nil {
		t.Errorf("Expected gamma record, got %+v", results[2])
	}
	if results[0].Record.CostUnits != 0.5 || results[2].Record.CostUnits != 0.5 {
		t.Errorf("Expected every matched keyword to cost 0.5, got %v and %v", results[0].Record.CostUnits, results[2].Record.CostUnits)
	}
	if !errors.Is(results[1].Err, ErrNoData) {
		t.Errorf("Expected ErrNoData for unmatched keyword, got %v", results[1].Err)
	}
}

func TestAdsMetricsClient_PartialBatchFailure(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		kw := strings.Split(r.URL.Query().Get("keyword"), ",")[0]
		fmt.Fprintf(w, `{"status":"success","data":[{"keyword":%q,"metrics":{"avg_monthly_searches":5}}]}`, kw)
	}))
	defer server.Close()

	client := NewAdsMetricsClient(AdsMetricsConfig{Endpoints: server.URL, BatchSize: 1})
	results, err := client.FetchMetrics(context.Background(), []string{"one", "two", "three"}, 0)
	if err != nil {
		t.Fatalf("Expected partial success without error, got %v", err)
	}
	if results[0].Record == nil || results[2].Record == nil {
		t.Error("Expected sibling batches to keep their results")
	}
	if KindOf(results[1].Err) != KindTransient {
		t.Errorf("Expected transient error for failed batch, got %v", results[1].Err)
	}
}

func TestAdsMetricsClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewAdsMetricsClient(AdsMetricsConfig{Endpoints: server.URL})
	_, err := client.FetchMetrics(context.Background(), []string{"a", "b"}, 0)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if pe.Kind != KindRateLimited || pe.RetryAfter != 5*time.Second {
		t.Errorf("Expected rate limit with 5s reset, got %+v", pe)
	}
	if c := Classify(err); !c.Retryable || !c.QuotaExceeded {
		t.Errorf("Expected retryable quota signal, got %+v", c)
	}
}

func TestAdsMetricsClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusPaymentRequired, KindQuotaExceeded},
		{http.StatusBadRequest, KindMalformed},
		{http.StatusServiceUnavailable, KindTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewAdsMetricsClient(AdsMetricsConfig{Endpoints: server.URL})
			_, err := client.FetchMetrics(context.Background(), []string{"a"}, 0)
			if KindOf(err) != tt.kind {
				t.Errorf("Expected kind %s, got %s (%v)", tt.kind, KindOf(err), err)
			}
		})
	}
}

func TestDifficultyClient_FetchMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "login" || pass != "pw" {
			t.Errorf("Expected basic auth, got %q/%q", user, pass)
		}
		var tasks []difficultyTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
			t.Errorf("Expected one task, got %v (%v)", tasks, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if tasks[0].LocationCode != 2826 {
			t.Errorf("Expected location 2826, got %d", tasks[0].LocationCode)
		}
		var items []string
		for _, kw := range tasks[0].Keywords {
			items = append(items, fmt.Sprintf(`{"keyword":%q,"keyword_difficulty":40,"search_intent_info":{"main_intent":"transactional","probability":0.9}}`, kw))
		}
		fmt.Fprintf(w, `{"status_code":20000,"tasks":[{"status_code":20000,"cost":0.04,"result":[{"items":[%s]}]}]}`, strings.Join(items, ","))
	}))
	defer server.Close()

	client := NewDifficultyClient(DifficultyConfig{Endpoint: server.URL, Login: "login", Password: "pw"})
	results, err := client.FetchMetrics(context.Background(), []string{"buy shoes", "shoe sale"}, 2826)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, res := range results {
		if res.Record == nil {
			t.Fatalf("Expected record for %s, got %v", res.Keyword, res.Err)
		}
		if *res.Record.DifficultyScore != 40 || *res.Record.Intent != keyword.IntentTransactional {
			t.Errorf("Unexpected record %+v", res.Record)
		}
		if res.Record.CostUnits != 0.02 {
			t.Errorf("Expected cost share 0.02, got %v", res.Record.CostUnits)
		}
	}
}

func TestSERPClient_StopsOnQuotaExhaustion(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "k" {
			t.Errorf("Expected api_key param")
		}
		if atomic.AddInt32(&requests, 1) == 1 {
			fmt.Fprint(w, `{"organic_results":[{"position":1,"link":"https://example.com"}]}`)
			return
		}
		fmt.Fprint(w, `{"error":"Your account has run out of searches."}`)
	}))
	defer server.Close()

	client := NewSERPClient(SERPConfig{Endpoint: server.URL, APIKey: "k", CostPerUnit: 0.01})
	results, err := client.FetchMetrics(context.Background(), []string{"first", "second", "third", "fourth"}, 0)
	if err != nil {
		t.Fatalf("Expected no batch error after a success, got %v", err)
	}
	if atomic.LoadInt32(&requests) != 2 {
		t.Errorf("Expected requests to stop after quota exhaustion, got %d", requests)
	}
	if results[0].Record == nil || results[0].Record.CostUnits != 0.01 {
		t.Errorf("Expected first keyword record, got %+v", results[0])
	}
	for _, res := range results[1:] {
		if !IsQuotaExceeded(res.Err) {
			t.Errorf("Expected quota error for %s, got %v", res.Keyword, res.Err)
		}
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		size     int
		want     int
	}{
		{"empty", nil, 5, 0},
		{"exact", []string{"a", "b"}, 2, 1},
		{"remainder", []string{"a", "b", "c"}, 2, 2},
		{"non-positive size", []string{"a", "b"}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(Chunk(tt.keywords, tt.size)); got != tt.want {
				t.Errorf("Chunk() produced %d batches, want %d", got, tt.want)
			}
		})
	}
}

func TestFetchInBatches(t *testing.T) {
	calls := 0
	results, err := fetchInBatches(context.Background(), []string{"a", "b", "c"}, 2, func(ctx context.Context, batch []string) ([]Result, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Error("Expected error when every batch fails")
	}
	if calls != 2 || len(results) != 3 {
		t.Errorf("Expected 2 calls and 3 results, got %d and %d", calls, len(results))
	}

	if _, err := fetchInBatches(context.Background(), nil, 2, nil); !errors.Is(err, ErrNoKeywords) {
		t.Errorf("Expected ErrNoKeywords, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-1", 0},
		{"Mon, 01 Jan 2024 00:01:00 GMT", time.Minute},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter([]byte(tt.value), now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
