package api

import (
	"testing"

	"keyword-enricher/pkg/keyword"
)

func TestSERPParser_CTRAndIntent(t *testing.T) {
	tests := []struct {
		name       string
		kw         string
		body       string
		ctr        *float64
		intent     keyword.Intent
		confidence float64
	}{
		{
			name:       "plain organic page",
			kw:         "history of rome",
			body:       `{"search_metadata":{"status":"Success"},"organic_results":[{"position":1,"link":"https://en.wikipedia.org/wiki/Rome"}]}`,
			ctr:        keyword.Float64(0.28),
			intent:     keyword.IntentInformational,
			confidence: 0.3,
		},
		{
			name:       "shopping page",
			kw:         "running shoes",
			body:       `{"organic_results":[{"position":1,"link":"https://shop.example.com"}],"ads":[{},{},{},{}],"shopping_results":[{}]}`,
			ctr:        keyword.Float64(0.1),
			intent:     keyword.IntentTransactional,
			confidence: 0.6,
		},
		{
			name:       "answer box",
			kw:         "how to tie a tie",
			body:       `{"organic_results":[{"position":1,"link":"https://example.com"}],"answer_box":{"answer":"..."},"related_questions":[{}]}`,
			ctr:        keyword.Float64(0.17),
			intent:     keyword.IntentInformational,
			confidence: 0.5,
		},
		{
			name:       "brand navigation",
			kw:         "acme corp",
			body:       `{"organic_results":[{"position":1,"link":"https://www.acmecorp.com/home"}]}`,
			ctr:        keyword.Float64(0.28),
			intent:     keyword.IntentNavigational,
			confidence: 0.5,
		},
		{
			name:       "comparison",
			kw:         "best crm",
			body:       `{"organic_results":[],"local_results":{"places":[{}]}}`,
			ctr:        nil,
			intent:     keyword.IntentCommercial,
			confidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewSERPParser().ParseResponse([]byte(tt.body), tt.kw, 2840, fetchedAt)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if (tt.ctr == nil) != (rec.OrganicCTR == nil) {
				t.Fatalf("Expected CTR %v, got %v", tt.ctr, rec.OrganicCTR)
			}
			if tt.ctr != nil && *rec.OrganicCTR != *tt.ctr {
				t.Errorf("Expected CTR %v, got %v", *tt.ctr, *rec.OrganicCTR)
			}
			if rec.Intent == nil || *rec.Intent != tt.intent {
				t.Errorf("Expected intent %s, got %v", tt.intent, rec.Intent)
			}
			if rec.IntentConfidence != tt.confidence {
				t.Errorf("Expected confidence %v, got %v", tt.confidence, rec.IntentConfidence)
			}
			if rec.SearchVolume != nil {
				t.Error("Expected SERP records to carry no volume")
			}
		})
	}
}

func TestSERPParser_CTRFloor(t *testing.T) {
	body := `{"organic_results":[{"position":1}],"ads":[{},{},{},{}],"shopping_results":[{}],"answer_box":{"a":1},"related_questions":[{}],"local_results":{"p":1}}`
	rec, err := NewSERPParser().ParseResponse([]byte(body), "pizza", 0, fetchedAt)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rec.OrganicCTR == nil || *rec.OrganicCTR != 0.02 {
		t.Errorf("Expected CTR floor 0.02, got %v", rec.OrganicCTR)
	}
}

func TestSERPParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind ErrorKind
	}{
		{"out of searches", `{"error":"Your account has run out of searches."}`, KindQuotaExceeded},
		{"invalid key", `{"error":"Invalid API key."}`, KindAuth},
		{"failed search", `{"search_metadata":{"status":"Error"}}`, KindTransient},
		{"garbage", `<html>`, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSERPParser().ParseResponse([]byte(tt.body), "x", 0, fetchedAt)
			if KindOf(err) != tt.kind {
				t.Errorf("Expected kind %s, got %s (%v)", tt.kind, KindOf(err), err)
			}
		})
	}
}
