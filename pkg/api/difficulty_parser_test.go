package api

import (
	"testing"

	"keyword-enricher/pkg/keyword"
)

func TestDifficultyParser_ParseResponse_Success(t *testing.T) {
	body := `{
		"status_code": 20000,
		"status_message": "Ok.",
		"cost": 0.02,
		"tasks": [{
			"id": "t1",
			"status_code": 20000,
			"status_message": "Ok.",
			"cost": 0.02,
			"result": [{
				"items": [
					{
						"keyword": "crm software",
						"keyword_difficulty": 67,
						"search_intent_info": {"main_intent": "commercial", "probability": 0.82},
						"keyword_info": {
							"search_volume": 5400,
							"cpc": 12.5,
							"competition_level": "HIGH",
							"monthly_searches": [
								{"year": 2024, "month": 3, "search_volume": 100},
								{"year": 2024, "month": 1, "search_volume": 50},
								{"year": 2024, "month": 2, "search_volume": 50},
								{"year": 2023, "month": 12, "search_volume": 50}
							]
						}
					},
					{
						"keyword": "what is crm",
						"keyword_difficulty": 130,
						"search_intent_info": {"main_intent": "informational"}
					}
				]
			}]
		}]
	}`

	records, cost, err := NewDifficultyParser().ParseResponse([]byte(body), 2840, fetchedAt)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cost != 0.02 {
		t.Errorf("Expected cost 0.02, got %v", cost)
	}

	crm := records["crm software"]
	if crm == nil {
		t.Fatal("Expected crm software record")
	}
	if crm.DifficultyScore == nil || *crm.DifficultyScore != 67 {
		t.Errorf("Expected difficulty 67, got %v", crm.DifficultyScore)
	}
	if crm.Intent == nil || *crm.Intent != keyword.IntentCommercial || crm.IntentConfidence != 0.82 {
		t.Errorf("Expected commercial intent at 0.82, got %v / %v", crm.Intent, crm.IntentConfidence)
	}
	if crm.CPCMicros == nil || *crm.CPCMicros != 12500000 {
		t.Errorf("Expected CPC 12500000 micros, got %v", crm.CPCMicros)
	}
	if crm.ThreeMonthChangePct == nil || *crm.ThreeMonthChangePct != 100 {
		t.Errorf("Expected 3-month change 100, got %v", crm.ThreeMonthChangePct)
	}
	if crm.CostUnits != 0.01 {
		t.Errorf("Expected cost split across items, got %v", crm.CostUnits)
	}

	info := records["what is crm"]
	if info.DifficultyScore == nil || *info.DifficultyScore != 100 {
		t.Errorf("Expected difficulty clamped to 100, got %v", info.DifficultyScore)
	}
	if info.IntentConfidence != 1 {
		t.Errorf("Expected default confidence 1, got %v", info.IntentConfidence)
	}
	if info.SearchVolume != nil {
		t.Errorf("Expected nil volume, got %v", *info.SearchVolume)
	}
}

func TestDifficultyParser_VendorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   ErrorKind
		billed bool
	}{
		{"auth", `{"status_code":40100,"status_message":"You are not authorized"}`, KindAuth, false},
		{"balance", `{"status_code":40210,"status_message":"Insufficient funds"}`, KindQuotaExceeded, false},
		{"rate limit", `{"status_code":40202,"status_message":"Rate limit"}`, KindRateLimited, false},
		{"server", `{"status_code":50000,"status_message":"Internal error"}`, KindTransient, false},
		{"task failed and billed", `{"status_code":20000,"tasks":[{"status_code":40501,"status_message":"Invalid field","cost":0.01}]}`, KindMalformed, true},
		{"no tasks", `{"status_code":20000,"tasks":[]}`, KindMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewDifficultyParser().ParseResponse([]byte(tt.body), 0, fetchedAt)
			if err == nil {
				t.Fatal("Expected error")
			}
			if KindOf(err) != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, KindOf(err))
			}
			if _, billed := BilledCost(err); billed != tt.billed {
				t.Errorf("Expected billed=%v, got %v", tt.billed, billed)
			}
		})
	}
}
