package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"keyword-enricher/pkg/keyword"
)

const vendorStatusOK = 20000

// DifficultyResponse is the task envelope returned by the difficulty/intent API
type DifficultyResponse struct {
	StatusCode    int              `json:"status_code"`
	StatusMessage string           `json:"status_message"`
	Cost          float64          `json:"cost"`
	Tasks         []DifficultyTask `json:"tasks"`
}

type DifficultyTask struct {
	ID            string  `json:"id"`
	StatusCode    int     `json:"status_code"`
	StatusMessage string  `json:"status_message"`
	Cost          float64 `json:"cost"`
	Result        []struct {
		Items []DifficultyItem `json:"items"`
	} `json:"result"`
}

type DifficultyItem struct {
	Keyword           string   `json:"keyword"`
	KeywordDifficulty *float64 `json:"keyword_difficulty"`
	SearchIntentInfo  *struct {
		MainIntent  string   `json:"main_intent"`
		Probability *float64 `json:"probability"`
	} `json:"search_intent_info"`
	KeywordInfo *struct {
		SearchVolume     *int64   `json:"search_volume"`
		CPC              *float64 `json:"cpc"`
		CompetitionLevel string   `json:"competition_level"`
		MonthlySearches  []struct {
			Year         int    `json:"year"`
			Month        int    `json:"month"`
			SearchVolume *int64 `json:"search_volume"`
		} `json:"monthly_searches"`
	} `json:"keyword_info"`
}

// DifficultyParser converts difficulty/intent task responses into records
type DifficultyParser struct{}

func NewDifficultyParser() *DifficultyParser {
	return &DifficultyParser{}
}

// ParseResponse returns records keyed by normalized keyword and the billed cost.
// A failed envelope or task yields a ProviderError carrying any billed cost.
func (p *DifficultyParser) ParseResponse(body []byte, location int, fetchedAt time.Time) (map[string]*keyword.Record, float64, error) {
	if len(body) == 0 {
		return nil, 0, malformed(keyword.ProviderDifficulty, errors.New("empty response body"))
	}

	var resp DifficultyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, malformed(keyword.ProviderDifficulty, fmt.Errorf("%w (response: %s)", err, string(body[:min(len(body), 200)])))
	}

	if resp.StatusCode != vendorStatusOK {
		return nil, 0, vendorStatusError(resp.StatusCode, resp.StatusMessage, resp.Cost)
	}
	if len(resp.Tasks) == 0 {
		return nil, 0, malformed(keyword.ProviderDifficulty, errors.New("response has no tasks"))
	}

	records := make(map[string]*keyword.Record)
	var cost float64
	var taskErr error
	for _, task := range resp.Tasks {
		cost += task.Cost
		if task.StatusCode != vendorStatusOK {
			taskErr = vendorStatusError(task.StatusCode, task.StatusMessage, task.Cost)
			continue
		}

		var items []DifficultyItem
		for _, result := range task.Result {
			items = append(items, result.Items...)
		}
		share := 0.0
		if len(items) > 0 {
			share = task.Cost / float64(len(items))
		}
		for _, item := range items {
			rec := p.toRecord(item, location, fetchedAt)
			if rec == nil {
				continue
			}
			rec.CostUnits = share
			records[rec.Keyword] = rec
		}
	}

	if len(records) == 0 && taskErr != nil {
		return nil, cost, taskErr
	}
	return records, cost, nil
}

func (p *DifficultyParser) toRecord(item DifficultyItem, location int, fetchedAt time.Time) *keyword.Record {
	key := keyword.Normalize(item.Keyword)
	if key == "" {
		return nil
	}

	rec := keyword.NewRecord(key, location)
	rec.DataSource = keyword.SourceDifficulty
	rec.Origin = keyword.SourceDifficulty
	rec.FetchedAt = fetchedAt

	if item.KeywordDifficulty != nil {
		rec.DifficultyScore = keyword.Float64(math.Max(0, math.Min(100, *item.KeywordDifficulty)))
	}
	if info := item.SearchIntentInfo; info != nil {
		if intent, ok := mapIntent(info.MainIntent); ok {
			rec.Intent = keyword.IntentPtr(intent)
			rec.IntentConfidence = 1
			if info.Probability != nil {
				rec.IntentConfidence = math.Max(0, math.Min(1, *info.Probability))
			}
		}
	}
	if info := item.KeywordInfo; info != nil {
		if info.SearchVolume != nil && *info.SearchVolume >= 0 {
			rec.SearchVolume = keyword.Int64(*info.SearchVolume)
		}
		if info.CPC != nil && *info.CPC >= 0 {
			rec.CPCMicros = keyword.Int64(int64(math.Round(*info.CPC * 1e6)))
		}
		switch strings.ToUpper(info.CompetitionLevel) {
		case "LOW":
			rec.Competition = keyword.CompetitionPtr(keyword.CompetitionLow)
		case "MEDIUM":
			rec.Competition = keyword.CompetitionPtr(keyword.CompetitionMedium)
		case "HIGH":
			rec.Competition = keyword.CompetitionPtr(keyword.CompetitionHigh)
		}
		for _, point := range info.MonthlySearches {
			if point.SearchVolume == nil || point.Month < 1 || point.Month > 12 {
				continue
			}
			rec.MonthlySeries = append(rec.MonthlySeries, keyword.MonthlyVolume{
				Year: point.Year, Month: point.Month, Volume: *point.SearchVolume,
			})
		}
		if len(rec.MonthlySeries) > 0 {
			rec.ApplyTrends()
		}
	}
	return rec
}

func mapIntent(raw string) (keyword.Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "informational":
		return keyword.IntentInformational, true
	case "navigational":
		return keyword.IntentNavigational, true
	case "commercial":
		return keyword.IntentCommercial, true
	case "transactional":
		return keyword.IntentTransactional, true
	}
	return "", false
}

// vendorStatusError maps the vendor's five-digit status codes onto the error taxonomy
func vendorStatusError(code int, message string, cost float64) error {
	kind := KindTransient
	switch {
	case code == 40202:
		kind = KindRateLimited
	case code >= 40100 && code < 40200:
		kind = KindAuth
	case code >= 40200 && code < 40300:
		kind = KindQuotaExceeded
	case code >= 40000 && code < 50000:
		kind = KindMalformed
	case code >= 50000:
		kind = KindTransient
	}
	pe := NewProviderError(keyword.ProviderDifficulty, kind, code, message)
	if cost > 0 {
		pe.Billed = true
		pe.Cost = cost
	}
	return pe
}
