package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"keyword-enricher/pkg/keyword"
)

// AdsMetricsResponse is the raw response of the ads metrics API
type AdsMetricsResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		Keyword string `json:"keyword"`
		Metrics struct {
			AvgMonthlySearches *int64   `json:"avg_monthly_searches"`
			Competition        string   `json:"competition"`
			CompetitionIndex   *float64 `json:"competition_index"`
			LowBidMicros       *int64   `json:"low_top_of_page_bid_micro"`
			HighBidMicros      *int64   `json:"high_top_of_page_bid_micro"`
			MonthlySearches    []struct {
				Year     flexInt `json:"year"`
				Month    flexInt `json:"month"`
				Searches *int64  `json:"searches"`
			} `json:"monthly_searches"`
		} `json:"metrics"`
	} `json:"data"`
}

// flexInt accepts a JSON number, a numeric string or an English month name
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] != '"' {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	if m, ok := monthNames[strings.ToUpper(s)]; ok {
		*f = flexInt(m)
		return nil
	}
	return fmt.Errorf("invalid numeric value %q", s)
}

var monthNames = func() map[string]int {
	m := make(map[string]int, 24)
	for i := time.January; i <= time.December; i++ {
		name := strings.ToUpper(i.String())
		m[name] = int(i)
		m[name[:3]] = int(i)
	}
	return m
}()

// AdsMetricsParser converts ads metrics responses into records
type AdsMetricsParser struct{}

func NewAdsMetricsParser() *AdsMetricsParser {
	return &AdsMetricsParser{}
}

// ParseResponse returns records keyed by normalized keyword
func (p *AdsMetricsParser) ParseResponse(body []byte, location int, fetchedAt time.Time) (map[string]*keyword.Record, error) {
	if len(body) == 0 {
		return nil, malformed(keyword.ProviderAdsMetrics, errors.New("empty response body"))
	}

	var resp AdsMetricsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed(keyword.ProviderAdsMetrics, fmt.Errorf("%w (response: %s)", err, string(body[:min(len(body), 200)])))
	}

	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "status " + resp.Status
		}
		// the API reports limits in the message text only
		return nil, NewProviderError(keyword.ProviderAdsMetrics, KindOf(errors.New(msg)), 0, msg)
	}

	records := make(map[string]*keyword.Record, len(resp.Data))
	for _, data := range resp.Data {
		key := keyword.Normalize(data.Keyword)
		if key == "" {
			continue
		}

		rec := keyword.NewRecord(key, location)
		rec.DataSource = keyword.SourceAdsMetrics
		rec.Origin = keyword.SourceAdsMetrics
		rec.FetchedAt = fetchedAt

		m := data.Metrics
		if m.AvgMonthlySearches != nil && *m.AvgMonthlySearches >= 0 {
			rec.SearchVolume = keyword.Int64(*m.AvgMonthlySearches)
		}
		rec.Competition = p.mapCompetition(m.Competition, m.CompetitionIndex)
		rec.CPCMicros = bidMidpoint(m.LowBidMicros, m.HighBidMicros)

		for _, point := range m.MonthlySearches {
			if point.Searches == nil || point.Year <= 0 || point.Month < 1 || point.Month > 12 {
				continue
			}
			rec.MonthlySeries = append(rec.MonthlySeries, keyword.MonthlyVolume{
				Year:   int(point.Year),
				Month:  int(point.Month),
				Volume: *point.Searches,
			})
		}
		if len(rec.MonthlySeries) > 0 {
			rec.ApplyTrends()
		}

		records[key] = rec
	}
	return records, nil
}

// mapCompetition maps the ads competition enum, falling back to the 0-100 index
func (p *AdsMetricsParser) mapCompetition(level string, index *float64) *keyword.CompetitionLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "LOW":
		return keyword.CompetitionPtr(keyword.CompetitionLow)
	case "MEDIUM":
		return keyword.CompetitionPtr(keyword.CompetitionMedium)
	case "HIGH":
		return keyword.CompetitionPtr(keyword.CompetitionHigh)
	}
	if index == nil {
		return nil
	}
	switch {
	case *index < 34:
		return keyword.CompetitionPtr(keyword.CompetitionLow)
	case *index < 67:
		return keyword.CompetitionPtr(keyword.CompetitionMedium)
	default:
		return keyword.CompetitionPtr(keyword.CompetitionHigh)
	}
}

func bidMidpoint(low, high *int64) *int64 {
	switch {
	case low != nil && high != nil:
		return keyword.Int64((*low + *high) / 2)
	case low != nil:
		return keyword.Int64(*low)
	case high != nil:
		return keyword.Int64(*high)
	}
	return nil
}
