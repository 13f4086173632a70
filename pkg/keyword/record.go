package keyword

import (
	"time"
)

// Provider identifies an upstream metrics source
type Provider string

const (
	ProviderAdsMetrics Provider = "ads_metrics"
	ProviderDifficulty Provider = "difficulty"
	ProviderSERP       Provider = "serp"
)

// DefaultPriority is the fallback order used when a caller does not pass one
var DefaultPriority = []Provider{ProviderAdsMetrics, ProviderDifficulty, ProviderSERP}

// ParseProvider maps a configured name onto a known provider
func ParseProvider(name string) (Provider, bool) {
	switch Provider(name) {
	case ProviderAdsMetrics, ProviderDifficulty, ProviderSERP:
		return Provider(name), true
	}
	return "", false
}

// DataSource records where a record's metrics came from
type DataSource string

const (
	SourceAdsMetrics  DataSource = DataSource(ProviderAdsMetrics)
	SourceDifficulty  DataSource = DataSource(ProviderDifficulty)
	SourceSERP        DataSource = DataSource(ProviderSERP)
	SourceCached      DataSource = "cached"
	SourceUnavailable DataSource = "unavailable"
)

// CompetitionLevel is the canonical ads competition bucket
type CompetitionLevel string

const (
	CompetitionLow    CompetitionLevel = "LOW"
	CompetitionMedium CompetitionLevel = "MEDIUM"
	CompetitionHigh   CompetitionLevel = "HIGH"
)

// Intent is the canonical search intent classification
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentNavigational  Intent = "navigational"
	IntentCommercial    Intent = "commercial"
	IntentTransactional Intent = "transactional"
)

// MonthlyVolume is one point of a monthly search volume series
type MonthlyVolume struct {
	Year   int   `json:"year"`
	Month  int   `json:"month"`
	Volume int64 `json:"volume"`
}

// Field is a bit identifying one nullable metric of a Record
type Field uint16

const (
	FieldSearchVolume Field = 1 << iota
	FieldCPC
	FieldCompetition
	FieldDifficulty
	FieldOrganicCTR
	FieldIntent
	FieldMonthlySeries
)

// Has reports whether every bit of f is in the set
func (s Field) Has(f Field) bool {
	return s&f == f
}

// Record is the normalized metrics result for one (keyword, location, provider) tuple.
// Nil pointer fields mean the metric is unknown.
type Record struct {
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`

	SearchVolume     *int64            `json:"search_volume"`
	CPCMicros        *int64            `json:"cpc_micros"`
	Competition      *CompetitionLevel `json:"competition"`
	DifficultyScore  *float64          `json:"difficulty_score"`
	OrganicCTR       *float64          `json:"organic_ctr"`
	Intent           *Intent           `json:"intent"`
	IntentConfidence float64           `json:"intent_confidence"`

	MonthlySeries         []MonthlyVolume `json:"monthly_series,omitempty"`
	ThreeMonthChangePct   *float64        `json:"three_month_change_pct"`
	YearOverYearChangePct *float64        `json:"year_over_year_change_pct"`

	OpportunityScore *int `json:"opportunity_score"`

	// DataSource is "cached" for cache hits; Origin keeps the provider that produced the volume
	DataSource   DataSource   `json:"data_source"`
	Origin       DataSource   `json:"origin,omitempty"`
	Supplemented []DataSource `json:"supplemented_by,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
	CostUnits float64   `json:"cost_units"`

	// CacheAgeDays is computed when a record is read from cache and never persisted
	CacheAgeDays *float64 `json:"cache_age_days,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewRecord creates an empty record for a keyword
func NewRecord(kw string, location int) *Record {
	return &Record{Keyword: kw, LocationCode: location}
}

// NewUnavailable creates a null-metrics record carrying a diagnostic message
func NewUnavailable(kw string, location int, reason string) *Record {
	return &Record{
		Keyword:      kw,
		LocationCode: location,
		DataSource:   SourceUnavailable,
		Error:        reason,
	}
}

// Present returns the set of non-null metric fields
func (r *Record) Present() Field {
	var s Field
	if r.SearchVolume != nil {
		s |= FieldSearchVolume
	}
	if r.CPCMicros != nil {
		s |= FieldCPC
	}
	if r.Competition != nil {
		s |= FieldCompetition
	}
	if r.DifficultyScore != nil {
		s |= FieldDifficulty
	}
	if r.OrganicCTR != nil {
		s |= FieldOrganicCTR
	}
	if r.Intent != nil {
		s |= FieldIntent
	}
	if len(r.MonthlySeries) > 0 {
		s |= FieldMonthlySeries
	}
	return s
}

// Missing returns the fields of want that are still null
func (r *Record) Missing(want Field) Field {
	return want &^ r.Present()
}

// HasVolume reports whether search volume is known
func (r *Record) HasVolume() bool {
	return r.SearchVolume != nil
}

// Merge fills null fields of r from other. Non-null fields of r are never replaced,
// so the earlier source keeps precedence. It returns the fields that were filled.
func (r *Record) Merge(other *Record) Field {
	if other == nil {
		return 0
	}
	var filled Field
	if r.SearchVolume == nil && other.SearchVolume != nil {
		v := *other.SearchVolume
		r.SearchVolume = &v
		filled |= FieldSearchVolume
	}
	if r.CPCMicros == nil && other.CPCMicros != nil {
		v := *other.CPCMicros
		r.CPCMicros = &v
		filled |= FieldCPC
	}
	if r.Competition == nil && other.Competition != nil {
		v := *other.Competition
		r.Competition = &v
		filled |= FieldCompetition
	}
	if r.DifficultyScore == nil && other.DifficultyScore != nil {
		v := *other.DifficultyScore
		r.DifficultyScore = &v
		filled |= FieldDifficulty
	}
	if r.OrganicCTR == nil && other.OrganicCTR != nil {
		v := *other.OrganicCTR
		r.OrganicCTR = &v
		filled |= FieldOrganicCTR
	}
	if r.Intent == nil && other.Intent != nil {
		v := *other.Intent
		r.Intent = &v
		r.IntentConfidence = other.IntentConfidence
		filled |= FieldIntent
	}
	if len(r.MonthlySeries) == 0 && len(other.MonthlySeries) > 0 {
		r.MonthlySeries = append([]MonthlyVolume(nil), other.MonthlySeries...)
		r.ThreeMonthChangePct = copyFloat(other.ThreeMonthChangePct)
		r.YearOverYearChangePct = copyFloat(other.YearOverYearChangePct)
		filled |= FieldMonthlySeries
	}
	if filled == 0 {
		return 0
	}

	source := other.DataSource
	if source == SourceCached && other.Origin != "" {
		source = other.Origin
	}
	if filled.Has(FieldSearchVolume) {
		r.DataSource = other.DataSource
		r.Origin = source
		r.FetchedAt = other.FetchedAt
		r.CacheAgeDays = copyFloat(other.CacheAgeDays)
	} else if source != "" {
		r.Supplemented = appendSource(r.Supplemented, source)
	}
	r.CostUnits += other.CostUnits
	return filled
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.SearchVolume = copyInt(r.SearchVolume)
	c.CPCMicros = copyInt(r.CPCMicros)
	if r.Competition != nil {
		v := *r.Competition
		c.Competition = &v
	}
	c.DifficultyScore = copyFloat(r.DifficultyScore)
	c.OrganicCTR = copyFloat(r.OrganicCTR)
	if r.Intent != nil {
		v := *r.Intent
		c.Intent = &v
	}
	c.MonthlySeries = append([]MonthlyVolume(nil), r.MonthlySeries...)
	c.ThreeMonthChangePct = copyFloat(r.ThreeMonthChangePct)
	c.YearOverYearChangePct = copyFloat(r.YearOverYearChangePct)
	if r.OpportunityScore != nil {
		v := *r.OpportunityScore
		c.OpportunityScore = &v
	}
	c.Supplemented = append([]DataSource(nil), r.Supplemented...)
	c.CacheAgeDays = copyFloat(r.CacheAgeDays)
	return &c
}

// Finalize enforces the volume/unavailable invariant and computes derived fields
func (r *Record) Finalize() {
	if len(r.MonthlySeries) > 0 && r.ThreeMonthChangePct == nil && r.YearOverYearChangePct == nil {
		r.ApplyTrends()
	}
	if !r.HasVolume() {
		r.DataSource = SourceUnavailable
		r.OpportunityScore = nil
		return
	}
	if r.DataSource == SourceUnavailable || r.DataSource == "" {
		r.DataSource = r.Origin
	}
	r.Error = ""
	r.OpportunityScore = OpportunityScore(r)
}

// ApplyTrends sorts the series and fills the trend deltas
func (r *Record) ApplyTrends() {
	r.MonthlySeries = SortSeries(r.MonthlySeries)
	r.ThreeMonthChangePct = ThreeMonthChange(r.MonthlySeries)
	r.YearOverYearChangePct = YearOverYearChange(r.MonthlySeries)
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v
func Float64(v float64) *float64 { return &v }

// IntentPtr returns a pointer to v
func IntentPtr(v Intent) *Intent { return &v }

// CompetitionPtr returns a pointer to v
func CompetitionPtr(v CompetitionLevel) *CompetitionLevel { return &v }

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func appendSource(list []DataSource, s DataSource) []DataSource {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
