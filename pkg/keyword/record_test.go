package keyword

import (
	"testing"
	"time"
)

func TestRecord_MergeFillsGapsOnly(t *testing.T) {
	a := &Record{Keyword: "shoes", SearchVolume: Int64(500), DataSource: SourceAdsMetrics}
	b := &Record{Keyword: "shoes", Intent: IntentPtr(IntentCommercial), IntentConfidence: 0.8, DataSource: SourceDifficulty}

	merged := NewRecord("shoes", 2840)
	merged.Merge(a)
	merged.Merge(b)

	if merged.SearchVolume == nil || *merged.SearchVolume != 500 {
		t.Errorf("Expected volume 500, got %v", merged.SearchVolume)
	}
	if merged.Intent == nil || *merged.Intent != IntentCommercial {
		t.Errorf("Expected commercial intent, got %v", merged.Intent)
	}
	if merged.DataSource != SourceAdsMetrics {
		t.Errorf("Expected data source %s, got %s", SourceAdsMetrics, merged.DataSource)
	}
	if len(merged.Supplemented) != 1 || merged.Supplemented[0] != SourceDifficulty {
		t.Errorf("Expected supplemented by difficulty, got %v", merged.Supplemented)
	}
}

func TestRecord_MergeKeepsEarlierValue(t *testing.T) {
	merged := NewRecord("shoes", 2840)
	merged.Merge(&Record{SearchVolume: Int64(500), DataSource: SourceAdsMetrics})
	filled := merged.Merge(&Record{SearchVolume: Int64(900), DataSource: SourceDifficulty})

	if filled != 0 {
		t.Errorf("Expected nothing filled, got %b", filled)
	}
	if *merged.SearchVolume != 500 {
		t.Errorf("Expected earlier volume to win, got %d", *merged.SearchVolume)
	}
}

func TestRecord_MergeCachedKeepsOrigin(t *testing.T) {
	merged := NewRecord("shoes", 2840)
	merged.Merge(&Record{SearchVolume: Int64(10), DataSource: SourceCached, Origin: SourceAdsMetrics})

	if merged.DataSource != SourceCached {
		t.Errorf("Expected cached data source, got %s", merged.DataSource)
	}
	if merged.Origin != SourceAdsMetrics {
		t.Errorf("Expected origin %s, got %s", SourceAdsMetrics, merged.Origin)
	}
}

func TestRecord_FinalizeWithoutVolume(t *testing.T) {
	r := NewRecord("shoes", 2840)
	r.Merge(&Record{Intent: IntentPtr(IntentCommercial), DataSource: SourceSERP})
	r.Finalize()

	if r.DataSource != SourceUnavailable {
		t.Errorf("Expected unavailable, got %s", r.DataSource)
	}
	if r.OpportunityScore != nil {
		t.Errorf("Expected no opportunity score, got %d", *r.OpportunityScore)
	}
	if r.Intent == nil {
		t.Error("Expected supplemental intent to be kept")
	}
}

func TestRecord_FinalizeComputesDerivedFields(t *testing.T) {
	r := &Record{
		Keyword:       "shoes",
		SearchVolume:  Int64(1000),
		Competition:   CompetitionPtr(CompetitionLow),
		MonthlySeries: series(50, 50, 50, 100),
		DataSource:    SourceAdsMetrics,
		FetchedAt:     time.Now(),
	}
	r.Finalize()

	if r.OpportunityScore == nil {
		t.Fatal("Expected opportunity score")
	}
	if r.ThreeMonthChangePct == nil {
		t.Error("Expected three-month change to be computed")
	}
	if r.DataSource != SourceAdsMetrics {
		t.Errorf("Expected data source preserved, got %s", r.DataSource)
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	r := &Record{SearchVolume: Int64(1), MonthlySeries: series(1, 2)}
	c := r.Clone()
	*c.SearchVolume = 99
	c.MonthlySeries[0].Volume = 99

	if *r.SearchVolume != 1 || r.MonthlySeries[0].Volume != 1 {
		t.Error("Clone shares memory with the original")
	}
}

func TestRecord_Missing(t *testing.T) {
	r := &Record{SearchVolume: Int64(1)}
	missing := r.Missing(FieldSearchVolume | FieldIntent)

	if missing != FieldIntent {
		t.Errorf("Expected only intent missing, got %b", missing)
	}
}
