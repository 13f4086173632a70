package quota

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"keyword-enricher/pkg/keyword"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestTracker(policies ...Policy) (*Tracker, *MemoryStore) {
	store := NewMemoryStore()
	tr := NewTracker(store, 0.8, policies...)
	tr.SetClock(func() time.Time { return testNow })
	return tr, store
}

func windowPolicy(limit int64) Policy {
	return Policy{
		Provider:   keyword.ProviderAdsMetrics,
		Model:      ModelWindow,
		Unit:       UnitKeyword,
		UnitsLimit: limit,
	}
}

func balancePolicy(balance float64) Policy {
	return Policy{
		Provider:               keyword.ProviderDifficulty,
		Model:                  ModelBalance,
		Unit:                   UnitKeyword,
		StartingBalance:        balance,
		CostPerUnit:            0.01,
		CostPerKeywordEstimate: 0.02,
	}
}

func TestTracker_WindowBlocksWhenCapWouldBeExceeded(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(100))
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, keyword.ProviderAdsMetrics, 90, 0); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	avail, err := tr.CheckAvailability(ctx, 11, []keyword.Provider{keyword.ProviderAdsMetrics})
	if err != nil {
		t.Fatalf("CheckAvailability failed: %v", err)
	}
	if avail.CanProceed {
		t.Error("Expected request beyond the cap to be blocked")
	}
	v := avail.Providers[keyword.ProviderAdsMetrics]
	if v.CanProceed || v.RemainingUnits != 10 || v.Reason == "" {
		t.Errorf("Unexpected verdict %+v", v)
	}

	avail, _ = tr.CheckAvailability(ctx, 10, []keyword.Provider{keyword.ProviderAdsMetrics})
	if !avail.CanProceed {
		t.Error("Expected request that exactly fits to proceed")
	}
	if len(avail.Warnings) != 1 || !strings.Contains(avail.Warnings[0], "100%") {
		t.Errorf("Expected utilization warning, got %v", avail.Warnings)
	}
}

func TestTracker_PreflightDoesNotChangeCounters(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(100))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.CheckAvailability(ctx, 50, []keyword.Provider{keyword.ProviderAdsMetrics}); err != nil {
			t.Fatal(err)
		}
	}
	u, err := tr.Usage(ctx, keyword.ProviderAdsMetrics)
	if err != nil {
		t.Fatal(err)
	}
	if u.UnitsUsed != 0 {
		t.Errorf("Expected no usage from pre-flight, got %d", u.UnitsUsed)
	}
}

func TestTracker_WarningThreshold(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(100))
	ctx := context.Background()

	avail, _ := tr.CheckAvailability(ctx, 79, []keyword.Provider{keyword.ProviderAdsMetrics})
	if len(avail.Warnings) != 0 {
		t.Errorf("Expected no warning below threshold, got %v", avail.Warnings)
	}
	avail, _ = tr.CheckAvailability(ctx, 80, []keyword.Provider{keyword.ProviderAdsMetrics})
	if !avail.CanProceed || len(avail.Warnings) != 1 {
		t.Errorf("Expected a non-blocking warning at threshold, got %+v", avail)
	}
}

func TestTracker_UnlimitedWindow(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(0))
	avail, _ := tr.CheckAvailability(context.Background(), 1_000_000, []keyword.Provider{keyword.ProviderAdsMetrics})
	if !avail.CanProceed || avail.Providers[keyword.ProviderAdsMetrics].RemainingUnits != -1 {
		t.Errorf("Expected unlimited provider to proceed, got %+v", avail)
	}
}

func TestTracker_RequestUnits(t *testing.T) {
	p := windowPolicy(3)
	p.Unit = UnitRequest
	p.BatchSize = 20
	tr, _ := newTestTracker(p)

	if got := tr.Units(keyword.ProviderAdsMetrics, 41); got != 3 {
		t.Errorf("Expected 3 requests for 41 keywords, got %d", got)
	}
	avail, _ := tr.CheckAvailability(context.Background(), 60, []keyword.Provider{keyword.ProviderAdsMetrics})
	if !avail.CanProceed {
		t.Error("Expected 60 keywords in 3 requests to fit")
	}
	avail, _ = tr.CheckAvailability(context.Background(), 61, []keyword.Provider{keyword.ProviderAdsMetrics})
	if avail.CanProceed {
		t.Error("Expected 61 keywords in 4 requests to be blocked")
	}
}

func TestTracker_BalanceModel(t *testing.T) {
	tr, _ := newTestTracker(balancePolicy(1.0))
	ctx := context.Background()
	providers := []keyword.Provider{keyword.ProviderDifficulty}

	avail, err := tr.CheckAvailability(ctx, 50, providers)
	if err != nil {
		t.Fatal(err)
	}
	v := avail.Providers[keyword.ProviderDifficulty]
	if !v.CanProceed || v.EstimatedCost != 0.5 || avail.EstimatedCost != 0.5 {
		t.Errorf("Unexpected verdict %+v", v)
	}
	if v.RemainingKeywords != 50 {
		t.Errorf("Expected 50 remaining keywords at 0.02 each, got %d", v.RemainingKeywords)
	}

	if err := tr.RecordUsage(ctx, keyword.ProviderDifficulty, 50, 0.75); err != nil {
		t.Fatal(err)
	}
	u, _ := tr.Usage(ctx, keyword.ProviderDifficulty)
	if u.Balance != 0.25 || u.CostUsed != 0.75 {
		t.Errorf("Expected balance 0.25 after drawing 0.75, got %+v", u)
	}

	avail, _ = tr.CheckAvailability(ctx, 30, providers)
	if avail.CanProceed {
		t.Error("Expected estimated cost above balance to block")
	}

	if err := tr.SetBalance(ctx, keyword.ProviderDifficulty, 5); err != nil {
		t.Fatal(err)
	}
	avail, _ = tr.CheckAvailability(ctx, 30, providers)
	if !avail.CanProceed {
		t.Error("Expected top-up to unblock the provider")
	}
}

func TestTracker_MixedProvidersAggregate(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(10), balancePolicy(10))
	avail, err := tr.CheckAvailability(context.Background(), 20,
		[]keyword.Provider{keyword.ProviderAdsMetrics, keyword.ProviderDifficulty, keyword.ProviderSERP})
	if err != nil {
		t.Fatal(err)
	}
	if avail.CanProceed {
		t.Error("Expected aggregate to be blocked when any provider is blocked")
	}
	if !avail.Providers[keyword.ProviderDifficulty].CanProceed {
		t.Error("Expected balance provider to proceed on its own")
	}
	if !avail.Providers[keyword.ProviderSERP].CanProceed {
		t.Error("Expected provider without policy to be unbounded")
	}
}

func TestTracker_RollOver(t *testing.T) {
	tr, store := newTestTracker(windowPolicy(100), balancePolicy(2))
	ctx := context.Background()

	_ = tr.RecordUsage(ctx, keyword.ProviderAdsMetrics, 60, 0)
	_ = tr.RecordUsage(ctx, keyword.ProviderDifficulty, 10, 0.5)

	rolled, err := tr.RollOver(ctx, testNow.AddDate(0, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(rolled) != 0 {
		t.Errorf("Expected nothing to roll inside the month, got %v", rolled)
	}

	next := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	rolled, err = tr.RollOver(ctx, next)
	if err != nil {
		t.Fatal(err)
	}
	if len(rolled) != 2 {
		t.Errorf("Expected both providers to roll, got %v", rolled)
	}

	ads, _ := store.ReadUsage(ctx, keyword.ProviderAdsMetrics)
	if ads.UnitsUsed != 0 || !ads.WindowStart.Equal(next) {
		t.Errorf("Expected reset window starting %s, got %+v", next, ads)
	}
	diff, _ := store.ReadUsage(ctx, keyword.ProviderDifficulty)
	if diff.Balance != 1.5 {
		t.Errorf("Expected balance to carry over, got %v", diff.Balance)
	}
}

func TestTracker_ExpiredWindowResetsOnRead(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(100))
	ctx := context.Background()
	_ = tr.RecordUsage(ctx, keyword.ProviderAdsMetrics, 100, 0)

	tr.SetClock(func() time.Time { return testNow.AddDate(0, 1, 0) })
	avail, _ := tr.CheckAvailability(ctx, 100, []keyword.Provider{keyword.ProviderAdsMetrics})
	if !avail.CanProceed {
		t.Error("Expected a new month to restore the full cap")
	}
}

func TestTracker_Errors(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(10))
	ctx := context.Background()

	if err := tr.SetBalance(ctx, keyword.ProviderAdsMetrics, 1); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider for window provider, got %v", err)
	}
	if _, err := tr.Usage(ctx, keyword.ProviderSERP); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
	if err := tr.RecordUsage(ctx, keyword.ProviderAdsMetrics, -1, 0); err == nil {
		t.Error("Expected negative usage to be rejected")
	}
	if err := tr.RecordUsage(ctx, keyword.ProviderSERP, 5, 1); err != nil {
		t.Errorf("Expected untracked provider to be ignored, got %v", err)
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tr, _ := newTestTracker(windowPolicy(10), balancePolicy(3))
	snap, err := tr.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 || snap[0].Provider != keyword.ProviderAdsMetrics || snap[1].Balance != 3 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

type failingStore struct{}

func (failingStore) ReadUsage(ctx context.Context, provider keyword.Provider) (*Usage, error) {
	return nil, errors.New("store down")
}

func (failingStore) WriteUsage(ctx context.Context, usage *Usage) error {
	return errors.New("store down")
}

func TestTracker_StoreErrors(t *testing.T) {
	tr := NewTracker(failingStore{}, 0.8, windowPolicy(10))
	if _, err := tr.CheckAvailability(context.Background(), 1, []keyword.Provider{keyword.ProviderAdsMetrics}); err == nil {
		t.Error("Expected store error to surface")
	}
}
