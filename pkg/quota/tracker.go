package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"keyword-enricher/pkg/keyword"
	"keyword-enricher/pkg/logger"
)

// DefaultWarningThreshold is the utilization at which pre-flight warns
const DefaultWarningThreshold = 0.8

// Verdict is the pre-flight outcome for one provider
type Verdict struct {
	Provider      keyword.Provider `json:"provider"`
	CanProceed    bool             `json:"can_proceed"`
	Units         int64            `json:"units"`
	EstimatedCost float64          `json:"estimated_cost"`
	// RemainingUnits is -1 when the provider is unbounded
	RemainingUnits int64 `json:"remaining_units"`
	// RemainingKeywords estimates how many keywords the balance still covers
	RemainingKeywords int64  `json:"remaining_keywords,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// Availability is the aggregate pre-flight outcome
type Availability struct {
	CanProceed    bool                         `json:"can_proceed"`
	Warnings      []string                     `json:"warnings"`
	EstimatedCost float64                      `json:"estimated_cost"`
	Providers     map[keyword.Provider]Verdict `json:"providers"`
}

// Tracker owns the quota counters of every provider. Pre-flight checks never
// change counters; only RecordUsage does, after a call has completed.
type Tracker struct {
	store            UsageStore
	policies         map[keyword.Provider]Policy
	warningThreshold float64
	now              func() time.Time
	log              *logger.Logger

	mu sync.Mutex
}

func NewTracker(store UsageStore, warningThreshold float64, policies ...Policy) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if warningThreshold <= 0 || warningThreshold > 1 {
		warningThreshold = DefaultWarningThreshold
	}
	t := &Tracker{
		store:            store,
		policies:         make(map[keyword.Provider]Policy, len(policies)),
		warningThreshold: warningThreshold,
		now:              time.Now,
		log:              logger.GetLogger().WithField("component", "quota_tracker"),
	}
	for _, p := range policies {
		if p.Unit == "" {
			p.Unit = UnitKeyword
		}
		if p.Model == "" {
			p.Model = ModelWindow
		}
		t.policies[p.Provider] = p
	}
	return t
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Policy returns the policy of provider
func (t *Tracker) Policy(provider keyword.Provider) (Policy, bool) {
	p, ok := t.policies[provider]
	return p, ok
}

// Units converts a keyword count into the provider's quota units
func (t *Tracker) Units(provider keyword.Provider, keywordCount int) int64 {
	if keywordCount <= 0 {
		return 0
	}
	p, ok := t.policies[provider]
	if !ok || p.Unit != UnitRequest || p.BatchSize <= 0 {
		return int64(keywordCount)
	}
	return int64(math.Ceil(float64(keywordCount) / float64(p.BatchSize)))
}

// CheckAvailability is the pre-flight check for sending keywordCount keywords to
// each provider. A provider is blocked only when the request would certainly
// exceed its cap or balance. Providers without a policy are unbounded.
func (t *Tracker) CheckAvailability(ctx context.Context, keywordCount int, providers []keyword.Provider) (Availability, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := Availability{
		CanProceed: true,
		Warnings:   []string{},
		Providers:  make(map[keyword.Provider]Verdict, len(providers)),
	}

	for _, provider := range providers {
		verdict, err := t.verdict(ctx, provider, keywordCount)
		if err != nil {
			return result, err
		}
		result.Providers[provider] = verdict
		result.EstimatedCost += verdict.EstimatedCost
		if !verdict.CanProceed {
			result.CanProceed = false
			result.Warnings = append(result.Warnings, verdict.Reason)
		}
		if verdict.Warning != "" {
			result.Warnings = append(result.Warnings, verdict.Warning)
		}
	}
	return result, nil
}

// caller holds mu
func (t *Tracker) verdict(ctx context.Context, provider keyword.Provider, keywordCount int) (Verdict, error) {
	units := t.Units(provider, keywordCount)
	policy, ok := t.policies[provider]
	if !ok {
		return Verdict{Provider: provider, CanProceed: true, Units: units, RemainingUnits: -1}, nil
	}

	usage, err := t.load(ctx, policy)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{
		Provider:       provider,
		CanProceed:     true,
		Units:          units,
		EstimatedCost:  float64(units) * policy.CostPerUnit,
		RemainingUnits: -1,
	}

	switch policy.Model {
	case ModelWindow:
		if usage.UnitsLimit <= 0 {
			return v, nil
		}
		remaining := usage.UnitsLimit - usage.UnitsUsed
		if remaining < 0 {
			remaining = 0
		}
		v.RemainingUnits = remaining
		if units > remaining {
			v.CanProceed = false
			v.Reason = fmt.Sprintf("%s: request needs %d units but only %d of %d remain until %s",
				provider, units, remaining, usage.UnitsLimit, usage.WindowEnd.Format("2006-01-02"))
			return v, nil
		}
		projected := float64(usage.UnitsUsed+units) / float64(usage.UnitsLimit)
		if units > 0 && projected >= t.warningThreshold {
			v.Warning = fmt.Sprintf("%s: monthly quota at %.0f%% after this request (%d/%d units)",
				provider, projected*100, usage.UnitsUsed+units, usage.UnitsLimit)
		}

	case ModelBalance:
		perKeyword := policy.CostPerKeywordEstimate
		if perKeyword <= 0 {
			perKeyword = policy.CostPerUnit
		}
		if perKeyword > 0 {
			v.RemainingKeywords = int64(math.Max(0, usage.Balance) / perKeyword)
		}
		if policy.CostPerUnit > 0 {
			v.RemainingUnits = int64(math.Max(0, usage.Balance) / policy.CostPerUnit)
		}
		if v.EstimatedCost > usage.Balance {
			v.CanProceed = false
			v.Reason = fmt.Sprintf("%s: estimated cost %.4f exceeds remaining balance %.4f",
				provider, v.EstimatedCost, usage.Balance)
			return v, nil
		}
		if usage.StartingBalance > 0 && units > 0 {
			projected := (usage.StartingBalance - usage.Balance + v.EstimatedCost) / usage.StartingBalance
			if projected >= t.warningThreshold {
				v.Warning = fmt.Sprintf("%s: balance %.0f%% spent after this request (%.4f left, about %d keywords)",
					provider, projected*100, usage.Balance-v.EstimatedCost, v.RemainingKeywords)
			}
		}
	}
	return v, nil
}

// RecordUsage adds units and cost for a completed call. For balance providers
// the cost is drawn from the balance.
func (t *Tracker) RecordUsage(ctx context.Context, provider keyword.Provider, units int64, cost float64) error {
	if units < 0 || cost < 0 {
		return fmt.Errorf("negative usage for %s: units=%d cost=%f", provider, units, cost)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	policy, ok := t.policies[provider]
	if !ok {
		return nil
	}
	usage, err := t.load(ctx, policy)
	if err != nil {
		return err
	}

	before := usage.Utilization()
	usage.UnitsUsed += units
	usage.CostUsed += cost
	if policy.Model == ModelBalance {
		usage.Balance -= cost
	}
	usage.UpdatedAt = t.now()

	if err := t.store.WriteUsage(ctx, usage); err != nil {
		return fmt.Errorf("write usage for %s: %w", provider, err)
	}

	if after := usage.Utilization(); before < t.warningThreshold && after >= t.warningThreshold {
		t.log.WithFields(map[string]interface{}{
			"provider":    string(provider),
			"utilization": fmt.Sprintf("%.1f%%", after*100),
			"units_used":  usage.UnitsUsed,
			"balance":     usage.Balance,
		}).Warn("Quota warning threshold crossed")
	}
	return nil
}

// Usage returns the current counters of provider
func (t *Tracker) Usage(ctx context.Context, provider keyword.Provider) (Usage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	policy, ok := t.policies[provider]
	if !ok {
		return Usage{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	u, err := t.load(ctx, policy)
	if err != nil {
		return Usage{}, err
	}
	return *u, nil
}

// Snapshot returns the counters of every provider, ordered by name
func (t *Tracker) Snapshot(ctx context.Context) ([]Usage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Usage, 0, len(t.policies))
	for _, policy := range t.policies {
		u, err := t.load(ctx, policy)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// SetBalance records a top-up of a balance provider
func (t *Tracker) SetBalance(ctx context.Context, provider keyword.Provider, balance float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy, ok := t.policies[provider]
	if !ok || policy.Model != ModelBalance {
		return fmt.Errorf("%w: %s is not balance based", ErrUnknownProvider, provider)
	}
	usage, err := t.load(ctx, policy)
	if err != nil {
		return err
	}
	usage.Balance = balance
	usage.StartingBalance = balance
	usage.UpdatedAt = t.now()
	return t.store.WriteUsage(ctx, usage)
}

// RollOver resets every window whose end has passed and returns the providers it reset
func (t *Tracker) RollOver(ctx context.Context, now time.Time) ([]keyword.Provider, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rolled []keyword.Provider
	for provider, policy := range t.policies {
		usage, err := t.read(ctx, policy)
		if err != nil {
			return rolled, err
		}
		if usage.WindowEnd.IsZero() || now.Before(usage.WindowEnd) {
			continue
		}
		t.roll(usage, now)
		if err := t.store.WriteUsage(ctx, usage); err != nil {
			return rolled, fmt.Errorf("write usage for %s: %w", provider, err)
		}
		rolled = append(rolled, provider)
	}
	sort.Slice(rolled, func(i, j int) bool { return rolled[i] < rolled[j] })
	return rolled, nil
}

// load reads usage and rolls an expired window in memory. Caller holds mu.
func (t *Tracker) load(ctx context.Context, policy Policy) (*Usage, error) {
	usage, err := t.read(ctx, policy)
	if err != nil {
		return nil, err
	}
	if now := t.now(); !usage.WindowEnd.IsZero() && !now.Before(usage.WindowEnd) {
		t.roll(usage, now)
	}
	return usage, nil
}

func (t *Tracker) read(ctx context.Context, policy Policy) (*Usage, error) {
	usage, err := t.store.ReadUsage(ctx, policy.Provider)
	if errors.Is(err, ErrNotFound) {
		start, end := MonthWindow(t.now())
		return &Usage{
			Provider:        policy.Provider,
			Model:           policy.Model,
			UnitsLimit:      policy.UnitsLimit,
			Balance:         policy.StartingBalance,
			StartingBalance: policy.StartingBalance,
			CostPerUnit:     policy.CostPerUnit,
			WindowStart:     start,
			WindowEnd:       end,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage for %s: %w", policy.Provider, err)
	}
	// configuration changes apply to stored counters
	usage.Model = policy.Model
	usage.UnitsLimit = policy.UnitsLimit
	usage.CostPerUnit = policy.CostPerUnit
	return usage, nil
}

// roll starts a new monthly window. Balances carry over.
func (t *Tracker) roll(usage *Usage, now time.Time) {
	start, end := MonthWindow(now)
	t.log.WithFields(map[string]interface{}{
		"provider":     string(usage.Provider),
		"units_used":   usage.UnitsUsed,
		"window_start": start.Format(time.RFC3339),
	}).Info("Quota window rolled over")
	usage.UnitsUsed = 0
	usage.CostUsed = 0
	usage.WindowStart = start
	usage.WindowEnd = end
}
