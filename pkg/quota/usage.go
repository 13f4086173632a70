package quota

import (
	"context"
	"errors"
	"time"

	"keyword-enricher/pkg/keyword"
)

var (
	ErrNotFound        = errors.New("usage not found")
	ErrUnknownProvider = errors.New("provider has no quota policy")
)

// Model is how a provider limits usage
type Model string

const (
	// ModelWindow caps units per calendar month
	ModelWindow Model = "window"
	// ModelBalance draws cost from a prepaid balance
	ModelBalance Model = "balance"
)

// Unit is what one quota unit counts
type Unit string

const (
	UnitKeyword Unit = "keyword"
	UnitRequest Unit = "request"
)

// Policy is the quota configuration of one provider
type Policy struct {
	Provider keyword.Provider
	Model    Model
	Unit     Unit
	// BatchSize converts keywords into requests for UnitRequest
	BatchSize int
	// UnitsLimit is the monthly cap of a window provider; zero means unlimited
	UnitsLimit      int64
	StartingBalance float64
	CostPerUnit     float64
	// CostPerKeywordEstimate drives the remaining-keywords estimate of balance providers.
	// It approximates vendor pricing tiers and is not used for accounting.
	CostPerKeywordEstimate float64
}

// Usage is one provider's counters for the current accounting window
type Usage struct {
	Provider        keyword.Provider `json:"provider"`
	Model           Model            `json:"model"`
	UnitsUsed       int64            `json:"units_used"`
	UnitsLimit      int64            `json:"units_limit"`
	CostUsed        float64          `json:"cost_used"`
	Balance         float64          `json:"balance"`
	StartingBalance float64          `json:"starting_balance"`
	CostPerUnit     float64          `json:"cost_per_unit"`
	WindowStart     time.Time        `json:"window_start"`
	WindowEnd       time.Time        `json:"window_end"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Utilization returns the used fraction of the cap or balance, or 0 when unbounded
func (u *Usage) Utilization() float64 {
	switch u.Model {
	case ModelWindow:
		if u.UnitsLimit > 0 {
			return float64(u.UnitsUsed) / float64(u.UnitsLimit)
		}
	case ModelBalance:
		if u.StartingBalance > 0 {
			return (u.StartingBalance - u.Balance) / u.StartingBalance
		}
	}
	return 0
}

// UsageStore persists quota counters
type UsageStore interface {
	// ReadUsage returns ErrNotFound when the provider has no stored usage
	ReadUsage(ctx context.Context, provider keyword.Provider) (*Usage, error)
	WriteUsage(ctx context.Context, usage *Usage) error
}

// MonthWindow returns the calendar month containing t, in UTC
func MonthWindow(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
